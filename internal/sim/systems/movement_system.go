package systems

import "skirmish.io/internal/sim/engine"

// MovementSystem walks every unit toward its destination at MovementConfig.Speed
// units per second, scaled by the last measured tick duration.
func MovementSystem() engine.System {
	return engine.System{Name: "movement", Run: runMovement}
}

func runMovement(w *engine.World, res *engine.Resources) {
	cfg := engine.MustGet[MovementConfig](res)
	clock := engine.MustGet[engine.TimeState](res)

	step := cfg.Speed * clock.ElapsedSeconds
	w.Range(func(u *engine.UnitState) bool {
		if !u.HasDestination {
			return true
		}
		dist := u.Position.DistanceTo(u.Destination)
		if dist <= cfg.ArriveEpsilon || dist <= step {
			u.Position = u.Destination
			return true
		}
		if step <= 0 {
			return true
		}
		dir := u.Destination.Sub(u.Position).Scale(1 / dist)
		u.Position = cfg.Bounds.Clamp(u.Position.Add(dir.Scale(step)))
		return true
	})
}
