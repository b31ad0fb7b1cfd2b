package systems

import "skirmish.io/internal/sim/engine"

// CommandSystem applies staged mutation payloads to the world in arrival order.
func CommandSystem() engine.System {
	return engine.System{Name: "commands", Run: runCommands}
}

func runCommands(w *engine.World, res *engine.Resources) {
	cfg := engine.MustGet[MovementConfig](res)
	stats := engine.MustGet[CommandStats](res)

	for _, ev := range w.Events() {
		switch p := ev.(type) {
		case SpawnUnit:
			u, ok := w.Spawn(p.ID, cfg.Bounds.Clamp(p.Position))
			if !ok {
				stats.Rejected++
				continue
			}
			if p.HasDestination {
				u.Destination = cfg.Bounds.Clamp(p.Destination)
				u.HasDestination = true
			}
			stats.Spawned++
		case MoveUnit:
			if !w.SetDestination(p.ID, cfg.Bounds.Clamp(p.Destination)) {
				stats.Rejected++
				continue
			}
			stats.Moved++
		case DespawnUnit:
			if !w.Despawn(p.ID) {
				stats.Rejected++
				continue
			}
			stats.Despawned++
		default:
			stats.Unknown++
		}
	}
}
