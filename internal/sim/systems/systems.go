// Package systems holds the pipeline steps run by the engine every tick.
package systems

import "skirmish.io/internal/sim/engine"

// Bounds limits where units may stand or travel to. The zero value disables it.
type Bounds struct {
	Min engine.Vec2
	Max engine.Vec2
}

func (b Bounds) Enabled() bool { return b.Max.X > b.Min.X && b.Max.Y > b.Min.Y }

func (b Bounds) Clamp(v engine.Vec2) engine.Vec2 {
	if !b.Enabled() {
		return v
	}
	return engine.Vec2{X: clamp(v.X, b.Min.X, b.Max.X), Y: clamp(v.Y, b.Min.Y, b.Max.Y)}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MovementConfig is a resource read by MovementSystem and CommandSystem.
type MovementConfig struct {
	Speed         float64
	ArriveEpsilon float64
	Bounds        Bounds
}

// CommandStats counts how CommandSystem handled payloads since startup.
// It is a resource and therefore survives world resets.
type CommandStats struct {
	Spawned   uint64
	Moved     uint64
	Despawned uint64
	Rejected  uint64
	Unknown   uint64
}

type Config struct {
	UnitSpeed     float64
	ArriveEpsilon float64
	Bounds        Bounds
}

// Install inserts the resources the default pipeline needs.
func Install(res *engine.Resources, cfg Config) {
	engine.Insert(res, &MovementConfig{
		Speed:         cfg.UnitSpeed,
		ArriveEpsilon: cfg.ArriveEpsilon,
		Bounds:        cfg.Bounds,
	})
	engine.Insert(res, &CommandStats{})
}

// Default is the production pipeline: commands first, then movement.
func Default() []engine.System {
	return []engine.System{CommandSystem(), MovementSystem()}
}

// NewEngine builds an engine running the default pipeline with its resources installed.
func NewEngine(cfg Config) *engine.Engine {
	e := engine.New(Default()...)
	Install(e.Resources(), cfg)
	return e
}
