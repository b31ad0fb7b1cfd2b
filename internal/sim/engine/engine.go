// Package engine owns the authoritative world and advances it one pipeline
// pass at a time. An Engine is not safe for concurrent use: it is created,
// driven and read by the single simulation goroutine.
package engine

import "fmt"

// System is one step of the pipeline. It has exclusive access to the world and
// resources for the duration of Run.
type System struct {
	Name string
	Run  func(w *World, res *Resources)
}

// ApplyResult summarizes what Apply did with a batch.
type ApplyResult struct {
	Staged    int
	Discarded int
	Resets    int
}

type Engine struct {
	world     *World
	resources *Resources
	pipeline  []System
}

// New creates an engine with an empty world, a TimeState resource and the
// given pipeline, executed in order on every Advance.
func New(pipeline ...System) *Engine {
	for i, sys := range pipeline {
		if sys.Run == nil {
			panic(&FatalError{Reason: fmt.Sprintf("pipeline system %d (%q) has no Run func", i, sys.Name)})
		}
	}
	res := NewResources()
	Insert(res, &TimeState{})
	return &Engine{
		world:     NewWorld(),
		resources: res,
		pipeline:  append([]System(nil), pipeline...),
	}
}

// Apply consumes a drained batch in arrival order.
//
// A Reset anywhere in the batch replaces the world with a fresh empty one and
// drops every mutation in the batch, whether it came before or after the Reset:
// those mutations were staged against a world that no longer exists. Mutations
// staged by earlier Apply calls that have not been advanced yet go with the old
// world as well. TimeState is left untouched.
func (e *Engine) Apply(cmds []Command) ApplyResult {
	var r ApplyResult
	for _, c := range cmds {
		if c.IsReset() {
			r.Resets++
		}
	}
	if r.Resets > 0 {
		e.world = NewWorld()
		r.Discarded = len(cmds) - r.Resets
		return r
	}
	for _, c := range cmds {
		if c.Kind != KindMutate {
			r.Discarded++
			continue
		}
		e.world.stage(c.Payload)
		r.Staged++
	}
	return r
}

// Advance runs the pipeline once, drops the consumed events and bumps Ticks.
func (e *Engine) Advance() {
	for _, sys := range e.pipeline {
		sys.Run(e.world, e.resources)
	}
	e.world.clearEvents()
	MustGet[TimeState](e.resources).Ticks++
}

// Snapshot projects the current world. It does not modify any state.
func (e *Engine) Snapshot() Snapshot {
	units := make(map[string]Unit, len(e.world.units))
	for id, u := range e.world.units {
		units[id] = u.project()
	}
	return Snapshot{tick: e.Ticks(), units: units}
}

// SetElapsedSeconds records the duration of the last full tick iteration for
// the next pipeline pass.
func (e *Engine) SetElapsedSeconds(seconds float64) {
	MustGet[TimeState](e.resources).ElapsedSeconds = seconds
}

func (e *Engine) Ticks() uint64 { return MustGet[TimeState](e.resources).Ticks }

func (e *Engine) ElapsedSeconds() float64 {
	return MustGet[TimeState](e.resources).ElapsedSeconds
}

func (e *Engine) World() *World { return e.world }

func (e *Engine) Resources() *Resources { return e.resources }
