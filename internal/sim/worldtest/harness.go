// Package worldtest drives the simulation through its public surfaces: CMD
// messages go through the protocol layer into the ingress queue, and results
// are read back from the snapshot store.
package worldtest

import (
	"errors"
	"fmt"
	"testing"

	"skirmish.io/internal/protocol"
	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
	"skirmish.io/internal/sim/systems"
	"skirmish.io/internal/sim/tick"
)

// Harness is a small black-box test helper:
//   - Send/Spawn/Move/Despawn/Reset enqueue commands like a network client would
//   - Step runs one unpaced driver iteration with a fixed elapsed time
//   - Last/Unit read the published snapshot
type Harness struct {
	T      *testing.T
	Engine *engine.Engine
	Queue  *ingress.Queue
	Store  *store.Store
	Driver *tick.Driver

	// Elapsed is fed to the engine before every Step, standing in for the
	// paced wall-clock duration of the previous iteration.
	Elapsed float64

	steps []tick.StepResult
}

func NewHarness(t *testing.T, cfg systems.Config) *Harness {
	t.Helper()
	e := systems.NewEngine(cfg)
	q := ingress.New(ingress.DefaultCapacity)
	s := store.New(e.Snapshot())
	h := &Harness{T: t, Engine: e, Queue: q, Store: s, Elapsed: 1}
	h.Driver = tick.NewDriver(e, q, s, tick.Config{}, tick.Hooks{AfterStep: func(res tick.StepResult) {
		h.steps = append(h.steps, res)
	}}, nil)
	return h
}

// Send parses raw as a CMD message and queues it. It returns the target unit id.
func (h *Harness) Send(raw string) string {
	h.T.Helper()
	m, err := protocol.ParseCmd([]byte(raw))
	if err != nil {
		h.T.Fatalf("ParseCmd(%s): %v", raw, err)
	}
	cmd, id, err := protocol.ToCommand(m.Cmd)
	if err != nil {
		h.T.Fatalf("ToCommand: %v", err)
	}
	if err := h.Queue.TrySend(cmd); err != nil {
		h.T.Fatalf("TrySend: %v", err)
	}
	return id
}

func (h *Harness) Spawn(id string, x, y float64) string {
	return h.Send(fmt.Sprintf(`{"type":"CMD","cmd":{"kind":"SPAWN","id":%q,"position":[%g,%g]}}`, id, x, y))
}

func (h *Harness) Move(id string, x, y float64) {
	h.Send(fmt.Sprintf(`{"type":"CMD","cmd":{"kind":"MOVE","id":%q,"destination":[%g,%g]}}`, id, x, y))
}

func (h *Harness) Despawn(id string) {
	h.Send(fmt.Sprintf(`{"type":"CMD","cmd":{"kind":"DESPAWN","id":%q}}`, id))
}

func (h *Harness) Reset() {
	h.Send(`{"type":"CMD","cmd":{"kind":"RESET"}}`)
}

// TrySend queues cmd and returns the queue error instead of failing the test.
func (h *Harness) TrySend(cmd engine.Command) error { return h.Queue.TrySend(cmd) }

func (h *Harness) Step() engine.Snapshot {
	h.T.Helper()
	h.Engine.SetElapsedSeconds(h.Elapsed)
	h.Driver.Step()
	return h.Store.Read()
}

func (h *Harness) StepFor(n int) engine.Snapshot {
	h.T.Helper()
	var snap engine.Snapshot
	for i := 0; i < n; i++ {
		snap = h.Step()
	}
	return snap
}

func (h *Harness) Last() engine.Snapshot { return h.Store.Read() }

func (h *Harness) Unit(id string) engine.Unit {
	h.T.Helper()
	u, ok := h.Last().Unit(id)
	if !ok {
		h.T.Fatalf("unit %q not in snapshot tick=%d ids=%v", id, h.Last().Tick(), h.Last().IDs())
	}
	return u
}

func (h *Harness) HasUnit(id string) bool {
	_, ok := h.Last().Unit(id)
	return ok
}

func (h *Harness) Digest() string { return engine.Digest(h.Last()) }

// Steps returns every StepResult observed so far.
func (h *Harness) Steps() []tick.StepResult { return h.steps }

func (h *Harness) Stats() systems.CommandStats {
	st, ok := engine.Get[systems.CommandStats](h.Engine.Resources())
	if !ok {
		h.T.Fatalf("CommandStats resource missing")
	}
	return *st
}

// FillQueue sends resets until the queue reports backpressure and returns how
// many were accepted.
func (h *Harness) FillQueue() int {
	h.T.Helper()
	n := 0
	for {
		err := h.Queue.TrySend(engine.Reset())
		if errors.Is(err, ingress.ErrBackpressure) {
			return n
		}
		if err != nil {
			h.T.Fatalf("TrySend: %v", err)
		}
		n++
	}
}
