package worldtest

import (
	"testing"

	"skirmish.io/internal/sim/systems"
)

func TestReset_MidScenarioClearsUnitsKeepsTicks(t *testing.T) {
	h := NewHarness(t, systems.Config{UnitSpeed: 1})
	h.Spawn("a", 5, 5)
	h.Spawn("b", 1, 1)
	h.StepFor(3)
	if h.Last().Len() != 2 {
		t.Fatalf("units=%d want=2", h.Last().Len())
	}

	h.Reset()
	snap := h.Step()
	if snap.Len() != 0 {
		t.Fatalf("units after reset=%v", snap.IDs())
	}
	if snap.Tick() != 4 {
		t.Fatalf("tick=%d want=4", snap.Tick())
	}

	// The world is usable again after the reset.
	h.Spawn("a", 0, 0)
	if h.Step().Len() != 1 {
		t.Fatalf("expected respawn to succeed")
	}
}

func TestReset_DiscardsCommandsQueuedWithIt(t *testing.T) {
	h := NewHarness(t, systems.Config{UnitSpeed: 1})
	h.Spawn("before", 0, 0)
	h.Reset()
	h.Spawn("after", 1, 1)
	snap := h.Step()
	if snap.Len() != 0 {
		t.Fatalf("units=%v want none", snap.IDs())
	}
	steps := h.Steps()
	last := steps[len(steps)-1]
	if last.Applied.Resets != 1 || last.Applied.Discarded != 2 {
		t.Fatalf("applied=%+v", last.Applied)
	}
}

func TestQueue_BackpressureThenRecovery(t *testing.T) {
	h := NewHarness(t, systems.Config{UnitSpeed: 1})
	if n := h.FillQueue(); n != 1000 {
		t.Fatalf("accepted=%d want=1000", n)
	}
	h.Step()
	if h.Queue.Len() != 0 {
		t.Fatalf("queue len=%d after drain", h.Queue.Len())
	}
	h.Spawn("a", 0, 0)
	if h.Step().Len() != 1 {
		t.Fatalf("expected spawn after recovery")
	}
}
