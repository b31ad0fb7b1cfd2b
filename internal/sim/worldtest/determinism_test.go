package worldtest

import (
	"testing"

	"skirmish.io/internal/sim/systems"
)

func TestDeterminism_FixedCommandsSameDigest(t *testing.T) {
	cfg := systems.Config{UnitSpeed: 1.5, ArriveEpsilon: 0.01}
	h1 := NewHarness(t, cfg)
	h2 := NewHarness(t, cfg)

	script := func(h *Harness, i int) {
		switch i {
		case 0:
			h.Spawn("a", 0, 0)
			h.Spawn("b", 10, -4)
		case 3:
			h.Move("a", 7, 7)
		case 5:
			h.Move("b", -3, 2)
			h.Spawn("c", 1, 1)
		case 20:
			h.Despawn("c")
		}
	}

	for i := 0; i < 40; i++ {
		script(h1, i)
		script(h2, i)
		h1.Step()
		h2.Step()
		if d1, d2 := h1.Digest(), h2.Digest(); d1 != d2 {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", h1.Last().Tick(), d1, d2)
		}
	}
	if h1.Last().Tick() != 40 {
		t.Fatalf("tick=%d want=40", h1.Last().Tick())
	}
}

func TestDeterminism_DifferentElapsedDiverges(t *testing.T) {
	cfg := systems.Config{UnitSpeed: 1}
	h1 := NewHarness(t, cfg)
	h2 := NewHarness(t, cfg)
	h2.Elapsed = 0.5

	for _, h := range []*Harness{h1, h2} {
		h.Spawn("a", 0, 0)
		h.Step()
		h.Move("a", 10, 0)
		h.StepFor(2)
	}
	if h1.Digest() == h2.Digest() {
		t.Fatalf("expected elapsed time to change the outcome")
	}
	if h1.Unit("a").Position.X <= h2.Unit("a").Position.X {
		t.Fatalf("h1 x=%v should be ahead of h2 x=%v", h1.Unit("a").Position.X, h2.Unit("a").Position.X)
	}
}
