package tick

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
	"skirmish.io/internal/sim/systems"
)

type harness struct {
	engine *engine.Engine
	queue  *ingress.Queue
	store  *store.Store
	driver *Driver
}

func newHarness(t *testing.T, interval time.Duration, hooks Hooks) *harness {
	t.Helper()
	e := systems.NewEngine(systems.Config{UnitSpeed: 1, ArriveEpsilon: 0.001})
	q := ingress.New(16)
	s := store.New(e.Snapshot())
	return &harness{
		engine: e,
		queue:  q,
		store:  s,
		driver: NewDriver(e, q, s, Config{Interval: interval}, hooks, nil),
	}
}

func TestStep_TicksAdvanceOncePerIteration(t *testing.T) {
	h := newHarness(t, time.Millisecond, Hooks{})
	start := h.engine.Ticks()
	const n = 10
	for i := 0; i < n; i++ {
		h.driver.Step()
	}
	if got := h.engine.Ticks(); got != start+n {
		t.Fatalf("ticks=%d want=%d", got, start+n)
	}
	if got := h.store.Tick(); got != start+n {
		t.Fatalf("published tick=%d want=%d", got, start+n)
	}
	if got := h.driver.Metrics().Tick; got != start+n {
		t.Fatalf("metrics tick=%d want=%d", got, start+n)
	}
}

func TestStep_SpawnThenResetThroughQueue(t *testing.T) {
	h := newHarness(t, time.Millisecond, Hooks{})

	spawn := systems.SpawnUnit{
		ID:             "u1",
		Position:       engine.Vec2{X: 5, Y: 5},
		Destination:    engine.Vec2{X: 5, Y: 5},
		HasDestination: true,
	}
	if err := h.queue.TrySend(engine.Mutate(spawn)); err != nil {
		t.Fatalf("send spawn: %v", err)
	}
	h.driver.Step()

	snap := h.store.Read()
	if snap.Len() != 1 {
		t.Fatalf("units=%d want=1", snap.Len())
	}
	u, _ := snap.Unit("u1")
	if u.Position != (engine.Vec2{X: 5, Y: 5}) || u.Destination != (engine.Vec2{X: 5, Y: 5}) {
		t.Fatalf("unit=%+v", u)
	}

	if err := h.queue.TrySend(engine.Reset()); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	res := h.driver.Step()
	if res.Applied.Resets != 1 {
		t.Fatalf("applied=%+v want one reset", res.Applied)
	}
	if got := h.store.Read().Len(); got != 0 {
		t.Fatalf("units after reset=%d want=0", got)
	}
	if m := h.driver.Metrics(); m.ResetsTotal != 1 || m.CommandsTotal != 2 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestStep_HookSeesDrainedBatch(t *testing.T) {
	var got []StepResult
	h := newHarness(t, time.Millisecond, Hooks{AfterStep: func(r StepResult) { got = append(got, r) }})
	_ = h.queue.TrySend(engine.Mutate(systems.SpawnUnit{ID: "a"}))
	_ = h.queue.TrySend(engine.Mutate(systems.SpawnUnit{ID: "b"}))
	h.driver.Step()
	h.driver.Step()

	if len(got) != 2 {
		t.Fatalf("hook calls=%d want=2", len(got))
	}
	if len(got[0].Commands) != 2 || got[0].Applied.Staged != 2 {
		t.Fatalf("first step: commands=%d applied=%+v", len(got[0].Commands), got[0].Applied)
	}
	if len(got[1].Commands) != 0 {
		t.Fatalf("second step re-delivered %d commands", len(got[1].Commands))
	}
	if got[0].Snapshot.Len() != 2 || got[0].Tick != got[0].Snapshot.Tick() {
		t.Fatalf("hook snapshot mismatch: len=%d tick=%d snapTick=%d", got[0].Snapshot.Len(), got[0].Tick, got[0].Snapshot.Tick())
	}
}

func TestRun_PacesAndStopsOnCancel(t *testing.T) {
	const interval = 20 * time.Millisecond
	h := newHarness(t, interval, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.Run(ctx) }()

	time.Sleep(10*interval + interval/2)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err=%v want=%v", err, context.Canceled)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}

	m := h.driver.Metrics()
	if m.Tick < 3 || m.Tick > 13 {
		t.Fatalf("tick=%d, want roughly 10 iterations at %s", m.Tick, interval)
	}
	if m.ElapsedSeconds < interval.Seconds()*0.75 {
		t.Fatalf("elapsed=%f, want about %f (paced iteration)", m.ElapsedSeconds, interval.Seconds())
	}
	if err := h.queue.TrySend(engine.Reset()); !errors.Is(err, ingress.ErrClosed) {
		t.Fatalf("queue still open after stop: %v", err)
	}
}

func TestRun_ShutdownAppliesCommandsAcceptedDuringLastSleep(t *testing.T) {
	const interval = 200 * time.Millisecond
	var mu sync.Mutex
	var steps []StepResult
	h := newHarness(t, interval, Hooks{AfterStep: func(r StepResult) {
		mu.Lock()
		steps = append(steps, r)
		mu.Unlock()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.Run(ctx) }()

	// Wait for the first iteration, so the driver is pacing when the spawn lands.
	deadline := time.Now().Add(2 * time.Second)
	for h.store.Published() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := h.queue.TrySend(engine.Mutate(systems.SpawnUnit{ID: "late"})); err != nil {
		t.Fatalf("send: %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err=%v", err)
	}

	if _, ok := h.store.Read().Unit("late"); !ok {
		t.Fatalf("command accepted before shutdown was never applied")
	}
	st := h.queue.Stats()
	if st.Depth != 0 || st.Drained != st.Accepted {
		t.Fatalf("queue stats after stop: %+v", st)
	}
	mu.Lock()
	last := steps[len(steps)-1]
	mu.Unlock()
	if len(last.Commands) != 1 || last.Tick != h.store.Tick() {
		t.Fatalf("final step commands=%d tick=%d published=%d", len(last.Commands), last.Tick, h.store.Tick())
	}
}

func TestRun_ShutdownWithEmptyQueueAddsNoTick(t *testing.T) {
	h := newHarness(t, 200*time.Millisecond, Hooks{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.driver.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for h.store.Published() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	if got := h.store.Tick(); got != 1 {
		t.Fatalf("tick=%d want=1", got)
	}
}

func TestRun_SlowTickDelaysWithoutCatchUp(t *testing.T) {
	const interval = 5 * time.Millisecond
	const work = 25 * time.Millisecond
	var mu sync.Mutex
	calls := 0
	h := newHarness(t, interval, Hooks{AfterStep: func(StepResult) {
		time.Sleep(work)
		mu.Lock()
		calls++
		mu.Unlock()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 8*work)
	defer cancel()
	_ = h.driver.Run(ctx)

	mu.Lock()
	n := calls
	mu.Unlock()
	if n > 10 {
		t.Fatalf("iterations=%d; a slow tick must not trigger catch-up", n)
	}
	m := h.driver.Metrics()
	if m.SlowTicksTotal == 0 {
		t.Fatalf("expected slow ticks to be counted")
	}
	if m.ElapsedSeconds < work.Seconds() {
		t.Fatalf("elapsed=%f want >= %f", m.ElapsedSeconds, work.Seconds())
	}
}

func TestRun_ElapsedFeedsNextPipelinePass(t *testing.T) {
	const interval = 10 * time.Millisecond
	h := newHarness(t, interval, Hooks{})
	_ = h.queue.TrySend(engine.Mutate(systems.SpawnUnit{
		ID:             "walker",
		Destination:    engine.Vec2{X: 1000},
		HasDestination: true,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 12*interval)
	defer cancel()
	_ = h.driver.Run(ctx)

	u, ok := h.store.Read().Unit("walker")
	if !ok {
		t.Fatalf("walker missing")
	}
	// speed 1 unit/s: the unit covers roughly the wall-clock time spent after its first tick.
	if u.Position.X <= 0 || u.Position.X > 1 {
		t.Fatalf("walker x=%f, want a small positive distance", u.Position.X)
	}
}
