// Package tick runs the simulation loop: drain commands, apply them, advance
// the engine, publish a snapshot, then pace to the target interval.
package tick

import (
	"context"
	"io"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
)

const DefaultInterval = time.Second

type Config struct {
	// Interval is the target wall-clock duration of one iteration. A slow
	// iteration delays the next one; there is no catch-up.
	Interval time.Duration
}

// StepResult describes one completed iteration. Snapshot is the value that was
// published to the store.
type StepResult struct {
	Tick     uint64
	Started  time.Time
	Commands []engine.Command
	Applied  engine.ApplyResult
	Snapshot engine.Snapshot
	Work     time.Duration
}

// Hooks run on the simulation goroutine. They must return promptly and never
// wait on network goroutines.
type Hooks struct {
	AfterStep func(StepResult)
}

// Metrics is a read-only view of driver state, safe to read from any goroutine.
type Metrics struct {
	Tick           uint64  `json:"tick"`
	Units          int     `json:"units"`
	StepMS         float64 `json:"step_ms"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CommandsTotal  uint64  `json:"commands_total"`
	ResetsTotal    uint64  `json:"resets_total"`
	SlowTicksTotal uint64  `json:"slow_ticks_total"`
}

// Driver owns the engine. After Run starts, nothing else may call into it.
type Driver struct {
	engine   *engine.Engine
	queue    *ingress.Queue
	store    *store.Store
	hooks    Hooks
	interval time.Duration
	log      *log.Logger

	now func() time.Time

	commandsTotal  uint64
	resetsTotal    uint64
	slowTicksTotal uint64

	metrics atomic.Value // Metrics
}

func NewDriver(e *engine.Engine, q *ingress.Queue, s *store.Store, cfg Config, hooks Hooks, logger *log.Logger) *Driver {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	d := &Driver{
		engine:   e,
		queue:    q,
		store:    s,
		hooks:    hooks,
		interval: interval,
		log:      logger,
		now:      time.Now,
	}
	d.metrics.Store(Metrics{Tick: e.Ticks()})
	return d
}

func (d *Driver) Interval() time.Duration { return d.interval }

// Run loops until ctx is done and returns ctx.Err(). The context is checked
// once per iteration and while pacing. Run pins itself to an OS thread so the
// simulation never shares a thread with network goroutines.
func (d *Driver) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	d.log.Printf("tick driver started interval=%s tick=%d", d.interval, d.engine.Ticks())
	for {
		if err := ctx.Err(); err != nil {
			d.shutdown(err)
			return err
		}

		start := d.now()
		res := d.iterate(start)

		if res.Work < d.interval {
			sleepCtx(ctx, d.interval-res.Work)
		} else {
			d.slowTicksTotal++
			d.log.Printf("slow tick=%d work=%s interval=%s", res.Tick, res.Work, d.interval)
		}

		elapsed := d.now().Sub(start).Seconds()
		d.engine.SetElapsedSeconds(elapsed)
		d.storeMetrics(res, elapsed)
	}
}

// shutdown closes the queue and runs one last unpaced iteration when commands
// were accepted after the previous drain. Every accepted command is applied.
func (d *Driver) shutdown(cause error) {
	d.queue.Close()
	if pending := d.queue.Len(); pending > 0 {
		res := d.iterate(d.now())
		d.storeMetrics(res, d.engine.ElapsedSeconds())
		d.log.Printf("tick driver final drain tick=%d commands=%d", res.Tick, len(res.Commands))
	}
	d.log.Printf("tick driver stopped tick=%d left_in_queue=%d: %v", d.engine.Ticks(), d.queue.Len(), cause)
}

// Step runs a single iteration without pacing and without touching
// ElapsedSeconds. It must not be called concurrently with Run.
func (d *Driver) Step() StepResult {
	res := d.iterate(d.now())
	d.storeMetrics(res, d.engine.ElapsedSeconds())
	return res
}

func (d *Driver) iterate(start time.Time) StepResult {
	cmds := d.queue.DrainAvailable()
	applied := d.engine.Apply(cmds)
	if applied.Resets > 0 {
		d.resetsTotal += uint64(applied.Resets)
		d.log.Printf("world reset tick=%d resets=%d discarded=%d", d.engine.Ticks(), applied.Resets, applied.Discarded)
	}
	d.commandsTotal += uint64(len(cmds))

	d.engine.Advance()
	snap := d.engine.Snapshot()
	d.store.Publish(snap)

	res := StepResult{
		Tick:     snap.Tick(),
		Started:  start,
		Commands: cmds,
		Applied:  applied,
		Snapshot: snap,
	}
	if d.hooks.AfterStep != nil {
		res.Work = d.now().Sub(start)
		d.hooks.AfterStep(res)
	}
	res.Work = d.now().Sub(start)
	return res
}

func (d *Driver) storeMetrics(res StepResult, elapsed float64) {
	d.metrics.Store(Metrics{
		Tick:           res.Tick,
		Units:          res.Snapshot.Len(),
		StepMS:         float64(res.Work.Microseconds()) / 1000,
		ElapsedSeconds: elapsed,
		CommandsTotal:  d.commandsTotal,
		ResetsTotal:    d.resetsTotal,
		SlowTicksTotal: d.slowTicksTotal,
	})
}

func (d *Driver) Metrics() Metrics {
	m, _ := d.metrics.Load().(Metrics)
	return m
}

// sleepCtx waits for dur or until ctx is done.
func sleepCtx(ctx context.Context, dur time.Duration) {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
