package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skirmish.io/internal/persistence/ticklog"
	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/ingress"
	"skirmish.io/internal/sim/store"
	"skirmish.io/internal/sim/systems"
	"skirmish.io/internal/sim/tick"
	"skirmish.io/internal/sim/tuning"
)

func TestApplyFlags_OverrideTuning(t *testing.T) {
	tune := tuning.Defaults()
	applyFlags(&tune, "127.0.0.1:1", "/tmp/x", 250, "https://h/", true, false)
	if tune.Net.Addr != "127.0.0.1:1" || tune.Data.Dir != "/tmp/x" {
		t.Fatalf("net/data=%+v %+v", tune.Net, tune.Data)
	}
	if tune.TickInterval() != 250*time.Millisecond {
		t.Fatalf("interval=%s", tune.TickInterval())
	}
	if tune.Net.PublicURL != "https://h" || tune.Data.IndexDB || !tune.Data.TickLog {
		t.Fatalf("tuning=%+v", tune)
	}

	untouched := tuning.Defaults()
	applyFlags(&untouched, "", " ", 0, "", false, false)
	if untouched != tuning.Defaults() {
		t.Fatalf("empty flags changed tuning: %+v", untouched)
	}
}

func TestRecorder_WritesLogAndIndex(t *testing.T) {
	tune := tuning.Defaults()
	tune.Data.Dir = t.TempDir()

	rec, err := openRecorder(tune, "run-1", nil)
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}

	e := systems.NewEngine(tune.SystemsConfig())
	q := ingress.New(8)
	s := store.New(e.Snapshot())
	d := tick.NewDriver(e, q, s, tick.Config{Interval: time.Millisecond}, tick.Hooks{AfterStep: rec.AfterStep}, nil)

	_ = q.TrySend(engine.Mutate(systems.SpawnUnit{ID: "a", Position: engine.Vec2{X: 1, Y: 1}}))
	d.Step()
	_ = q.TrySend(engine.Reset())
	d.Step()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.index.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rows, err := rec.index.RecentTicks(ctx, 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows=%+v err=%v", rows, err)
	}
	if rows[0].Resets != 1 || rows[1].Units != 1 {
		t.Fatalf("rows=%+v", rows)
	}
	rec.Close()

	files, err := ticklog.Files(filepath.Join(tune.Data.Dir, "ticks"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	entries, err := ticklog.ReadFile(files[0])
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries=%d err=%v", len(entries), err)
	}
	if entries[0].Digest != rows[1].Digest {
		t.Fatalf("digest mismatch log=%s index=%s", entries[0].Digest, rows[1].Digest)
	}
}

func TestRecorder_Disabled(t *testing.T) {
	tune := tuning.Defaults()
	tune.Data.Dir = t.TempDir()
	tune.Data.TickLog = false
	tune.Data.IndexDB = false
	rec, err := openRecorder(tune, "run-1", nil)
	if err != nil {
		t.Fatalf("openRecorder: %v", err)
	}
	rec.AfterStep(tick.StepResult{Tick: 1})
	rec.Close()
}
