package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"skirmish.io/internal/persistence/ticklog"
)

func openTest(t *testing.T, runID string) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path, runID)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: ticklog.Entry{Tick: 1}}

	s.WriteTick(ticklog.Entry{Tick: 2})
	s.WriteTick(ticklog.Entry{Tick: 3})

	st := s.Stats()
	if st.DropTickTotal != 2 {
		t.Fatalf("DropTickTotal=%d want=2", st.DropTickTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecentTicksNewestFirst(t *testing.T) {
	s, _ := openTest(t, "run-a")
	for i := uint64(1); i <= 5; i++ {
		e := ticklog.Entry{Tick: i, UnixMS: int64(i) * 1000, Digest: "d", Units: int(i), Staged: 1}
		if i == 3 {
			e.Resets = 1
			e.Units = 0
			e.Commands = []ticklog.CommandEntry{{Kind: "RESET"}}
		}
		if i == 4 {
			e.Commands = []ticklog.CommandEntry{
				{Kind: "MUTATE", Payload: "SPAWN", UnitID: "u1", Data: map[string]any{"id": "u1"}},
				{Kind: "MUTATE", Payload: "MOVE", UnitID: "u1", Data: map[string]any{"id": "u1"}},
			}
		}
		s.WriteTick(e)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	rows, err := s.RecentTicks(ctx, 3)
	if err != nil {
		t.Fatalf("RecentTicks: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%d want=3", len(rows))
	}
	if rows[0].Tick != 5 || rows[2].Tick != 3 {
		t.Fatalf("order: %+v", rows)
	}
	if rows[2].Resets != 1 || rows[2].Commands != 1 || rows[1].Commands != 2 {
		t.Fatalf("counts: %+v", rows)
	}
	if n, err := s.UnitCommandCount(ctx, "u1"); err != nil || n != 2 {
		t.Fatalf("UnitCommandCount=%d err=%v", n, err)
	}
	if st := s.Stats(); st.WrittenTickTotal != 5 || st.DropTickTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSQLiteIndex_RunsDoNotCollide(t *testing.T) {
	s, path := openTest(t, "run-a")
	s.WriteTick(ticklog.Entry{Tick: 1, Digest: "a"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenSQLite(path, "run-b")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	s2.WriteTick(ticklog.Entry{Tick: 1, Digest: "b"})
	ctx := context.Background()
	if err := s2.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	rows, err := s2.RecentTicks(ctx, 10)
	if err != nil {
		t.Fatalf("RecentTicks: %v", err)
	}
	if len(rows) != 1 || rows[0].Digest != "b" || rows[0].RunID != "run-b" {
		t.Fatalf("rows=%+v", rows)
	}
	var total int
	if err := s2.db.QueryRow(`SELECT COUNT(*) FROM ticks`).Scan(&total); err != nil || total != 2 {
		t.Fatalf("total=%d err=%v", total, err)
	}
}

func TestSQLiteIndex_RolledBackTicksAreNotCountedAsWritten(t *testing.T) {
	s, _ := openTest(t, "run-a")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.WriteTick(ticklog.Entry{Tick: 1, Digest: "a"})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if st := s.Stats(); st.WrittenTickTotal != 1 {
		t.Fatalf("after first commit stats=%+v", st)
	}

	// Break command inserts so the next batch has to roll back.
	if _, err := s.db.ExecContext(ctx, `DROP TABLE commands`); err != nil {
		t.Fatalf("drop commands: %v", err)
	}
	s.WriteTick(ticklog.Entry{Tick: 2, Digest: "b"})
	s.WriteTick(ticklog.Entry{Tick: 3, Digest: "c", Commands: []ticklog.CommandEntry{{Kind: "RESET"}}})
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	st := s.Stats()
	if st.WrittenTickTotal != 1 || st.DropTickTotal != 2 || st.WriteErrorTotal == 0 {
		t.Fatalf("stats=%+v want written=1 dropped=2", st)
	}
	rows, err := s.RecentTicks(ctx, 10)
	if err != nil || len(rows) != 1 || rows[0].Tick != 1 {
		t.Fatalf("rows=%+v err=%v", rows, err)
	}
}

func TestSQLiteIndex_WritesAfterCloseAreIgnored(t *testing.T) {
	s, _ := openTest(t, "run-a")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.WriteTick(ticklog.Entry{Tick: 9})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush after close: %v", err)
	}
	if st := s.Stats(); st.DropTickTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestOpenSQLite_RequiresPathAndRun(t *testing.T) {
	if _, err := OpenSQLite("", "r"); err == nil {
		t.Fatalf("expected empty path error")
	}
	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "x.sqlite"), ""); err == nil {
		t.Fatalf("expected empty run id error")
	}
}
