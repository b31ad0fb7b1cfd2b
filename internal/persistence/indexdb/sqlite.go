// Package indexdb keeps a queryable SQLite index of recorded ticks. Writes go
// through a buffered channel to a single writer goroutine and are dropped when
// it falls behind; the tick log stays the complete record.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"skirmish.io/internal/persistence/ticklog"
)

const (
	defaultQueue       = 4096
	defaultCommitEvery = 500
	defaultCommitWait  = time.Second

	// Fixed width so started_at sorts lexically.
	startedAtLayout = "2006-01-02T15:04:05.000000000Z"
)

type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	commitEvery int
	commitWait  time.Duration

	writtenTicks atomic.Uint64
	dropTicks    atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqFlush
)

type req struct {
	kind reqKind

	tick ticklog.Entry
	done chan struct{}
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	WrittenTickTotal uint64 `json:"written_tick_total"`
	DropTickTotal    uint64 `json:"drop_tick_total"`
	WriteErrorTotal  uint64 `json:"write_error_total"`
}

// TickRow is one row of the ticks table.
type TickRow struct {
	RunID     string  `json:"run_id"`
	Tick      uint64  `json:"tick"`
	UnixMS    int64   `json:"unix_ms"`
	Digest    string  `json:"digest"`
	Units     int     `json:"units"`
	Commands  int     `json:"commands"`
	Resets    int     `json:"resets"`
	Staged    int     `json:"staged"`
	Discarded int     `json:"discarded"`
	StepMS    float64 `json:"step_ms"`
}

// OpenSQLite opens (or creates) the index at path. runID tags every row
// written by this process so tick numbers from different runs never collide.
func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if runID == "" {
		return nil, fmt.Errorf("empty run id")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection for the writer and one for readers; WAL lets them overlap.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO runs(run_id, started_at) VALUES(?, ?)`,
		runID, time.Now().UTC().Format(startedAtLayout)); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:          db,
		runID:       runID,
		ch:          make(chan req, defaultQueue),
		commitEvery: defaultCommitEvery,
		commitWait:  defaultCommitWait,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			unix_ms INTEGER NOT NULL,
			digest TEXT NOT NULL,
			units INTEGER NOT NULL,
			commands INTEGER NOT NULL,
			resets INTEGER NOT NULL,
			staged INTEGER NOT NULL,
			discarded INTEGER NOT NULL,
			step_ms REAL NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_unix_ms ON ticks(unix_ms);`,
		`CREATE TABLE IF NOT EXISTS commands (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_unit_tick ON commands(unit_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) RunID() string { return s.runID }

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteTick queues e for indexing. It never blocks.
func (s *SQLiteIndex) WriteTick(e ticklog.Entry) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, tick: e}:
	default:
		s.dropTicks.Add(1)
	}
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		WrittenTickTotal: s.writtenTicks.Load(),
		DropTickTotal:    s.dropTicks.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
	}
}

// RecentTicks returns up to limit committed rows of the current run, newest first.
func (s *SQLiteIndex) RecentTicks(ctx context.Context, limit int) ([]TickRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, tick, unix_ms, digest, units, commands, resets, staged, discarded, step_ms
		FROM ticks WHERE run_id = ? ORDER BY tick DESC LIMIT ?`, s.runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TickRow, 0, limit)
	for rows.Next() {
		var r TickRow
		var tick int64
		if err := rows.Scan(&r.RunID, &tick, &r.UnixMS, &r.Digest, &r.Units, &r.Commands, &r.Resets, &r.Staged, &r.Discarded, &r.StepMS); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// UnitCommandCount counts indexed commands that targeted unitID in this run.
func (s *SQLiteIndex) UnitCommandCount(ctx context.Context, unitID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE run_id = ? AND unit_id = ?`, s.runID, unitID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(run_id,tick,unix_ms,digest,units,commands,resets,staged,discarded,step_ms) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(run_id,tick,seq,kind,payload,unit_id,raw_json) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertTick != nil {
			_ = insertTick.Close()
		}
		if insertCommand != nil {
			_ = insertCommand.Close()
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
		// ticks inserted into tx but not committed yet
		pending uint64
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
			s.dropTicks.Add(pending)
		} else {
			s.writtenTicks.Add(pending)
		}
		tx = nil
		pending = 0
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		// The failing tick plus every uncommitted one before it.
		s.dropTicks.Add(pending + 1)
		tx = nil
		pending = 0
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil || insertTick == nil || insertCommand == nil {
			s.dropTicks.Add(1)
			continue
		}
		e := r.tick
		if _, err := tx.Stmt(insertTick).Exec(
			s.runID,
			int64(e.Tick),
			e.UnixMS,
			e.Digest,
			e.Units,
			len(e.Commands),
			e.Resets,
			e.Staged,
			e.Discarded,
			e.StepMS,
		); err != nil {
			rollback()
			continue
		}
		opCount++
		ok := true
		for i, c := range e.Commands {
			raw, _ := json.Marshal(c.Data)
			if _, err := tx.Stmt(insertCommand).Exec(s.runID, int64(e.Tick), i, c.Kind, c.Payload, c.UnitID, string(raw)); err != nil {
				rollback()
				ok = false
				break
			}
			opCount++
		}
		if !ok {
			continue
		}
		pending++
		if opCount >= s.commitEvery || time.Since(lastCommit) >= s.commitWait {
			commit()
		}
	}

	commit()
}
