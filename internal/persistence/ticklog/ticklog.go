// Package ticklog records one compressed JSON line per simulation tick. The
// log is an audit trail only; nothing reads it back into the engine.
package ticklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"

	"skirmish.io/internal/sim/engine"
	"skirmish.io/internal/sim/systems"
	"skirmish.io/internal/sim/tick"
)

type CommandEntry struct {
	Kind    string `json:"kind"`
	Payload string `json:"payload,omitempty"`
	UnitID  string `json:"unit_id,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type Entry struct {
	Tick      uint64         `json:"tick"`
	UnixMS    int64          `json:"unix_ms"`
	Commands  []CommandEntry `json:"commands,omitempty"`
	Resets    int            `json:"resets,omitempty"`
	Staged    int            `json:"staged"`
	Discarded int            `json:"discarded,omitempty"`
	Units     int            `json:"units"`
	Digest    string         `json:"digest"`
	StepMS    float64        `json:"step_ms"`
}

func EntryFromStep(res tick.StepResult) Entry {
	e := Entry{
		Tick:      res.Tick,
		UnixMS:    res.Started.UnixMilli(),
		Resets:    res.Applied.Resets,
		Staged:    res.Applied.Staged,
		Discarded: res.Applied.Discarded,
		Units:     res.Snapshot.Len(),
		Digest:    engine.Digest(res.Snapshot),
		StepMS:    float64(res.Work.Microseconds()) / 1000,
	}
	if len(res.Commands) > 0 {
		e.Commands = make([]CommandEntry, 0, len(res.Commands))
		for _, c := range res.Commands {
			ce := CommandEntry{Kind: c.Kind.String()}
			if !c.IsReset() {
				ce.Payload = systems.PayloadName(c.Payload)
				ce.UnitID = systems.PayloadUnitID(c.Payload)
				ce.Data = c.Payload
			}
			e.Commands = append(e.Commands, ce)
		}
	}
	return e
}

// TickLogger writes one entry per tick under <dir>/ticks.
type TickLogger struct {
	w      *segmentWriter
	log    *log.Logger
	errors atomic.Uint64
}

// NewTickLogger logs the ticks of run runID. Each run gets its own segment
// files, so logs of successive processes sharing dataDir never interleave.
func NewTickLogger(dataDir, runID string, logger *log.Logger) *TickLogger {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &TickLogger{
		w:   newSegmentWriter(filepath.Join(dataDir, "ticks"), runID, DefaultSegmentEntries),
		log: logger,
	}
}

func (l *TickLogger) WriteTick(e Entry) error { return l.w.append(e) }

// AfterStep is a tick.Hooks callback.
func (l *TickLogger) AfterStep(res tick.StepResult) { l.Record(EntryFromStep(res)) }

// Record writes e. Failures are counted and logged once, never returned.
func (l *TickLogger) Record(e Entry) {
	if err := l.WriteTick(e); err != nil {
		if l.errors.Add(1) == 1 {
			l.log.Printf("ticklog: write failed (further errors counted only): %v", err)
		}
	}
}

func (l *TickLogger) Errors() uint64 { return l.errors.Load() }
func (l *TickLogger) Lines() uint64  { return l.w.count() }
func (l *TickLogger) Close() error   { return l.w.close() }

// ReadFile decodes every entry of a .jsonl.zst tick log.
func ReadFile(path string) ([]Entry, error) {
	var out []Entry
	err := Scan(path, func(e Entry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// Scan streams entries of path to fn, stopping at the first error.
func Scan(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(strings.TrimSpace(string(b))) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Files lists tick log files under dir in chronological order.
func Files(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
