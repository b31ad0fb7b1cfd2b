package ticklog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// DefaultSegmentEntries caps how many ticks go into one file before it is
// rolled, independent of the hourly boundary.
const DefaultSegmentEntries = 3600

// segment is the file currently receiving entries.
type segment struct {
	path      string
	hour      string
	firstTick uint64
	entries   int

	f   *os.File
	zw  *zstd.Encoder
	buf *bufio.Writer
	enc *json.Encoder
}

// segmentWriter writes entries of a single run into files named
//
//	ticks-<YYYY-MM-DD-HH>-<run>-<first tick>.jsonl.zst
//
// so a directory listing sorts by hour and a restart never appends to the
// previous run's file. Every entry is flushed through the zstd encoder, so a
// crash loses at most the tick being written.
type segmentWriter struct {
	dir        string
	runID      string
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	cur   *segment
	lines uint64
}

func newSegmentWriter(dir, runID string, maxEntries int) *segmentWriter {
	if maxEntries <= 0 {
		maxEntries = DefaultSegmentEntries
	}
	return &segmentWriter{dir: dir, runID: runID, maxEntries: maxEntries, now: time.Now}
}

func (w *segmentWriter) append(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if w.cur == nil || w.cur.hour != hour || w.cur.entries >= w.maxEntries {
		if err := w.rollLocked(hour, e.Tick); err != nil {
			return err
		}
	}
	seg := w.cur
	if err := seg.enc.Encode(e); err != nil {
		return err
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	if err := seg.zw.Flush(); err != nil {
		return err
	}
	seg.entries++
	w.lines++
	return nil
}

func (w *segmentWriter) rollLocked(hour string, firstTick uint64) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("ticks-%s-%s-%012d.jsonl.zst", hour, w.runID, firstTick)
	path := filepath.Join(w.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	buf := bufio.NewWriterSize(zw, 64*1024)
	w.cur = &segment{
		path:      path,
		hour:      hour,
		firstTick: firstTick,
		f:         f,
		zw:        zw,
		buf:       buf,
		enc:       json.NewEncoder(buf),
	}
	return nil
}

func (w *segmentWriter) closeLocked() error {
	seg := w.cur
	if seg == nil {
		return nil
	}
	w.cur = nil
	ferr := seg.buf.Flush()
	if err := seg.zw.Close(); err != nil && ferr == nil {
		ferr = err
	}
	if err := seg.f.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return ferr
}

func (w *segmentWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *segmentWriter) count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

// path is the open segment, or "" when none is open.
func (w *segmentWriter) path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return ""
	}
	return w.cur.path
}
