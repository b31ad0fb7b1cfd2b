// Package ingress carries commands from network goroutines to the simulation
// goroutine through a bounded buffer. Producers never block: a full queue is
// reported back as ErrBackpressure.
package ingress

import (
	"errors"
	"sync"
	"sync/atomic"

	"skirmish.io/internal/sim/engine"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 1000

var (
	ErrBackpressure = errors.New("ingress: command queue full")
	ErrClosed       = errors.New("ingress: command queue closed")
)

// Queue is safe for many concurrent senders and a single drainer.
type Queue struct {
	ch chan engine.Command

	// mu orders TrySend against Close: once Close returns no send is in flight
	// and none will be accepted.
	mu     sync.RWMutex
	closed bool

	accepted atomic.Uint64
	rejected atomic.Uint64
	drained  atomic.Uint64
}

type Stats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Accepted uint64 `json:"accepted_total"`
	Rejected uint64 `json:"rejected_total"`
	Drained  uint64 `json:"drained_total"`
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan engine.Command, capacity)}
}

// TrySend enqueues cmd without blocking. Once it returns nil the command is
// delivered by exactly one later DrainAvailable call.
func (q *Queue) TrySend(cmd engine.Command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return ErrClosed
	}
	select {
	case q.ch <- cmd:
		q.accepted.Add(1)
		return nil
	default:
		q.rejected.Add(1)
		return ErrBackpressure
	}
}

// DrainAvailable returns every command buffered when the call started, in
// FIFO order, without waiting. Commands that arrive while it runs are left for
// the next call. Only the simulation goroutine may drain.
func (q *Queue) DrainAvailable() []engine.Command {
	n := len(q.ch)
	if n == 0 {
		return nil
	}
	out := make([]engine.Command, 0, n)
	for i := 0; i < n; i++ {
		select {
		case cmd := <-q.ch:
			out = append(out, cmd)
		default:
			// Single consumer: len never shrinks under us, but stay non-blocking anyway.
			q.drained.Add(uint64(len(out)))
			return out
		}
	}
	q.drained.Add(uint64(len(out)))
	return out
}

// Close makes later TrySend calls fail with ErrClosed. Commands already queued
// can still be drained, and after Close returns the buffered set is final.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }

func (q *Queue) Stats() Stats {
	return Stats{
		Depth:    len(q.ch),
		Capacity: cap(q.ch),
		Accepted: q.accepted.Load(),
		Rejected: q.rejected.Load(),
		Drained:  q.drained.Load(),
	}
}
