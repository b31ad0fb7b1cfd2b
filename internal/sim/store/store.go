// Package store holds the latest published snapshot for network readers.
package store

import (
	"sync"

	"skirmish.io/internal/sim/engine"
)

// Store is written by the tick driver once per iteration and read by any
// number of goroutines. It keeps no history: readers always see the newest
// complete snapshot, possibly one tick old.
//
// The lock guards a value swap only. Snapshots are immutable, so nothing is
// copied or computed while it is held.
type Store struct {
	mu        sync.RWMutex
	current   engine.Snapshot
	published uint64
}

func New(initial engine.Snapshot) *Store {
	return &Store{current: initial}
}

// Publish replaces the stored snapshot wholesale.
func (s *Store) Publish(snap engine.Snapshot) {
	s.mu.Lock()
	s.current = snap
	s.published++
	s.mu.Unlock()
}

func (s *Store) Read() engine.Snapshot {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	return snap
}

// Tick is the tick of the current snapshot.
func (s *Store) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Tick()
}

// Published counts Publish calls since construction.
func (s *Store) Published() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.published
}
