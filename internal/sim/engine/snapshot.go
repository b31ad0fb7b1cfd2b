package engine

import "sort"

// Unit is the read-only projection of a world unit published to clients.
type Unit struct {
	ID          string
	Position    Vec2
	Destination Vec2
}

// Snapshot is an immutable view of every unit after a completed pipeline pass.
// The backing map is never written after construction, so a Snapshot may be
// shared between any number of goroutines.
type Snapshot struct {
	tick  uint64
	units map[string]Unit
}

// NewSnapshot builds a snapshot from units. Later duplicates of an id win.
func NewSnapshot(tick uint64, units []Unit) Snapshot {
	m := make(map[string]Unit, len(units))
	for _, u := range units {
		m[u.ID] = u
	}
	return Snapshot{tick: tick, units: m}
}

// Tick is the engine tick count at the time the snapshot was taken.
func (s Snapshot) Tick() uint64 { return s.tick }

func (s Snapshot) Len() int { return len(s.units) }

func (s Snapshot) Unit(id string) (Unit, bool) {
	u, ok := s.units[id]
	return u, ok
}

// Units returns a copy of the unit mapping that the caller may modify.
func (s Snapshot) Units() map[string]Unit {
	out := make(map[string]Unit, len(s.units))
	for id, u := range s.units {
		out[id] = u
	}
	return out
}

func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.units))
	for id := range s.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Each visits units in ascending id order.
func (s Snapshot) Each(fn func(u Unit)) {
	for _, id := range s.IDs() {
		fn(s.units[id])
	}
}
