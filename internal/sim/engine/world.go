package engine

import "sort"

// UnitState is the mutable per-unit record owned by the world.
type UnitState struct {
	ID             string
	Position       Vec2
	Destination    Vec2
	HasDestination bool
}

func (u *UnitState) project() Unit {
	dest := u.Position
	if u.HasDestination {
		dest = u.Destination
	}
	return Unit{ID: u.ID, Position: u.Position, Destination: dest}
}

// World is the entity state advanced by the pipeline. It is not safe for
// concurrent use; only the simulation goroutine may touch it.
type World struct {
	units map[string]*UnitState

	// Mutation payloads staged by Apply, consumed by the next pipeline pass.
	events []any
}

func NewWorld() *World {
	return &World{units: map[string]*UnitState{}}
}

func (w *World) Len() int { return len(w.units) }

func (w *World) Unit(id string) (*UnitState, bool) {
	u, ok := w.units[id]
	return u, ok
}

// Spawn adds a unit at pos. It reports false for an empty or already used id.
func (w *World) Spawn(id string, pos Vec2) (*UnitState, bool) {
	if id == "" {
		return nil, false
	}
	if _, exists := w.units[id]; exists {
		return nil, false
	}
	u := &UnitState{ID: id, Position: pos}
	w.units[id] = u
	return u, true
}

func (w *World) Despawn(id string) bool {
	if _, ok := w.units[id]; !ok {
		return false
	}
	delete(w.units, id)
	return true
}

func (w *World) SetDestination(id string, dest Vec2) bool {
	u, ok := w.units[id]
	if !ok {
		return false
	}
	u.Destination = dest
	u.HasDestination = true
	return true
}

// Range visits units in ascending id order until fn returns false.
func (w *World) Range(fn func(u *UnitState) bool) {
	ids := make([]string, 0, len(w.units))
	for id := range w.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !fn(w.units[id]) {
			return
		}
	}
}

// Events returns the staged mutation payloads in arrival order.
func (w *World) Events() []any { return w.events }

func (w *World) stage(payload any) { w.events = append(w.events, payload) }

func (w *World) clearEvents() {
	clear(w.events)
	w.events = w.events[:0]
}
