package engine

import (
	"fmt"
	"reflect"
)

// Resources holds engine-wide singletons (one value per type) that pipeline
// systems read and write. Like the world, it belongs to the simulation goroutine.
type Resources struct {
	byType map[reflect.Type]any
}

func NewResources() *Resources {
	return &Resources{byType: map[reflect.Type]any{}}
}

// FatalError marks a broken engine invariant. It is raised with panic and is
// not meant to be recovered.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string { return "engine: fatal: " + e.Reason }

func typeKey[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Insert stores v as the resource of type T, replacing any previous value.
func Insert[T any](r *Resources, v *T) {
	if v == nil {
		panic(&FatalError{Reason: fmt.Sprintf("nil resource %s", typeKey[T]())})
	}
	r.byType[typeKey[T]()] = v
}

func Get[T any](r *Resources) (*T, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r.byType[typeKey[T]()]
	if !ok {
		return nil, false
	}
	return v.(*T), true
}

// MustGet returns the resource of type T or panics with a *FatalError.
func MustGet[T any](r *Resources) *T {
	v, ok := Get[T](r)
	if !ok {
		panic(&FatalError{Reason: fmt.Sprintf("missing required resource %s", typeKey[T]())})
	}
	return v
}

func (r *Resources) Len() int { return len(r.byType) }

// TimeState is read by time-dependent systems. Ticks is bumped by the engine
// after every pipeline pass; ElapsedSeconds is set by the tick driver.
type TimeState struct {
	Ticks          uint64
	ElapsedSeconds float64
}
