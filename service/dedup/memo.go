// Package dedup collapses concurrent calls of an idempotent fetch into one flight
// and keeps its result once it succeeds.
package dedup

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

const flightKey = "memo"

// Memo lazily computes a value at most once successfully.
// Concurrent Get calls share a single in-flight factory call. A failed call is
// forgotten so the next Get starts a fresh one; callers that joined the failed
// flight receive its error.
type Memo[T any] struct {
	factory func(ctx context.Context) (T, error)
	group   singleflight.Group

	mu    sync.Mutex
	done  bool
	value T
}

// NewMemo creates a Memo around factory.
func NewMemo[T any](factory func(ctx context.Context) (T, error)) *Memo[T] {
	return &Memo[T]{factory: factory}
}

// Wrap returns a function with Memo semantics around factory.
func Wrap[T any](factory func(ctx context.Context) (T, error)) func(ctx context.Context) (T, error) {
	return NewMemo(factory).Get
}

// Get returns the cached value, joining or starting a flight if needed.
// The factory runs with the context of the caller that started the flight.
func (m *Memo[T]) Get(ctx context.Context) (T, error) {
	if v, ok := m.cached(); ok {
		return v, nil
	}

	v, err, _ := m.group.Do(flightKey, func() (any, error) {
		// a flight may have completed between the cache check and Do
		if v, ok := m.cached(); ok {
			return v, nil
		}
		v, err := m.factory(ctx)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.value = v
		m.done = true
		m.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// Set stores v as the successful result without calling the factory.
func (m *Memo[T]) Set(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
	m.done = true
}

// Resolved reports whether a value has been cached.
func (m *Memo[T]) Resolved() bool {
	_, ok := m.cached()
	return ok
}

func (m *Memo[T]) cached() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, m.done
}
