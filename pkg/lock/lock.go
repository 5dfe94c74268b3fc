// Package lock serializes work per key, in process or across processes via Redis.
package lock

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotAcquired is returned when a lock could not be taken in time.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker hands out exclusive locks by key
type Locker interface {
	// Lock blocks until key is held, ctx is done or the locker gives up.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Memory is an in-process Locker
type Memory struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{slots: make(map[string]chan struct{})}
}

func (m *Memory) slot(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[key]
	if !ok {
		s = make(chan struct{}, 1)
		m.slots[key] = s
	}
	return s
}

// Lock waits for key to be free.
func (m *Memory) Lock(ctx context.Context, key string) (Unlock, error) {
	s := m.slot(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		released := false
		once.Do(func() {
			<-s
			released = true
		})
		if !released {
			return ErrNotHeld
		}
		return nil
	}, nil
}

// TryLock takes key only if it is free right now.
func (m *Memory) TryLock(key string) (Unlock, bool) {
	s := m.slot(key)
	select {
	case s <- struct{}{}:
	default:
		return nil, false
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-s })
		return nil
	}, true
}
