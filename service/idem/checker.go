// Package idem deduplicates inbound cross-unit deliveries by their
// envelope idempotency id within a bounded retention window.
package idem

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Checker answers "has this delivery id been seen before". The first call
// for an id records it and returns false; calls within the retention
// window return true. At-least-once transports make replays routine, so a
// true result is dropped silently by the caller.
//
// Forget releases a recorded id so the sender's retry is processed again.
// Callers that record before applying use it to roll back when the apply
// fails retriably; without the rollback the retry would be skipped and
// the effect lost.
type Checker interface {
	SeenOnce(ctx context.Context, scope string, id uint64, window time.Duration) (bool, error)
	Forget(ctx context.Context, scope string, id uint64) error
}

// Key layout shared by all implementations.
func key(scope string, id uint64) string {
	return "idem:" + scope + ":" + strconv.FormatUint(id, 10)
}

// memory is the single-process implementation: a map of key to expiry with
// a janitor ticker reclaiming stale entries.
type memory struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
}

// NewMemory builds an in-process checker. defaultWindow applies when the
// caller passes a non-positive window.
func NewMemory(defaultWindow time.Duration) Checker {
	m := &memory{seen: make(map[string]time.Time), window: defaultWindow}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for range t.C {
			now := time.Now()
			m.mu.Lock()
			for k, exp := range m.seen {
				if !exp.After(now) {
					delete(m.seen, k)
				}
			}
			m.mu.Unlock()
		}
	}()
	return m
}

func (m *memory) SeenOnce(_ context.Context, scope string, id uint64, window time.Duration) (bool, error) {
	if window <= 0 {
		window = m.window
	}
	k := key(scope, id)
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.seen[k]; ok && exp.After(now) {
		return true, nil
	}
	m.seen[k] = now.Add(window)
	return false, nil
}

func (m *memory) Forget(_ context.Context, scope string, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key(scope, id))
	return nil
}
