package stable

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"UProject/logger"
)

// GCQueue accumulates key prefixes whose payloads are gone from the live
// state (expired events, emptied threads) and deletes them from the stable
// map in bounded passes. Prefixes survive until their range is fully
// drained, so a crashed pass resumes on the next one.
type GCQueue struct {
	mu       sync.Mutex
	prefixes []string

	store *Store
	limit int64
}

func NewGCQueue(store *Store, limit int64) *GCQueue {
	return &GCQueue{store: store, limit: limit}
}

// Enqueue schedules a prefix for deletion. Duplicates are fine: the second
// drain finds nothing.
func (g *GCQueue) Enqueue(prefixes ...string) {
	if len(prefixes) == 0 {
		return
	}
	g.mu.Lock()
	g.prefixes = append(g.prefixes, prefixes...)
	g.mu.Unlock()
}

func (g *GCQueue) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prefixes)
}

// Name implements timerq.Job.
func (g *GCQueue) Name() string { return "garbage_collect" }

// Execute drains one bounded pass. It asks for a retry when work remains
// or a delete failed.
func (g *GCQueue) Execute(_ int64) (time.Duration, error) {
	g.mu.Lock()
	if len(g.prefixes) == 0 {
		g.mu.Unlock()
		return 0, nil
	}
	prefix := g.prefixes[0]
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deleted, err := g.store.DeleteRange(ctx, prefix, g.limit)
	if err != nil {
		return 30 * time.Second, err
	}
	if deleted == g.limit {
		// Range not exhausted; keep the prefix and come straight back.
		return time.Second, nil
	}

	logger.Log.Debug("stable range collected",
		zap.String("prefix", prefix), zap.Int64("deleted", deleted))

	g.mu.Lock()
	if len(g.prefixes) > 0 && g.prefixes[0] == prefix {
		g.prefixes = g.prefixes[1:]
	}
	remaining := len(g.prefixes)
	g.mu.Unlock()

	if remaining > 0 {
		return time.Second, nil
	}
	return 0, nil
}
