package syncq

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/model"
)

// Sender delivers one batch to one destination unit. It must be safe for
// concurrent calls with distinct destinations.
type Sender[T any] interface {
	Send(ctx context.Context, dest model.UnitID, batch []T) error
}

// Options tune one queue instance. Zero values take the defaults.
type Options struct {
	// MaxBatch caps the items in one wire call; the rest waits for the
	// next flush.
	MaxBatch int
	// MaxAttempts is how many failed deliveries a batch survives before it
	// is abandoned.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.MaxBatch <= 0 {
		o.MaxBatch = 100
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 10
	}
	return o
}

type keyState[T any] struct {
	items    []T
	inFlight bool
	attempts int
	retryAt  int64 // epoch millis; 0 = no backoff pending
}

// Grouped is the multi-destination queue: each destination key has its own
// pending list, in-flight flag and backoff state. FIFO per key is preserved
// across retries; dispatch is concurrent across keys.
type Grouped[T any] struct {
	mu     sync.Mutex
	sender Sender[T]
	opts   Options
	keys   map[model.UnitID]*keyState[T]

	// OnAbandon, if set, observes batches dropped after exhausting their
	// attempts or hitting a terminal reject.
	OnAbandon func(dest model.UnitID, items []T)
}

func NewGrouped[T any](sender Sender[T], opts Options) *Grouped[T] {
	return &Grouped[T]{
		sender: sender,
		opts:   opts.withDefaults(),
		keys:   make(map[model.UnitID]*keyState[T]),
	}
}

// Push appends items to the destination's pending list.
func (g *Grouped[T]) Push(dest model.UnitID, items ...T) {
	if len(items) == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key(dest).items = append(g.key(dest).items, items...)
}

// TryStartBatch removes and returns the oldest pending batch for the
// destination unless one is already in flight or backoff has not elapsed.
// The caller must finish with MarkBatchCompleted or RequeueFront.
func (g *Grouped[T]) TryStartBatch(dest model.UnitID, now int64) ([]T, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tryStartLocked(dest, now)
}

func (g *Grouped[T]) tryStartLocked(dest model.UnitID, now int64) ([]T, bool) {
	ks, ok := g.keys[dest]
	if !ok || ks.inFlight || len(ks.items) == 0 || ks.retryAt > now {
		return nil, false
	}
	n := len(ks.items)
	if n > g.opts.MaxBatch {
		n = g.opts.MaxBatch
	}
	batch := make([]T, n)
	copy(batch, ks.items[:n])
	ks.items = ks.items[n:]
	ks.inFlight = true
	return batch, true
}

// MarkBatchCompleted clears the in-flight flag and resets backoff.
func (g *Grouped[T]) MarkBatchCompleted(dest model.UnitID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ks := g.key(dest)
	ks.inFlight = false
	ks.attempts = 0
	ks.retryAt = 0
	if len(ks.items) == 0 {
		delete(g.keys, dest)
	}
}

// RequeueFront puts a failed batch back at the front of its key's pending
// list, unmodified in order, and applies backoff. Returns true if the
// batch was abandoned instead because its attempts ran out.
func (g *Grouped[T]) RequeueFront(dest model.UnitID, batch []T, now int64) bool {
	g.mu.Lock()
	ks := g.key(dest)
	ks.inFlight = false
	ks.attempts++
	if ks.attempts >= g.opts.MaxAttempts {
		ks.attempts = 0
		ks.retryAt = 0
		onAbandon := g.OnAbandon
		g.mu.Unlock()
		logger.Log.Error("batch abandoned after max attempts",
			zap.String("dest", string(dest)),
			zap.Int("items", len(batch)))
		if onAbandon != nil {
			onAbandon(dest, batch)
		}
		return true
	}
	ks.items = append(batch, ks.items...)
	ks.retryAt = now + backoff(ks.attempts).Milliseconds()
	g.mu.Unlock()
	return false
}

// Flush dispatches one batch per eligible destination, concurrently across
// destinations, and blocks until every dispatch settles. Returns the count
// of successfully delivered batches.
func (g *Grouped[T]) Flush(ctx context.Context, now int64) int {
	type started struct {
		dest  model.UnitID
		batch []T
	}

	g.mu.Lock()
	var work []started
	for dest := range g.keys {
		if batch, ok := g.tryStartLocked(dest, now); ok {
			work = append(work, started{dest: dest, batch: batch})
		}
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	var delivered int64
	var deliveredMu sync.Mutex
	for _, w := range work {
		wg.Add(1)
		go func(w started) {
			defer wg.Done()
			if g.dispatch(ctx, w.dest, w.batch, now) {
				deliveredMu.Lock()
				delivered++
				deliveredMu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return int(delivered)
}

// dispatch sends one in-flight batch and settles it per the failure
// classification. Returns true when the batch's effect is in place.
func (g *Grouped[T]) dispatch(ctx context.Context, dest model.UnitID, batch []T, now int64) bool {
	err := g.sender.Send(ctx, dest, batch)
	if err == nil {
		g.MarkBatchCompleted(dest)
		return true
	}

	switch classify(err) {
	case AlreadyApplied:
		g.MarkBatchCompleted(dest)
		return true
	case Terminal:
		g.mu.Lock()
		ks := g.key(dest)
		ks.inFlight = false
		ks.attempts = 0
		ks.retryAt = 0
		onAbandon := g.OnAbandon
		g.mu.Unlock()
		logger.Log.Error("batch rejected terminally, dropped",
			zap.String("dest", string(dest)),
			zap.Int("items", len(batch)),
			zap.Error(err))
		if onAbandon != nil {
			onAbandon(dest, batch)
		}
		return false
	default:
		logger.Log.Warn("batch delivery failed, requeued",
			zap.String("dest", string(dest)),
			zap.Int("items", len(batch)),
			zap.Error(err))
		g.RequeueFront(dest, batch, now)
		return false
	}
}

// Len is the pending item count for one destination.
func (g *Grouped[T]) Len(dest model.UnitID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ks, ok := g.keys[dest]; ok {
		return len(ks.items)
	}
	return 0
}

// TotalPending sums pending items across destinations.
func (g *Grouped[T]) TotalPending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, ks := range g.keys {
		total += len(ks.items)
	}
	return total
}

// NextRetryAt is the earliest backoff deadline among keys with pending
// items, 0 when any key is dispatchable immediately or nothing is pending.
func (g *Grouped[T]) NextRetryAt() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	var next int64
	for _, ks := range g.keys {
		if len(ks.items) == 0 || ks.inFlight {
			continue
		}
		if ks.retryAt == 0 {
			return 0
		}
		if next == 0 || ks.retryAt < next {
			next = ks.retryAt
		}
	}
	return next
}

func (g *Grouped[T]) key(dest model.UnitID) *keyState[T] {
	ks, ok := g.keys[dest]
	if !ok {
		ks = &keyState[T]{}
		g.keys[dest] = ks
	}
	return ks
}
