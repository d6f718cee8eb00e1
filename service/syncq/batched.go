package syncq

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/model"
)

// Batched is the single-destination flavor: same in-flight exclusion and
// retry behavior as Grouped but without the per-key fan-out. Used where a
// unit syncs to exactly one peer (group -> its local index).
type Batched[T any] struct {
	mu     sync.Mutex
	sender Sender[T]
	opts   Options
	dest   model.UnitID
	state  keyState[T]

	OnAbandon func(items []T)
}

func NewBatched[T any](sender Sender[T], dest model.UnitID, opts Options) *Batched[T] {
	return &Batched[T]{sender: sender, opts: opts.withDefaults(), dest: dest}
}

func (b *Batched[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.items = append(b.state.items, items...)
}

// TryStartBatch removes and returns the oldest pending batch unless one is
// in flight or backoff has not elapsed.
func (b *Batched[T]) TryStartBatch(now int64) ([]T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ks := &b.state
	if ks.inFlight || len(ks.items) == 0 || ks.retryAt > now {
		return nil, false
	}
	n := len(ks.items)
	if n > b.opts.MaxBatch {
		n = b.opts.MaxBatch
	}
	batch := make([]T, n)
	copy(batch, ks.items[:n])
	ks.items = ks.items[n:]
	ks.inFlight = true
	return batch, true
}

func (b *Batched[T]) MarkBatchCompleted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.inFlight = false
	b.state.attempts = 0
	b.state.retryAt = 0
}

// RequeueFront restores a failed batch at the front, preserving order.
// Returns true if the batch was abandoned instead.
func (b *Batched[T]) RequeueFront(batch []T, now int64) bool {
	b.mu.Lock()
	ks := &b.state
	ks.inFlight = false
	ks.attempts++
	if ks.attempts >= b.opts.MaxAttempts {
		ks.attempts = 0
		ks.retryAt = 0
		onAbandon := b.OnAbandon
		b.mu.Unlock()
		logger.Log.Error("batch abandoned after max attempts",
			zap.String("dest", string(b.dest)),
			zap.Int("items", len(batch)))
		if onAbandon != nil {
			onAbandon(batch)
		}
		return true
	}
	ks.items = append(batch, ks.items...)
	ks.retryAt = now + backoff(ks.attempts).Milliseconds()
	b.mu.Unlock()
	return false
}

// Flush dispatches at most one batch. Returns true when a batch's effect
// is in place after this call.
func (b *Batched[T]) Flush(ctx context.Context, now int64) bool {
	batch, ok := b.TryStartBatch(now)
	if !ok {
		return false
	}

	err := b.sender.Send(ctx, b.dest, batch)
	if err == nil {
		b.MarkBatchCompleted()
		return true
	}

	switch classify(err) {
	case AlreadyApplied:
		b.MarkBatchCompleted()
		return true
	case Terminal:
		b.mu.Lock()
		b.state.inFlight = false
		b.state.attempts = 0
		b.state.retryAt = 0
		onAbandon := b.OnAbandon
		b.mu.Unlock()
		logger.Log.Error("batch rejected terminally, dropped",
			zap.String("dest", string(b.dest)),
			zap.Int("items", len(batch)),
			zap.Error(err))
		if onAbandon != nil {
			onAbandon(batch)
		}
		return false
	default:
		logger.Log.Warn("batch delivery failed, requeued",
			zap.String("dest", string(b.dest)),
			zap.Int("items", len(batch)),
			zap.Error(err))
		b.RequeueFront(batch, now)
		return false
	}
}

func (b *Batched[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.state.items)
}

// NextRetryAt is the backoff deadline, 0 when dispatchable immediately.
func (b *Batched[T]) NextRetryAt() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.retryAt
}
