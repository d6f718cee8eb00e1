// Package timerq is a per-unit delayed job scheduler: a priority list of
// (fireAt, job) with a single armed timer for the earliest entry. Used for
// event-expiry sweeps, payment retries, file-reference cleanup and
// stable-storage GC.
package timerq

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/tools/safe"
)

// Job is one scheduled unit of work. Execute returns a positive retry
// delay to be re-enqueued (with err saying why); returning zero means the
// job is finished, successfully or not.
type Job interface {
	Name() string
	Execute(now int64) (retryIn time.Duration, err error)
}

type entry[J Job] struct {
	fireAt int64 // epoch millis
	job    J
}

// Queue schedules jobs for one unit. Jobs run on the queue's own
// goroutine; anything touching unit state must re-enter through the
// runtime's update wrapper.
type Queue[J Job] struct {
	mu      sync.Mutex
	entries []entry[J] // sorted by fireAt
	timer   *time.Timer
	clock   func() int64
	stopped bool
}

func New[J Job]() *Queue[J] {
	return NewWithClock[J](func() int64 { return time.Now().UnixMilli() })
}

// NewWithClock pins the clock for tests.
func NewWithClock[J Job](clock func() int64) *Queue[J] {
	return &Queue[J]{clock: clock}
}

// Enqueue schedules a job. fireAt in the past fires immediately.
func (q *Queue[J]) Enqueue(job J, fireAt int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].fireAt > fireAt
	})
	q.entries = append(q.entries, entry[J]{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = entry[J]{fireAt: fireAt, job: job}
	q.armLocked()
}

// CancelWhere removes every pending job matching pred, returning the count.
// Used to drop a redundant sweep timer before enqueueing its replacement.
func (q *Queue[J]) CancelWhere(pred func(J) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	filtered := q.entries[:0]
	for _, e := range q.entries {
		if pred(e.job) {
			removed++
			continue
		}
		filtered = append(filtered, e)
	}
	q.entries = filtered
	if removed > 0 {
		q.armLocked()
	}
	return removed
}

func (q *Queue[J]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// NextFireAt returns the earliest scheduled fire time, 0 when idle.
func (q *Queue[J]) NextFireAt() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return 0
	}
	return q.entries[0].fireAt
}

// Stop cancels the armed timer and drops pending jobs.
func (q *Queue[J]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.entries = nil
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// armLocked (re)arms the single timer for the current minimum fire time.
func (q *Queue[J]) armLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.stopped || len(q.entries) == 0 {
		return
	}
	delay := time.Duration(q.entries[0].fireAt-q.clock()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	q.timer = time.AfterFunc(delay, func() {
		safe.Go(q.fire)
	})
}

// fire pops everything due at or before now, runs each job, re-enqueues
// the ones asking for a retry, then re-arms for the new minimum.
func (q *Queue[J]) fire() {
	now := q.clock()

	q.mu.Lock()
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].fireAt > now
	})
	due := make([]entry[J], i)
	copy(due, q.entries[:i])
	q.entries = q.entries[i:]
	q.mu.Unlock()

	for _, e := range due {
		retryIn, err := e.job.Execute(now)
		if err != nil {
			if retryIn > 0 {
				logger.Log.Warn("timer job failed, retrying",
					zap.String("job", e.job.Name()),
					zap.Duration("retryIn", retryIn),
					zap.Error(err))
			} else {
				logger.Log.Error("timer job failed, dropped",
					zap.String("job", e.job.Name()),
					zap.Error(err))
			}
		}
		if retryIn > 0 {
			q.Enqueue(e.job, now+retryIn.Milliseconds())
		}
	}

	q.mu.Lock()
	q.armLocked()
	q.mu.Unlock()
}
