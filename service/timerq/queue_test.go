package timerq

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkg/errors"
)

type testJob struct {
	name string
	fn   func(now int64) (time.Duration, error)
}

func (j *testJob) Name() string { return j.name }
func (j *testJob) Execute(now int64) (time.Duration, error) {
	return j.fn(now)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for job %q", want)
	}
}

func TestEnqueueFiresAtScheduledTime(t *testing.T) {
	q := New[*testJob]()
	defer q.Stop()

	fired := make(chan string, 1)
	q.Enqueue(&testJob{name: "sweep", fn: func(int64) (time.Duration, error) {
		fired <- "sweep"
		return 0, nil
	}}, time.Now().UnixMilli()+20)

	assert.Equal(t, 1, q.Len())
	waitFor(t, fired, "sweep")
}

func TestDueJobsRunInFireOrder(t *testing.T) {
	q := New[*testJob]()
	defer q.Stop()

	fired := make(chan string, 3)
	mk := func(name string) *testJob {
		return &testJob{name: name, fn: func(int64) (time.Duration, error) {
			fired <- name
			return 0, nil
		}}
	}
	base := time.Now().UnixMilli()
	q.Enqueue(mk("c"), base+30)
	q.Enqueue(mk("a"), base+10)
	q.Enqueue(mk("b"), base+20)

	waitFor(t, fired, "a")
	waitFor(t, fired, "b")
	waitFor(t, fired, "c")
	assert.Equal(t, 0, q.Len())
}

func TestCancelWherePreventsFiring(t *testing.T) {
	q := New[*testJob]()
	defer q.Stop()

	fired := make(chan string, 2)
	mk := func(name string) *testJob {
		return &testJob{name: name, fn: func(int64) (time.Duration, error) {
			fired <- name
			return 0, nil
		}}
	}
	base := time.Now().UnixMilli()
	q.Enqueue(mk("stale_sweep"), base+30)
	q.Enqueue(mk("fresh_sweep"), base+40)

	removed := q.CancelWhere(func(j *testJob) bool { return j.name == "stale_sweep" })
	assert.Equal(t, 1, removed)

	waitFor(t, fired, "fresh_sweep")
	select {
	case got := <-fired:
		t.Fatalf("cancelled job fired: %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRetryDelayReEnqueues(t *testing.T) {
	q := New[*testJob]()
	defer q.Stop()

	var attempts atomic.Int32
	done := make(chan string, 1)
	q.Enqueue(&testJob{name: "payment", fn: func(int64) (time.Duration, error) {
		if attempts.Add(1) == 1 {
			return 20 * time.Millisecond, errors.New("ledger unreachable")
		}
		done <- "payment"
		return 0, nil
	}}, time.Now().UnixMilli())

	waitFor(t, done, "payment")
	assert.Equal(t, int32(2), attempts.Load())
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestNextFireAtTracksMinimum(t *testing.T) {
	q := NewWithClock[*testJob](func() int64 { return 0 })
	noop := &testJob{name: "n", fn: func(int64) (time.Duration, error) { return 0, nil }}

	require.Equal(t, int64(0), q.NextFireAt())
	q.Enqueue(noop, 5_000_000_000_000) // far future
	q.Enqueue(noop, 4_000_000_000_000)
	assert.Equal(t, int64(4_000_000_000_000), q.NextFireAt())
	q.Stop()
}
