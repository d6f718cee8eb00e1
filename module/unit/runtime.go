package unit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/core"
	"UProject/module/chat/events"
	"UProject/module/chat/model"
	"UProject/module/chat/stable"
	"UProject/service/syncq"
	"UProject/service/timerq"
	"UProject/tools/safe"
)

// Data is the unit's root state aggregate. A group unit holds one chat; a
// community unit holds one chat per channel.
type Data struct {
	UnitID model.UnitID
	Kind   string
	Chats  map[model.ChatID]*core.GroupChatCore
}

func NewData(unitID model.UnitID, kind string) *Data {
	return &Data{UnitID: unitID, Kind: kind, Chats: make(map[model.ChatID]*core.GroupChatCore)}
}

func (d *Data) Chat(chatID model.ChatID) (*core.GroupChatCore, bool) {
	c, ok := d.Chats[chatID]
	return c, ok
}

// Collaborators are the narrow external interfaces the expiry sweep hands
// its obligations to. All optional; a nil hook drops that obligation kind.
type Collaborators struct {
	// DeleteFiles fires and forgets freed file references to storage units.
	DeleteFiles func(refs []string)
	// FinalizePayment enqueues one pending payment for the ledger
	// collaborator, retried by the job system.
	FinalizePayment func(p model.PendingPayment)
	// GCPrefixes queues stable-storage key prefixes for range deletion.
	GCPrefixes func(prefixes []string)
	// PersistEvent write-behinds one pushed payload under its stable key.
	PersistEvent func(key string, data []byte)
}

// RuntimeState is the per-unit singleton every handler runs against.
// Updates are serialized by its mutex: one entry point's synchronous part
// at a time, matching the substrate's execution model.
type RuntimeState struct {
	mu   sync.Mutex
	Env  Env
	Data *Data

	// Outbound sync queues, flushed after every update.
	UserSync  *syncq.Grouped[model.IdempotentEnvelope]
	IndexSync *syncq.Batched[model.IdempotentEnvelope]

	// Timers drives expiry sweeps and retries; jobs re-enter through
	// ExecuteUpdate.
	Timers *timerq.Queue[timerq.Job]

	Collab Collaborators
}

func NewRuntimeState(env Env, data *Data) *RuntimeState {
	return &RuntimeState{
		Env:    env,
		Data:   data,
		Timers: timerq.NewWithClock[timerq.Job](func() int64 { return env.Now() }),
	}
}

// Names of the timer jobs the runtime schedules for itself. One pending
// entry per name: the stale entry is cancelled before its replacement.
const (
	maintenanceJobName = "maintenance_sweep"
	userFlushJobName   = "flush_user_sync"
	indexFlushJobName  = "flush_index_sync"
)

// ExecuteUpdate is the mandatory bracket around every state-mutating
// operation: run due regular jobs, apply the mutation, re-arm the sweep
// timer for the next deadline, then flush the outbound queues. Handlers
// must never mutate state outside it.
func (r *RuntimeState) ExecuteUpdate(f func(*RuntimeState) error) error {
	r.mu.Lock()
	r.runRegularJobs()
	err := f(r)
	due := r.nextMaintenanceLocked()
	r.mu.Unlock()

	r.armMaintenance(due)
	r.flushQueues()
	return err
}

// ExecuteQuery runs a read-only operation against a consistent snapshot.
// No regular jobs, no flush: queries leave no trace.
func (r *RuntimeState) ExecuteQuery(f func(*RuntimeState) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return f(r)
}

// runRegularJobs performs due maintenance inline before a mutation: expiry
// sweeps and gate-lapse marking for every chat whose deadline has passed.
func (r *RuntimeState) runRegularJobs() {
	now := r.Env.Now()
	for chatID, chat := range r.Data.Chats {
		due := chat.NextMaintenanceDue()
		if due == 0 || due > now {
			continue
		}
		result := chat.RemoveExpiredEvents(now)
		if result.Removed > 0 {
			logger.Log.Debug("expired events swept",
				zap.String("chat", string(chatID)),
				zap.Int("removed", result.Removed))
			r.handleExpiryObligations(chatID, result)
		}
		if lapsed := chat.MarkLapsed(now); len(lapsed) > 0 {
			logger.Log.Info("members lapsed pending gate re-check",
				zap.String("chat", string(chatID)),
				zap.Int("count", len(lapsed)))
		}
	}
}

// nextMaintenanceLocked returns the earliest maintenance deadline across
// chats, 0 when nothing is scheduled. Caller holds the mutex.
func (r *RuntimeState) nextMaintenanceLocked() model.TimestampMillis {
	var min model.TimestampMillis
	for _, chat := range r.Data.Chats {
		if due := chat.NextMaintenanceDue(); due != 0 && (min == 0 || due < min) {
			min = due
		}
	}
	return min
}

// armMaintenance schedules the sweep timer so expiry and lapse deadlines
// fire on a quiescent unit too, not only piggybacked on inbound traffic.
func (r *RuntimeState) armMaintenance(due model.TimestampMillis) {
	if r.Timers == nil {
		return
	}
	r.Timers.CancelWhere(func(j timerq.Job) bool { return j.Name() == maintenanceJobName })
	if due != 0 {
		r.Timers.Enqueue(&maintenanceJob{rt: r}, due)
	}
}

// maintenanceJob re-enters the update bracket with a no-op mutation: the
// bracket sweeps every due chat and arms the next deadline itself.
type maintenanceJob struct{ rt *RuntimeState }

func (j *maintenanceJob) Name() string { return maintenanceJobName }

func (j *maintenanceJob) Execute(int64) (time.Duration, error) {
	return 0, j.rt.ExecuteUpdate(func(*RuntimeState) error { return nil })
}

// handleExpiryObligations routes a sweep's side effects to collaborators.
// Eviction already happened exactly once; these may be retried.
func (r *RuntimeState) handleExpiryObligations(chatID model.ChatID, result events.ExpiryResult) {
	if len(result.FileRefs) > 0 && r.Collab.DeleteFiles != nil {
		r.Collab.DeleteFiles(result.FileRefs)
	}
	if r.Collab.FinalizePayment != nil {
		for _, p := range result.FinalPrizePayments {
			r.Collab.FinalizePayment(p)
		}
	}
	if r.Collab.GCPrefixes != nil && (len(result.Threads) > 0 || len(result.RemovedMessages) > 0) {
		prefixes := make([]string, 0, len(result.Threads)+len(result.RemovedMessages))
		for _, root := range result.Threads {
			prefixes = append(prefixes, stable.ThreadPrefix(chatID, root))
		}
		// An exact key is the narrowest prefix: one delete per evicted payload.
		for _, ref := range result.RemovedMessages {
			prefixes = append(prefixes, stable.EventKey(chatID, ref.ThreadRoot, ref.Index))
		}
		r.Collab.GCPrefixes(prefixes)
	}
}

// flushQueues dispatches pending outbound batches off the update path.
// Each flush reads the clock on its own goroutine so a backoff deadline
// set during the update is never compared against an earlier timestamp.
// Batches left waiting on backoff get a timer retry at their deadline.
func (r *RuntimeState) flushQueues() {
	if r.UserSync != nil {
		q := r.UserSync
		safe.Go(func() {
			q.Flush(context.Background(), r.Env.Now())
			r.armFlushRetry(userFlushJobName,
				func(ctx context.Context, now int64) { q.Flush(ctx, now) }, q.NextRetryAt)
		})
	}
	if r.IndexSync != nil {
		q := r.IndexSync
		safe.Go(func() {
			q.Flush(context.Background(), r.Env.Now())
			r.armFlushRetry(indexFlushJobName,
				func(ctx context.Context, now int64) { q.Flush(ctx, now) }, q.NextRetryAt)
		})
	}
}

// armFlushRetry schedules one retry of a backed-off queue at its earliest
// retry deadline, replacing any pending entry for the same queue.
func (r *RuntimeState) armFlushRetry(name string, flush func(context.Context, int64), nextRetryAt func() int64) {
	if r.Timers == nil {
		return
	}
	r.Timers.CancelWhere(func(j timerq.Job) bool { return j.Name() == name })
	if at := nextRetryAt(); at > 0 {
		r.Timers.Enqueue(&flushJob{name: name, flush: flush, next: nextRetryAt}, at)
	}
}

// flushJob drains one backed-off sync queue from the timer goroutine,
// rescheduling itself while a retry deadline remains.
type flushJob struct {
	name  string
	flush func(context.Context, int64)
	next  func() int64
}

func (j *flushJob) Name() string { return j.name }

func (j *flushJob) Execute(now int64) (time.Duration, error) {
	j.flush(context.Background(), now)
	if at := j.next(); at > now {
		return time.Duration(at-now) * time.Millisecond, nil
	}
	return 0, nil
}

// Metrics is the unit's observability snapshot, served as a query.
type Metrics struct {
	UnitID    model.UnitID          `json:"unitId"`
	Kind      string                `json:"kind"`
	Now       model.TimestampMillis `json:"now"`
	ChatCount int                   `json:"chatCount"`

	MemberCount   int `json:"memberCount"`
	InstalledBots int `json:"installedBots"`

	EventMetrics events.Metrics `json:"eventMetrics"`

	UserSyncPending  int   `json:"userSyncPending"`
	IndexSyncPending int   `json:"indexSyncPending"`
	TimerJobs        int   `json:"timerJobs"`
	NextMaintenance  int64 `json:"nextMaintenance"`
}

func (r *RuntimeState) MetricsSnapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		UnitID:    r.Data.UnitID,
		Kind:      r.Data.Kind,
		Now:       r.Env.Now(),
		ChatCount: len(r.Data.Chats),
	}
	for _, chat := range r.Data.Chats {
		m.MemberCount += chat.Members.Len()
		m.InstalledBots += chat.Bots.Len()
		cm := chat.Events.Metrics()
		m.EventMetrics.TotalEvents += cm.TotalEvents
		m.EventMetrics.Messages += cm.Messages
		m.EventMetrics.ThreadMessages += cm.ThreadMessages
		m.EventMetrics.Membership += cm.Membership
		m.EventMetrics.Details += cm.Details
		if due := chat.NextMaintenanceDue(); due != 0 && (m.NextMaintenance == 0 || due < m.NextMaintenance) {
			m.NextMaintenance = due
		}
	}
	if r.UserSync != nil {
		m.UserSyncPending = r.UserSync.TotalPending()
	}
	if r.IndexSync != nil {
		m.IndexSyncPending = r.IndexSync.Len()
	}
	if r.Timers != nil {
		m.TimerJobs = r.Timers.Len()
	}
	return m
}
