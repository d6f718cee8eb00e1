// Package events holds the append-only event log backing one chat. The log
// owns every event in an arena addressed by index; references between
// events (thread roots) are index values, never pointers.
package events

import (
	"UProject/module/chat/model"
	"UProject/tools/errs"
)

// Log is one chat's event sequence plus its derived indexes. Not safe for
// concurrent use: the unit runtime serializes all access.
type Log struct {
	chatID model.ChatID

	// arena: events[i] has index firstIndex+i. Expired events stay as
	// tombstones so the arena never shifts.
	firstIndex model.EventIndex
	events     []*model.EventWrapper

	// eventsTTL == 0 disables expiry for newly pushed events.
	eventsTTL            model.TimestampMillis
	eventsTTLLastUpdated model.TimestampMillis

	// threads: root event index -> reply event indexes, append order.
	threads map[model.EventIndex][]model.EventIndex

	// messageIDs dedupes caller-supplied message ids.
	messageIDs map[model.MessageID]model.EventIndex

	// subscriptions: category -> bot ids notified on push.
	subscriptions map[model.EventCategory]map[model.UserID]struct{}

	// expiredRanges accumulates tombstoned spans for reader reports.
	expiredRanges []model.ExpiredRange

	metrics     Metrics
	userMetrics map[model.UserID]*Metrics

	lastUpdated model.TimestampMillis
}

func NewLog(chatID model.ChatID, eventsTTL model.TimestampMillis, now model.TimestampMillis) *Log {
	return &Log{
		chatID:               chatID,
		firstIndex:           1,
		eventsTTL:            eventsTTL,
		eventsTTLLastUpdated: now,
		threads:              make(map[model.EventIndex][]model.EventIndex),
		messageIDs:           make(map[model.MessageID]model.EventIndex),
		subscriptions:        make(map[model.EventCategory]map[model.UserID]struct{}),
		userMetrics:          make(map[model.UserID]*Metrics),
		lastUpdated:          now,
	}
}

// PushResult reports the assigned index and, when any installed bot is
// subscribed to the event's category, the fan-out to deliver.
type PushResult struct {
	Index           model.EventIndex
	ExpiresAt       model.TimestampMillis
	BotNotification *model.BotNotification
}

// Push appends one event, assigns the next index, updates aggregates, and
// computes the bot fan-out. It never removes anything.
func (l *Log) Push(payload model.EventPayload, now model.TimestampMillis) PushResult {
	errs.Assert(payload != nil, "push: nil payload")

	index := l.nextIndex()
	var expiresAt model.TimestampMillis
	if l.eventsTTL > 0 {
		expiresAt = now + l.eventsTTL
	}

	wrapper := &model.EventWrapper{
		Index:     index,
		Timestamp: now,
		ExpiresAt: expiresAt,
		Payload:   payload,
	}
	l.events = append(l.events, wrapper)
	l.lastUpdated = now

	if msg, ok := payload.(*model.MessageEvent); ok {
		l.messageIDs[msg.MessageID] = index
		if msg.ThreadRoot != 0 {
			l.threads[msg.ThreadRoot] = append(l.threads[msg.ThreadRoot], index)
		}
		l.userMetric(msg.Sender).record(payload)
	}
	l.metrics.record(payload)

	return PushResult{
		Index:           index,
		ExpiresAt:       expiresAt,
		BotNotification: l.botFanout(payload.Category(), index, now),
	}
}

// PushMessage validates and appends a message event. The caller has already
// passed permission checks.
func (l *Log) PushMessage(msg *model.MessageEvent, now model.TimestampMillis) (PushResult, error) {
	if _, exists := l.messageIDs[msg.MessageID]; exists {
		return PushResult{}, errs.ErrMessageIdAlreadyExists
	}
	if msg.ThreadRoot != 0 {
		root, ok := l.get(msg.ThreadRoot)
		if !ok || root.Expired {
			return PushResult{}, errs.ErrThreadNotFound
		}
		if _, isMsg := root.Payload.(*model.MessageEvent); !isMsg {
			return PushResult{}, errs.ErrThreadNotFound
		}
	}
	return l.Push(msg, now), nil
}

func (l *Log) botFanout(category model.EventCategory, index model.EventIndex, now model.TimestampMillis) *model.BotNotification {
	subs := l.subscriptions[category]
	if len(subs) == 0 {
		return nil
	}
	recipients := make([]model.UserID, 0, len(subs))
	for botID := range subs {
		recipients = append(recipients, botID)
	}
	return &model.BotNotification{
		Recipients: recipients,
		ChatID:     l.chatID,
		Category:   category,
		EventIndex: index,
		Timestamp:  now,
	}
}

// SubscribeBot replaces the bot's subscription set with the given
// categories. The caller is responsible for filtering categories against
// the bot's permitted-read set first.
func (l *Log) SubscribeBot(botID model.UserID, categories []model.EventCategory) {
	l.UnsubscribeBot(botID)
	for _, c := range categories {
		set, ok := l.subscriptions[c]
		if !ok {
			set = make(map[model.UserID]struct{})
			l.subscriptions[c] = set
		}
		set[botID] = struct{}{}
	}
}

func (l *Log) UnsubscribeBot(botID model.UserID) {
	for c, set := range l.subscriptions {
		delete(set, botID)
		if len(set) == 0 {
			delete(l.subscriptions, c)
		}
	}
}

// SubscribedBots returns the bots currently subscribed to a category.
func (l *Log) SubscribedBots(category model.EventCategory) []model.UserID {
	set := l.subscriptions[category]
	out := make([]model.UserID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SetEventsTTL updates the TTL for future events. Already-pushed events
// keep their original expiry.
func (l *Log) SetEventsTTL(ttl model.TimestampMillis, now model.TimestampMillis) {
	if ttl == l.eventsTTL {
		return
	}
	l.eventsTTL = ttl
	l.eventsTTLLastUpdated = now
}

func (l *Log) EventsTTL() model.TimestampMillis { return l.eventsTTL }

func (l *Log) LastUpdated() model.TimestampMillis { return l.lastUpdated }

func (l *Log) LatestEventIndex() model.EventIndex {
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Index
}

func (l *Log) Len() int { return len(l.events) }

func (l *Log) Metrics() Metrics { return l.metrics }

// UserMetrics returns the per-user aggregate, zero-valued if the user has
// never produced an event here.
func (l *Log) UserMetrics(userID model.UserID) Metrics {
	if m, ok := l.userMetrics[userID]; ok {
		return *m
	}
	return Metrics{}
}

// ThreadReplies returns the reply indexes for a thread root, nil if none.
func (l *Log) ThreadReplies(root model.EventIndex) []model.EventIndex {
	return l.threads[root]
}

func (l *Log) nextIndex() model.EventIndex {
	return l.firstIndex + model.EventIndex(len(l.events))
}

// get fetches the arena slot for an index, false if out of range.
func (l *Log) get(index model.EventIndex) (*model.EventWrapper, bool) {
	if index < l.firstIndex {
		return nil, false
	}
	i := int(index - l.firstIndex)
	if i >= len(l.events) {
		return nil, false
	}
	return l.events[i], true
}

func (l *Log) userMetric(userID model.UserID) *Metrics {
	m, ok := l.userMetrics[userID]
	if !ok {
		m = &Metrics{}
		l.userMetrics[userID] = m
	}
	return m
}

// EventCountSince counts live events at or after the cutoff matching pred.
func (l *Log) EventCountSince(cutoff model.TimestampMillis, pred func(model.EventPayload) bool) int {
	count := 0
	for i := len(l.events) - 1; i >= 0; i-- {
		e := l.events[i]
		if e.Timestamp < cutoff {
			break
		}
		if !e.Expired && pred(e.Payload) {
			count++
		}
	}
	return count
}
