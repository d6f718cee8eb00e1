package events

import (
	"encoding/json"

	"UProject/module/chat/model"
)

// storedEvent is one arena slot in serialized form. Payloads ride the
// kind-tagged codec; tombstones carry none.
type storedEvent struct {
	Index     model.EventIndex      `json:"index"`
	Timestamp model.TimestampMillis `json:"timestamp"`
	ExpiresAt model.TimestampMillis `json:"expiresAt,omitempty"`
	Expired   bool                  `json:"expired,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
}

// LogSnapshot is the serializable form of one chat's log. Derived indexes
// (threads, message id dedup, bot subscriptions) are rebuilt on restore,
// not stored.
type LogSnapshot struct {
	ChatID               model.ChatID              `json:"chatId"`
	FirstIndex           model.EventIndex          `json:"firstIndex"`
	EventsTTL            model.TimestampMillis     `json:"eventsTtl,omitempty"`
	EventsTTLLastUpdated model.TimestampMillis     `json:"eventsTtlLastUpdated,omitempty"`
	Events               []storedEvent             `json:"events"`
	ExpiredRanges        []model.ExpiredRange      `json:"expiredRanges,omitempty"`
	Metrics              Metrics                   `json:"metrics"`
	UserMetrics          map[model.UserID]*Metrics `json:"userMetrics,omitempty"`
	LastUpdated          model.TimestampMillis     `json:"lastUpdated"`
}

// Snapshot serializes the log for the unit's stable blob.
func (l *Log) Snapshot() (*LogSnapshot, error) {
	snap := &LogSnapshot{
		ChatID:               l.chatID,
		FirstIndex:           l.firstIndex,
		EventsTTL:            l.eventsTTL,
		EventsTTLLastUpdated: l.eventsTTLLastUpdated,
		Events:               make([]storedEvent, 0, len(l.events)),
		ExpiredRanges:        l.expiredRanges,
		Metrics:              l.metrics,
		UserMetrics:          l.userMetrics,
		LastUpdated:          l.lastUpdated,
	}
	for _, e := range l.events {
		se := storedEvent{
			Index:     e.Index,
			Timestamp: e.Timestamp,
			ExpiresAt: e.ExpiresAt,
			Expired:   e.Expired,
		}
		if e.Payload != nil {
			raw, err := model.EncodePayload(e.Payload)
			if err != nil {
				return nil, err
			}
			se.Payload = raw
		}
		snap.Events = append(snap.Events, se)
	}
	return snap, nil
}

// RestoreLog rebuilds a log from its snapshot, recomputing the derived
// indexes from the payloads.
func RestoreLog(snap *LogSnapshot) (*Log, error) {
	l := NewLog(snap.ChatID, snap.EventsTTL, snap.LastUpdated)
	l.firstIndex = snap.FirstIndex
	l.eventsTTLLastUpdated = snap.EventsTTLLastUpdated
	l.expiredRanges = snap.ExpiredRanges
	l.metrics = snap.Metrics
	if snap.UserMetrics != nil {
		l.userMetrics = snap.UserMetrics
	}
	l.lastUpdated = snap.LastUpdated

	for _, se := range snap.Events {
		e := &model.EventWrapper{
			Index:     se.Index,
			Timestamp: se.Timestamp,
			ExpiresAt: se.ExpiresAt,
			Expired:   se.Expired,
		}
		if len(se.Payload) > 0 && !se.Expired {
			p, err := model.DecodePayload(se.Payload)
			if err != nil {
				return nil, err
			}
			e.Payload = p
			if msg, isMsg := p.(*model.MessageEvent); isMsg {
				l.messageIDs[msg.MessageID] = e.Index
				if msg.ThreadRoot != 0 {
					l.threads[msg.ThreadRoot] = append(l.threads[msg.ThreadRoot], e.Index)
				}
			}
		}
		l.events = append(l.events, e)
	}
	return l, nil
}
