package events

import "UProject/module/chat/model"

// Metrics is the running aggregate of event counts by type. One instance
// tracks the whole log, plus one per sender for user metrics.
type Metrics struct {
	TotalEvents    int64 `json:"totalEvents"`
	Messages       int64 `json:"messages"`
	ThreadMessages int64 `json:"threadMessages"`
	Membership     int64 `json:"membership"`
	Details        int64 `json:"details"`
}

func (m *Metrics) record(payload model.EventPayload) {
	m.TotalEvents++
	switch p := payload.(type) {
	case *model.MessageEvent:
		m.Messages++
		if p.ThreadRoot != 0 {
			m.ThreadMessages++
		}
	default:
		switch payload.Category() {
		case model.CategoryMembership:
			m.Membership++
		case model.CategoryDetails:
			m.Details++
		}
	}
}
