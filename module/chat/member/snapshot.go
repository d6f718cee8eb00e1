package member

import (
	"sort"

	"UProject/module/chat/model"
)

// MembersSnapshot is the serializable form of one scope's membership.
// Role counters are recomputed on restore.
type MembersSnapshot struct {
	Members     []*model.Member       `json:"members"`
	Blocked     []model.UserID        `json:"blocked,omitempty"`
	LastUpdated model.TimestampMillis `json:"lastUpdated"`
}

func (m *Members) Snapshot() *MembersSnapshot {
	snap := &MembersSnapshot{
		Members:     make([]*model.Member, 0, len(m.members)),
		LastUpdated: m.lastUpdated,
	}
	for _, member := range m.members {
		snap.Members = append(snap.Members, member)
	}
	sort.Slice(snap.Members, func(i, j int) bool {
		return snap.Members[i].UserID < snap.Members[j].UserID
	})
	for id := range m.blocked {
		snap.Blocked = append(snap.Blocked, id)
	}
	sort.Slice(snap.Blocked, func(i, j int) bool { return snap.Blocked[i] < snap.Blocked[j] })
	return snap
}

func RestoreMembers(snap *MembersSnapshot) *Members {
	m := NewMembers()
	for _, member := range snap.Members {
		copied := *member
		m.members[copied.UserID] = &copied
		m.adjustRoleCount(copied.Role, 1)
	}
	for _, id := range snap.Blocked {
		m.blocked[id] = struct{}{}
	}
	m.lastUpdated = snap.LastUpdated
	return m
}

// Snapshot returns the schedule entries in expiry order.
func (e *ExpiringMembers) Snapshot() []ExpiringEntry {
	out := make([]ExpiringEntry, len(e.entries))
	copy(out, e.entries)
	return out
}

func RestoreExpiring(entries []ExpiringEntry) *ExpiringMembers {
	e := NewExpiringMembers()
	for _, entry := range entries {
		e.Push(entry)
	}
	return e
}
