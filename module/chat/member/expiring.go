package member

import (
	"sort"

	"UProject/module/chat/model"
)

// ExpiringEntry schedules one membership re-check against an access gate.
// Scope is the channel the gate belongs to, or empty for the community
// level gate.
type ExpiringEntry struct {
	Expires model.TimestampMillis `json:"expires"`
	UserID  model.UserID          `json:"user_id"`
	Scope   model.ChatID          `json:"scope,omitempty"`
}

type entryKey struct {
	userID model.UserID
	scope  model.ChatID
}

// ExpiringMembers is the schedule of pending gate re-checks, ordered by
// expiry. It holds at most one entry per (user, scope) pair: pushing a
// fresh entry replaces the stale one.
type ExpiringMembers struct {
	entries []ExpiringEntry
	index   map[entryKey]struct{}
}

func NewExpiringMembers() *ExpiringMembers {
	return &ExpiringMembers{index: make(map[entryKey]struct{})}
}

// Push inserts or replaces the schedule entry for (user, scope).
func (e *ExpiringMembers) Push(entry ExpiringEntry) {
	key := entryKey{userID: entry.UserID, scope: entry.Scope}
	if _, exists := e.index[key]; exists {
		e.removeKey(key)
	}
	i := sort.Search(len(e.entries), func(i int) bool {
		return e.entries[i].Expires > entry.Expires
	})
	e.entries = append(e.entries, ExpiringEntry{})
	copy(e.entries[i+1:], e.entries[i:])
	e.entries[i] = entry
	e.index[key] = struct{}{}
}

// PopDue removes and returns every entry whose expiry has passed.
func (e *ExpiringMembers) PopDue(now model.TimestampMillis) []ExpiringEntry {
	i := sort.Search(len(e.entries), func(i int) bool {
		return e.entries[i].Expires > now
	})
	if i == 0 {
		return nil
	}
	due := make([]ExpiringEntry, i)
	copy(due, e.entries[:i])
	e.entries = e.entries[i:]
	for _, entry := range due {
		delete(e.index, entryKey{userID: entry.UserID, scope: entry.Scope})
	}
	return due
}

// ChangeGateExpiry shifts every entry in the scope by the difference
// between the new and the old gate expiry. Relative order within the
// scope is preserved because the shift is uniform.
func (e *ExpiringMembers) ChangeGateExpiry(scope model.ChatID, delta model.TimestampMillis) {
	if delta == 0 {
		return
	}
	for i := range e.entries {
		if e.entries[i].Scope == scope {
			e.entries[i].Expires += delta
		}
	}
	sort.SliceStable(e.entries, func(i, j int) bool {
		return e.entries[i].Expires < e.entries[j].Expires
	})
}

// RemoveGate drops all entries for the scope, used when the gate loses
// its expiry or is removed entirely.
func (e *ExpiringMembers) RemoveGate(scope model.ChatID) {
	filtered := e.entries[:0]
	for _, entry := range e.entries {
		if entry.Scope == scope {
			delete(e.index, entryKey{userID: entry.UserID, scope: entry.Scope})
			continue
		}
		filtered = append(filtered, entry)
	}
	e.entries = filtered
}

// RemoveMember drops the entry for (user, scope) if one is scheduled.
func (e *ExpiringMembers) RemoveMember(userID model.UserID, scope model.ChatID) bool {
	key := entryKey{userID: userID, scope: scope}
	if _, exists := e.index[key]; !exists {
		return false
	}
	e.removeKey(key)
	return true
}

// RemoveMemberAll drops every entry for the user across all scopes,
// used when the user leaves the community.
func (e *ExpiringMembers) RemoveMemberAll(userID model.UserID) int {
	removed := 0
	filtered := e.entries[:0]
	for _, entry := range e.entries {
		if entry.UserID == userID {
			delete(e.index, entryKey{userID: entry.UserID, scope: entry.Scope})
			removed++
			continue
		}
		filtered = append(filtered, entry)
	}
	e.entries = filtered
	return removed
}

// Contains reports whether (user, scope) is scheduled.
func (e *ExpiringMembers) Contains(userID model.UserID, scope model.ChatID) bool {
	_, ok := e.index[entryKey{userID: userID, scope: scope}]
	return ok
}

// ExpiryOf returns the scheduled expiry for (user, scope), or 0.
func (e *ExpiringMembers) ExpiryOf(userID model.UserID, scope model.ChatID) model.TimestampMillis {
	if _, ok := e.index[entryKey{userID: userID, scope: scope}]; !ok {
		return 0
	}
	for _, entry := range e.entries {
		if entry.UserID == userID && entry.Scope == scope {
			return entry.Expires
		}
	}
	return 0
}

// NextExpiry returns the earliest scheduled expiry, or 0 when empty.
func (e *ExpiringMembers) NextExpiry() model.TimestampMillis {
	if len(e.entries) == 0 {
		return 0
	}
	return e.entries[0].Expires
}

func (e *ExpiringMembers) Len() int { return len(e.entries) }

func (e *ExpiringMembers) removeKey(key entryKey) {
	for i, entry := range e.entries {
		if entry.UserID == key.userID && entry.Scope == key.scope {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	delete(e.index, key)
}
