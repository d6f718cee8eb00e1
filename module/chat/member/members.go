// Package member holds the membership state machine for one chat scope:
// roles, verification, blocking, lapsing and the gate-expiry schedule.
package member

import (
	"UProject/module/chat/model"
	"UProject/tools/errs"
)

// MaxMembers bounds one chat's membership. Index units shard communities
// well below this in practice.
const MaxMembers = 100_000

// AddResult is the closed outcome set of an add attempt.
type AddResult int

const (
	AddSuccess AddResult = iota
	AddAlreadyIn
	AddBlocked
	AddLimitReached
)

// Members is the member map for one scope. Not safe for concurrent use:
// the unit runtime serializes access.
type Members struct {
	members map[model.UserID]*model.Member
	blocked map[model.UserID]struct{}

	ownerCount     int
	adminCount     int
	moderatorCount int

	lastUpdated model.TimestampMillis
}

func NewMembers() *Members {
	return &Members{
		members: make(map[model.UserID]*model.Member),
		blocked: make(map[model.UserID]struct{}),
	}
}

// Add creates a membership. The visibility floor is fixed here and never
// raised afterwards.
func (m *Members) Add(
	userID model.UserID,
	userType model.UserType,
	minVisibleEventIndex model.EventIndex,
	muteNotifications bool,
	now model.TimestampMillis,
) AddResult {
	if _, isBlocked := m.blocked[userID]; isBlocked {
		return AddBlocked
	}
	if _, exists := m.members[userID]; exists {
		return AddAlreadyIn
	}
	if len(m.members) >= MaxMembers {
		return AddLimitReached
	}
	m.members[userID] = &model.Member{
		UserID:               userID,
		Role:                 model.RoleMember,
		UserType:             userType,
		DateAdded:            now,
		MinVisibleEventIndex: minVisibleEventIndex,
		NotificationsMuted:   muteNotifications,
	}
	m.lastUpdated = now
	return AddSuccess
}

// Remove deletes the membership. The caller owns the follow-up cleanup
// (expiry schedule, achievements, caches in sibling stores).
func (m *Members) Remove(userID model.UserID, now model.TimestampMillis) (*model.Member, bool) {
	member, ok := m.members[userID]
	if !ok {
		return nil, false
	}
	m.adjustRoleCount(member.Role, -1)
	delete(m.members, userID)
	m.lastUpdated = now
	return member, true
}

func (m *Members) Block(userID model.UserID, now model.TimestampMillis) {
	m.blocked[userID] = struct{}{}
	m.lastUpdated = now
}

func (m *Members) Unblock(userID model.UserID, now model.TimestampMillis) {
	delete(m.blocked, userID)
	m.lastUpdated = now
}

func (m *Members) IsBlocked(userID model.UserID) bool {
	_, ok := m.blocked[userID]
	return ok
}

func (m *Members) Get(userID model.UserID) (*model.Member, bool) {
	member, ok := m.members[userID]
	return member, ok
}

func (m *Members) Contains(userID model.UserID) bool {
	_, ok := m.members[userID]
	return ok
}

// GetVerified resolves a member who is allowed to act right now. Check
// order is fixed: membership, then suspension, then lapse.
func (m *Members) GetVerified(userID model.UserID) (*model.Member, error) {
	member, ok := m.members[userID]
	if !ok {
		return nil, errs.ErrInitiatorNotInChat
	}
	if err := member.Verify(); err != nil {
		return nil, err
	}
	return member, nil
}

// ChangeRole moves a member to a new role, keeping the role counters and
// the at-least-one-owner invariant intact.
func (m *Members) ChangeRole(userID model.UserID, newRole model.Role, now model.TimestampMillis) error {
	member, ok := m.members[userID]
	if !ok {
		return errs.ErrTargetUserNotFound
	}
	if member.Role == newRole {
		return nil
	}
	if member.Role.IsOwner() && m.ownerCount == 1 {
		return errs.ErrInitiatorNotAuthorized.WrapMsg("cannot demote the last owner")
	}
	m.adjustRoleCount(member.Role, -1)
	member.Role = newRole
	m.adjustRoleCount(newRole, 1)
	m.lastUpdated = now
	return nil
}

func (m *Members) SetSuspended(userID model.UserID, suspended bool, now model.TimestampMillis) bool {
	member, ok := m.members[userID]
	if !ok {
		return false
	}
	member.Suspended = suspended
	m.lastUpdated = now
	return true
}

// UpdateLapsed flips the lapsed flag. Owners and bots never lapse, so a
// lapse request for them is ignored.
func (m *Members) UpdateLapsed(userID model.UserID, lapsed bool, now model.TimestampMillis) {
	member, ok := m.members[userID]
	if !ok {
		return
	}
	if lapsed && !member.CanLapse() {
		return
	}
	member.Lapsed = lapsed
	m.lastUpdated = now
}

// UnlapseAll clears every lapsed flag, used when an expiring gate is
// removed from the scope.
func (m *Members) UnlapseAll(now model.TimestampMillis) {
	changed := false
	for _, member := range m.members {
		if member.Lapsed {
			member.Lapsed = false
			changed = true
		}
	}
	if changed {
		m.lastUpdated = now
	}
}

// IterWhoCanLapse returns the users a newly expiring gate applies to.
func (m *Members) IterWhoCanLapse() []model.UserID {
	var out []model.UserID
	for id, member := range m.members {
		if member.CanLapse() {
			out = append(out, id)
		}
	}
	return out
}

func (m *Members) Len() int { return len(m.members) }

func (m *Members) Owners() []model.UserID {
	var out []model.UserID
	for id, member := range m.members {
		if member.Role.IsOwner() {
			out = append(out, id)
		}
	}
	return out
}

func (m *Members) RoleCounts() (owners, admins, moderators int) {
	return m.ownerCount, m.adminCount, m.moderatorCount
}

func (m *Members) BlockedCount() int { return len(m.blocked) }

func (m *Members) LastUpdated() model.TimestampMillis { return m.lastUpdated }

// AddOwner seeds the creating member. Only used at chat construction.
func (m *Members) AddOwner(userID model.UserID, userType model.UserType, now model.TimestampMillis) {
	m.members[userID] = &model.Member{
		UserID:    userID,
		Role:      model.RoleOwner,
		UserType:  userType,
		DateAdded: now,
	}
	m.ownerCount++
	m.lastUpdated = now
}

func (m *Members) adjustRoleCount(role model.Role, delta int) {
	switch role {
	case model.RoleOwner:
		m.ownerCount += delta
	case model.RoleAdmin:
		m.adminCount += delta
	case model.RoleModerator:
		m.moderatorCount += delta
	}
}
