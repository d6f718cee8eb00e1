package model

import "UProject/tools/errs"

// Member is one user's membership record in one chat.
type Member struct {
	UserID    UserID          `bson:"user_id" json:"userId"`
	Role      Role            `bson:"role" json:"role"`
	UserType  UserType        `bson:"user_type" json:"userType"`
	DateAdded TimestampMillis `bson:"date_added" json:"dateAdded"`

	// Visibility floor set at join time: events below this index never
	// become visible to this member, regardless of role.
	MinVisibleEventIndex EventIndex `bson:"min_visible_event_index" json:"minVisibleEventIndex"`

	// Lapsed means a gated membership has expired pending re-verification.
	// Suspended takes precedence over Lapsed everywhere both are checked.
	Lapsed    bool `bson:"lapsed,omitempty" json:"lapsed,omitempty"`
	Suspended bool `bson:"suspended,omitempty" json:"suspended,omitempty"`

	NotificationsMuted bool `bson:"notifications_muted,omitempty" json:"notificationsMuted,omitempty"`

	// Thread roots this member follows, for summary/unread tracking.
	FollowedThreads map[EventIndex]TimestampMillis `bson:"followed_threads,omitempty" json:"followedThreads,omitempty"`
}

// Verify returns the typed rejection for a member who may not act right
// now. Order matters: suspension wins over lapse.
func (m *Member) Verify() error {
	if m.Suspended {
		return errs.ErrInitiatorSuspended
	}
	if m.Lapsed {
		return errs.ErrInitiatorLapsed
	}
	return nil
}

// CanLapse reports whether a gate expiry applies to this member. Owners and
// platform bots never lapse.
func (m *Member) CanLapse() bool {
	return !m.Role.IsOwner() && !m.UserType.IsBot()
}

// AccessGateConfig is the precondition controlling membership eligibility.
// Only the expiry matters to this engine; verifying the gate itself
// (payment, credential, balance) is a collaborator concern.
type AccessGateConfig struct {
	GateKind string          `bson:"gate_kind" json:"gateKind"`                // payment / credential / token_balance / ...
	Expiry   TimestampMillis `bson:"expiry,omitempty" json:"expiry,omitempty"` // membership lifetime in ms; 0 = no expiry
}

// ExpiryOrZero is nil-safe: a missing gate has no expiry.
func (g *AccessGateConfig) ExpiryOrZero() TimestampMillis {
	if g == nil {
		return 0
	}
	return g.Expiry
}
