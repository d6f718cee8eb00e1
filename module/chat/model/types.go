package model

// EventIndex addresses one event within one log. Indices are assigned at
// append time, strictly increase, and are never reused. They are local to
// their log: two logs' indices are unrelated.
type EventIndex uint64

// TimestampMillis is Unix epoch milliseconds. All unit-local time comes from
// the unit Env, never from time.Now directly, so tests can pin the clock.
type TimestampMillis = int64

// UserID identifies a user across units.
type UserID string

// UnitID addresses one unit (an isolated compute/storage actor).
type UnitID string

// ChatID identifies a chat (direct, group, or channel) within its unit.
type ChatID string

// MessageID is a caller-supplied snowflake used to deduplicate sends.
type MessageID int64

// UserType distinguishes the flavors of principals that can hold membership.
type UserType int32

const (
	UserTypeHuman     UserType = iota
	UserTypeBot                // legacy member bot
	UserTypeSystemBot          // operated by the platform itself
	UserTypeAgent              // autonomous agent installed via the bot registry
	UserTypeWebhook
)

func (t UserType) IsBot() bool {
	return t != UserTypeHuman
}

// Role is totally ordered: Owner > Admin > Moderator > Member.
type Role int32

const (
	RoleMember Role = iota
	RoleModerator
	RoleAdmin
	RoleOwner
)

func (r Role) IsOwner() bool { return r == RoleOwner }

func (r Role) IsSameOrSenior(other Role) bool { return r >= other }

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleAdmin:
		return "admin"
	case RoleModerator:
		return "moderator"
	default:
		return "member"
	}
}
