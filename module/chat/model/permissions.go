package model

// Permission is a single capability bit.
type Permission uint

const (
	PermSendMessage Permission = iota
	PermDeleteMessages
	PermPinMessages
	PermInviteUsers
	PermAddMembers
	PermRemoveMembers
	PermChangeRoles
	PermUpdateDetails
	PermReactToMessages
	PermMentionAll
	PermManageBots

	// Read-oriented permissions. These are the ones stripped from
	// autonomous agents in private scopes they don't own.
	PermReadMessages
	PermReadMembership
	PermReadSummary

	permCount
)

// PermissionSet is a bitset over Permission. The zero value grants nothing.
type PermissionSet uint64

func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

func (s PermissionSet) With(p Permission) PermissionSet    { return s | 1<<p }
func (s PermissionSet) Without(p Permission) PermissionSet { return s &^ (1 << p) }
func (s PermissionSet) Has(p Permission) bool              { return s&(1<<p) != 0 }
func (s PermissionSet) IsEmpty() bool                      { return s == 0 }

// IsSubset reports whether every permission in s is also in other.
// No partial credit: one missing bit fails the whole check.
func (s PermissionSet) IsSubset(other PermissionSet) bool { return s&^other == 0 }

func (s PermissionSet) Intersect(other PermissionSet) PermissionSet { return s & other }
func (s PermissionSet) Union(other PermissionSet) PermissionSet     { return s | other }

// PermittedCategoriesToRead maps read permissions onto the event categories
// a bot may observe. This drives subscription filtering and fan-out.
func (s PermissionSet) PermittedCategoriesToRead() []EventCategory {
	var out []EventCategory
	if s.Has(PermReadMessages) {
		out = append(out, CategoryMessage)
	}
	if s.Has(PermReadMembership) {
		out = append(out, CategoryMembership)
	}
	if s.Has(PermReadSummary) {
		out = append(out, CategoryDetails)
	}
	return out
}

// OwnerPermissions is the synthetic boost granted to a bot that owns its
// scope: every capability bit set.
func OwnerPermissions() PermissionSet {
	return PermissionSet(1<<permCount - 1)
}

// ChatPermissions is the chat-level permission config: the minimum role
// required for each gated action. Reads are granted to every member.
type ChatPermissions struct {
	SendMessage     Role `bson:"send_message" json:"sendMessage"`
	DeleteMessages  Role `bson:"delete_messages" json:"deleteMessages"`
	PinMessages     Role `bson:"pin_messages" json:"pinMessages"`
	InviteUsers     Role `bson:"invite_users" json:"inviteUsers"`
	AddMembers      Role `bson:"add_members" json:"addMembers"`
	RemoveMembers   Role `bson:"remove_members" json:"removeMembers"`
	ChangeRoles     Role `bson:"change_roles" json:"changeRoles"`
	UpdateDetails   Role `bson:"update_details" json:"updateDetails"`
	ReactToMessages Role `bson:"react_to_messages" json:"reactToMessages"`
	MentionAll      Role `bson:"mention_all" json:"mentionAll"`
	ManageBots      Role `bson:"manage_bots" json:"manageBots"`
}

func DefaultChatPermissions() ChatPermissions {
	return ChatPermissions{
		SendMessage:     RoleMember,
		DeleteMessages:  RoleModerator,
		PinMessages:     RoleAdmin,
		InviteUsers:     RoleMember,
		AddMembers:      RoleAdmin,
		RemoveMembers:   RoleModerator,
		ChangeRoles:     RoleAdmin,
		UpdateDetails:   RoleAdmin,
		ReactToMessages: RoleMember,
		MentionAll:      RoleAdmin,
		ManageBots:      RoleOwner,
	}
}

// DerivePermissions is the pure function role x config -> permission set.
func DerivePermissions(role Role, cfg ChatPermissions) PermissionSet {
	var s PermissionSet
	grant := func(p Permission, min Role) {
		if role.IsSameOrSenior(min) {
			s = s.With(p)
		}
	}
	grant(PermSendMessage, cfg.SendMessage)
	grant(PermDeleteMessages, cfg.DeleteMessages)
	grant(PermPinMessages, cfg.PinMessages)
	grant(PermInviteUsers, cfg.InviteUsers)
	grant(PermAddMembers, cfg.AddMembers)
	grant(PermRemoveMembers, cfg.RemoveMembers)
	grant(PermChangeRoles, cfg.ChangeRoles)
	grant(PermUpdateDetails, cfg.UpdateDetails)
	grant(PermReactToMessages, cfg.ReactToMessages)
	grant(PermMentionAll, cfg.MentionAll)
	grant(PermManageBots, cfg.ManageBots)

	// every member can read
	s = s.With(PermReadMessages).With(PermReadMembership).With(PermReadSummary)
	return s
}
