// Package core aggregates one chat's event log, membership, bot registry
// and gate-expiry schedule behind permission-checked operations. Every
// mutation enters through a method here; the unit runtime serializes calls.
package core

import (
	"UProject/module/chat/bots"
	"UProject/module/chat/events"
	"UProject/module/chat/member"
	"UProject/module/chat/model"
	"UProject/tools/errs"
)

// GroupChatCore is one group chat's (or one channel's) full state.
type GroupChatCore struct {
	ChatID      model.ChatID
	Name        string
	IsPublic    bool
	CreatedBy   model.UserID
	DateCreated model.TimestampMillis

	// HistoryVisible controls the visibility floor assigned at join time:
	// when false, new members only see events from their join onwards.
	HistoryVisible bool

	Permissions model.ChatPermissions
	Gate        *model.AccessGateConfig

	Members  *member.Members
	Bots     *bots.Registry
	Events   *events.Log
	Expiring *member.ExpiringMembers

	// FrozenBy non-empty means the platform froze this chat; every
	// member-initiated update is rejected until unfreeze.
	FrozenBy model.UserID
}

func NewGroupChatCore(
	chatID model.ChatID,
	name string,
	isPublic bool,
	historyVisible bool,
	createdBy model.UserID,
	creatorType model.UserType,
	eventsTTL model.TimestampMillis,
	now model.TimestampMillis,
) *GroupChatCore {
	c := &GroupChatCore{
		ChatID:         chatID,
		Name:           name,
		IsPublic:       isPublic,
		CreatedBy:      createdBy,
		DateCreated:    now,
		HistoryVisible: historyVisible,
		Permissions:    model.DefaultChatPermissions(),
		Members:        member.NewMembers(),
		Bots:           bots.NewRegistry(),
		Events:         events.NewLog(chatID, eventsTTL, now),
		Expiring:       member.NewExpiringMembers(),
	}
	c.Members.AddOwner(createdBy, creatorType, now)
	return c
}

func (c *GroupChatCore) IsFrozen() bool { return c.FrozenBy != "" }

// minVisibleForJoin is the visibility floor for a member joining now.
func (c *GroupChatCore) minVisibleForJoin() model.EventIndex {
	if c.HistoryVisible {
		return 0
	}
	return c.Events.LatestEventIndex() + 1
}

// memberPermissions is role x chat config for a verified member.
func (c *GroupChatCore) memberPermissions(m *model.Member) model.PermissionSet {
	return model.DerivePermissions(m.Role, c.Permissions)
}

// requirePermission resolves the caller's permission set and checks one
// required capability. Webhook and system callers are trusted by
// construction; agents go through the full grant composition.
func (c *GroupChatCore) requirePermission(caller model.Caller, required model.Permission) error {
	switch caller.Kind {
	case model.CallerWebhook, model.CallerSystemBot:
		return nil
	case model.CallerAgent:
		errs.Assert(caller.Initiator != nil, "agent caller without initiator")
		granted, err := c.GrantedBotPermissions(caller.UserID, *caller.Initiator)
		if err != nil {
			return err
		}
		if !IsBotPermitted(model.NewPermissionSet(required), granted) {
			return errs.ErrBotNotPermitted
		}
		return nil
	default:
		m, err := c.Members.GetVerified(caller.UserID)
		if err != nil {
			return err
		}
		if !c.memberPermissions(m).Has(required) {
			return errs.ErrInitiatorNotAuthorized
		}
		return nil
	}
}

// SendMessageResult is what a successful send hands back to the runtime:
// the assigned index plus the fan-out obligations to enqueue.
type SendMessageResult struct {
	Index           model.EventIndex
	Timestamp       model.TimestampMillis
	ExpiresAt       model.TimestampMillis
	BotNotification *model.BotNotification
}

// SendMessage validates and appends a message event.
func (c *GroupChatCore) SendMessage(caller model.Caller, msg *model.MessageEvent, now model.TimestampMillis) (SendMessageResult, error) {
	if c.IsFrozen() {
		return SendMessageResult{}, errs.ErrChatFrozen
	}
	if msg.Content.Text == "" && len(msg.Content.FileRefs) == 0 && msg.Content.PrizeAmount == 0 {
		return SendMessageResult{}, errs.ErrContentValidation.WrapMsg("empty message")
	}
	if err := c.requirePermission(caller, model.PermSendMessage); err != nil {
		return SendMessageResult{}, err
	}

	msg.Sender = caller.UserID
	res, err := c.Events.PushMessage(msg, now)
	if err != nil {
		return SendMessageResult{}, err
	}
	return SendMessageResult{
		Index:           res.Index,
		Timestamp:       now,
		ExpiresAt:       res.ExpiresAt,
		BotNotification: res.BotNotification,
	}, nil
}

// AddMembers adds users on behalf of a permitted caller. Already-present
// and blocked users are skipped and reported, not errors: batch adds from
// index units must converge across retries.
type AddMembersResult struct {
	Added           []model.UserID
	AlreadyIn       []model.UserID
	Blocked         []model.UserID
	BotNotification *model.BotNotification
}

func (c *GroupChatCore) AddMembers(caller model.Caller, userIDs []model.UserID, now model.TimestampMillis) (AddMembersResult, error) {
	if c.IsFrozen() {
		return AddMembersResult{}, errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermAddMembers); err != nil {
		return AddMembersResult{}, err
	}

	var result AddMembersResult
	minVisible := c.minVisibleForJoin()
	for _, userID := range userIDs {
		switch c.Members.Add(userID, model.UserTypeHuman, minVisible, false, now) {
		case member.AddSuccess:
			result.Added = append(result.Added, userID)
			if expiry := c.Gate.ExpiryOrZero(); expiry > 0 {
				c.Expiring.Push(member.ExpiringEntry{Expires: now + expiry, UserID: userID, Scope: c.ChatID})
			}
		case member.AddAlreadyIn:
			result.AlreadyIn = append(result.AlreadyIn, userID)
		case member.AddBlocked:
			result.Blocked = append(result.Blocked, userID)
		case member.AddLimitReached:
			return result, errs.ErrMemberLimitReached
		}
	}

	if len(result.Added) > 0 {
		res := c.Events.Push(&model.MembersAddedEvent{UserIDs: result.Added, AddedBy: caller.UserID}, now)
		result.BotNotification = res.BotNotification
	}
	return result, nil
}

// Leave removes the caller's own membership.
func (c *GroupChatCore) Leave(caller model.Caller, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	m, ok := c.Members.Get(caller.UserID)
	if !ok {
		return errs.ErrInitiatorNotInChat
	}
	if m.Suspended {
		return errs.ErrInitiatorSuspended
	}
	if m.Role.IsOwner() && len(c.Members.Owners()) == 1 && c.Members.Len() > 1 {
		return errs.ErrInitiatorNotAuthorized.WrapMsg("last owner cannot leave a non-empty chat")
	}

	c.Members.Remove(caller.UserID, now)
	c.Expiring.RemoveMember(caller.UserID, c.ChatID)
	c.Events.Push(&model.MemberLeftEvent{UserID: caller.UserID}, now)
	return nil
}

// RemoveMember removes (and optionally blocks) a target member. The actor
// must outrank the target.
func (c *GroupChatCore) RemoveMember(caller model.Caller, target model.UserID, block bool, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermRemoveMembers); err != nil {
		return err
	}
	targetMember, ok := c.Members.Get(target)
	if !ok {
		return errs.ErrTargetUserNotFound
	}
	if actor, isMember := c.Members.Get(caller.UserID); isMember {
		if !actor.Role.IsSameOrSenior(targetMember.Role) || targetMember.Role.IsOwner() {
			return errs.ErrInitiatorNotAuthorized
		}
	}

	c.Members.Remove(target, now)
	c.Expiring.RemoveMember(target, c.ChatID)
	if block {
		c.Members.Block(target, now)
	}
	c.Events.Push(&model.MembersRemovedEvent{UserIDs: []model.UserID{target}, RemovedBy: caller.UserID}, now)
	return nil
}

// ChangeRole moves a target member to a new role. The actor must hold
// ChangeRoles and cannot grant a role senior to their own.
func (c *GroupChatCore) ChangeRole(caller model.Caller, target model.UserID, newRole model.Role, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermChangeRoles); err != nil {
		return err
	}
	if actor, isMember := c.Members.Get(caller.UserID); isMember && !actor.Role.IsSameOrSenior(newRole) {
		return errs.ErrInitiatorNotAuthorized
	}
	targetMember, ok := c.Members.Get(target)
	if !ok {
		return errs.ErrTargetUserNotFound
	}
	oldRole := targetMember.Role
	if err := c.Members.ChangeRole(target, newRole, now); err != nil {
		return err
	}
	if oldRole != newRole {
		c.Events.Push(&model.RoleChangedEvent{
			UserIDs: []model.UserID{target}, ChangedBy: caller.UserID,
			OldRole: oldRole, NewRole: newRole,
		}, now)
	}
	return nil
}

// SetEventsTTL updates the TTL for future events and logs the change.
func (c *GroupChatCore) SetEventsTTL(caller model.Caller, ttl model.TimestampMillis, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermUpdateDetails); err != nil {
		return err
	}
	if ttl == c.Events.EventsTTL() {
		return nil
	}
	c.Events.SetEventsTTL(ttl, now)
	c.Events.Push(&model.EventsTTLUpdatedEvent{UpdatedBy: caller.UserID, NewTTL: ttl}, now)
	return nil
}

// Freeze and Unfreeze are platform operations; they bypass member checks.
func (c *GroupChatCore) Freeze(frozenBy model.UserID, reason string, now model.TimestampMillis) {
	if c.IsFrozen() {
		return
	}
	c.FrozenBy = frozenBy
	c.Events.Push(&model.FrozenEvent{FrozenBy: frozenBy, Reason: reason}, now)
}

func (c *GroupChatCore) Unfreeze(unfrozenBy model.UserID, now model.TimestampMillis) {
	if !c.IsFrozen() {
		return
	}
	c.FrozenBy = ""
	c.Events.Push(&model.UnfrozenEvent{UnfrozenBy: unfrozenBy}, now)
}

// UpdateGate replaces the access gate, reconciling the expiry schedule
// against the new configuration. Four cases by (old expiry, new expiry):
// both set shifts every scheduled entry by the delta; set-then-unset clears
// lapsed flags and drops the scope's entries; unset-then-set schedules a
// fresh entry for every member who can lapse; neither is a no-op. Repeated
// writes of the same gate leave the schedule untouched.
func (c *GroupChatCore) UpdateGate(caller model.Caller, newGate *model.AccessGateConfig, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermUpdateDetails); err != nil {
		return err
	}

	oldExpiry := c.Gate.ExpiryOrZero()
	newExpiry := newGate.ExpiryOrZero()

	switch {
	case oldExpiry > 0 && newExpiry > 0:
		c.Expiring.ChangeGateExpiry(c.ChatID, newExpiry-oldExpiry)
	case oldExpiry > 0 && newExpiry == 0:
		c.Members.UnlapseAll(now)
		c.Expiring.RemoveGate(c.ChatID)
	case oldExpiry == 0 && newExpiry > 0:
		for _, userID := range c.Members.IterWhoCanLapse() {
			c.Expiring.Push(member.ExpiringEntry{Expires: now + newExpiry, UserID: userID, Scope: c.ChatID})
		}
	}

	c.Gate = newGate
	c.Events.Push(&model.GateUpdatedEvent{UpdatedBy: caller.UserID}, now)
	return nil
}

// MarkLapsed pops every due gate re-check and flips the lapsed flag.
// Returns the users needing re-verification against the gate.
func (c *GroupChatCore) MarkLapsed(now model.TimestampMillis) []model.UserID {
	due := c.Expiring.PopDue(now)
	if len(due) == 0 {
		return nil
	}
	out := make([]model.UserID, 0, len(due))
	for _, entry := range due {
		c.Members.UpdateLapsed(entry.UserID, true, now)
		out = append(out, entry.UserID)
	}
	return out
}

// InstallBot installs an agent, subscribing it to the categories its
// autonomous grant can actually read.
func (c *GroupChatCore) InstallBot(caller model.Caller, bot model.InstalledBot, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermManageBots); err != nil {
		return err
	}
	if !c.Bots.Add(bot, now) {
		return errs.ErrInitiatorNotAuthorized.WrapMsg("bot already installed", "bot", string(bot.BotID))
	}
	installed, _ := c.Bots.Get(bot.BotID)
	c.Events.SubscribeBot(bot.BotID, bots.PermittedSubscriptions(installed))
	c.Events.Push(&model.BotAddedEvent{BotID: bot.BotID, AddedBy: caller.UserID}, now)
	return nil
}

// UpdateBot replaces an installed agent's grants and re-filters its
// subscriptions against the new autonomous grant.
func (c *GroupChatCore) UpdateBot(
	caller model.Caller,
	botID model.UserID,
	commandPerms model.PermissionSet,
	autonomousPerms *model.PermissionSet,
	now model.TimestampMillis,
) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermManageBots); err != nil {
		return err
	}
	if !c.Bots.Update(botID, commandPerms, autonomousPerms, now) {
		return errs.ErrBotNotInstalled
	}
	bot, _ := c.Bots.Get(botID)
	c.Events.SubscribeBot(botID, bots.PermittedSubscriptions(bot))
	c.Events.Push(&model.BotUpdatedEvent{BotID: botID, UpdatedBy: caller.UserID}, now)
	return nil
}

// UninstallBot removes an agent and its fan-out subscriptions.
func (c *GroupChatCore) UninstallBot(caller model.Caller, botID model.UserID, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermManageBots); err != nil {
		return err
	}
	if _, ok := c.Bots.Remove(botID, now); !ok {
		return errs.ErrBotNotInstalled
	}
	c.Events.UnsubscribeBot(botID)
	c.Events.Push(&model.BotRemovedEvent{BotID: botID, RemovedBy: caller.UserID}, now)
	return nil
}

// RegisterWebhook provisions a webhook identity as a muted member of type
// webhook. Only principals registered this way may carry the webhook
// caller tag on inbound calls. Re-registering is a no-op.
func (c *GroupChatCore) RegisterWebhook(caller model.Caller, webhookID model.UserID, now model.TimestampMillis) error {
	if c.IsFrozen() {
		return errs.ErrChatFrozen
	}
	if err := c.requirePermission(caller, model.PermManageBots); err != nil {
		return err
	}
	if existing, ok := c.Members.Get(webhookID); ok {
		if existing.UserType == model.UserTypeWebhook {
			return nil
		}
		return errs.ErrInitiatorNotAuthorized.WrapMsg("principal already in chat as non-webhook", "webhook", string(webhookID))
	}
	switch c.Members.Add(webhookID, model.UserTypeWebhook, c.minVisibleForJoin(), true, now) {
	case member.AddBlocked:
		return errs.ErrTargetUserBlocked
	case member.AddLimitReached:
		return errs.ErrMemberLimitReached
	}
	return nil
}

// EventsReader builds the caller's visibility-floored read view. Queries
// are allowed for lapsed members (they keep their history) but not for
// suspended ones.
func (c *GroupChatCore) EventsReader(caller model.Caller, now model.TimestampMillis) (*events.Reader, error) {
	switch caller.Kind {
	case model.CallerSystemBot:
		return c.Events.VisibleReader(0, now), nil
	case model.CallerAgent:
		errs.Assert(caller.Initiator != nil, "agent caller without initiator")
		granted, err := c.GrantedBotPermissions(caller.UserID, *caller.Initiator)
		if err != nil {
			return nil, err
		}
		if !granted.Has(model.PermReadMessages) {
			return nil, errs.ErrBotNotPermitted
		}
		return c.Events.VisibleReader(0, now), nil
	default:
		m, ok := c.Members.Get(caller.UserID)
		if !ok {
			return nil, errs.ErrInitiatorNotInChat
		}
		if m.Suspended {
			return nil, errs.ErrInitiatorSuspended
		}
		return c.Events.VisibleReader(m.MinVisibleEventIndex, now), nil
	}
}

// RemoveExpiredEvents runs one expiry sweep and returns the side-effect
// obligations for the job system.
func (c *GroupChatCore) RemoveExpiredEvents(now model.TimestampMillis) events.ExpiryResult {
	return c.Events.RemoveExpired(now)
}

// NextMaintenanceDue is the earliest time a sweep or lapse check is needed,
// 0 when nothing is scheduled.
func (c *GroupChatCore) NextMaintenanceDue() model.TimestampMillis {
	next := c.Events.NextEventExpiry()
	if lapse := c.Expiring.NextExpiry(); lapse != 0 && (next == 0 || lapse < next) {
		next = lapse
	}
	return next
}

// Summary is the lightweight snapshot synced to index units.
type Summary struct {
	ChatID           model.ChatID          `json:"chatId"`
	Name             string                `json:"name"`
	IsPublic         bool                  `json:"isPublic"`
	Frozen           bool                  `json:"frozen"`
	MemberCount      int                   `json:"memberCount"`
	InstalledBots    int                   `json:"installedBots"`
	LatestEventIndex model.EventIndex      `json:"latestEventIndex"`
	LastUpdated      model.TimestampMillis `json:"lastUpdated"`
	EventsTTL        model.TimestampMillis `json:"eventsTtl,omitempty"`
	Metrics          events.Metrics        `json:"metrics"`
}

func (c *GroupChatCore) Summarize() Summary {
	lastUpdated := c.Events.LastUpdated()
	if mu := c.Members.LastUpdated(); mu > lastUpdated {
		lastUpdated = mu
	}
	return Summary{
		ChatID:           c.ChatID,
		Name:             c.Name,
		IsPublic:         c.IsPublic,
		Frozen:           c.IsFrozen(),
		MemberCount:      c.Members.Len(),
		InstalledBots:    c.Bots.Len(),
		LatestEventIndex: c.Events.LatestEventIndex(),
		LastUpdated:      lastUpdated,
		EventsTTL:        c.Events.EventsTTL(),
		Metrics:          c.Events.Metrics(),
	}
}
