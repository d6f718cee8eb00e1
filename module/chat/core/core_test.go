package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"UProject/module/chat/model"
	"UProject/tools/errs"
)

func newTestChat(isPublic bool) *GroupChatCore {
	return NewGroupChatCore("chat1", "general", isPublic, true, "owner", model.UserTypeHuman, 0, 1000)
}

func userCaller(id model.UserID) model.Caller {
	return model.Caller{Kind: model.CallerUser, UserID: id}
}

func addHuman(t *testing.T, c *GroupChatCore, id model.UserID, now model.TimestampMillis) {
	t.Helper()
	res, err := c.AddMembers(userCaller("owner"), []model.UserID{id}, now)
	require.NoError(t, err)
	require.Contains(t, res.Added, id)
}

func TestVerifiedCallerOrdering(t *testing.T) {
	c := newTestChat(false)
	addHuman(t, c, "alice", 1001)

	// A registered webhook identity resolves via its tag; agent tags
	// bypass membership entirely.
	require.NoError(t, c.RegisterWebhook(userCaller("owner"), "hook", 1002))
	caller, err := c.VerifiedCaller(ExternalCaller{Principal: "hook", Webhook: true})
	require.NoError(t, err)
	assert.Equal(t, model.CallerWebhook, caller.Kind)

	caller, err = c.VerifiedCaller(ExternalCaller{
		Principal: "bot1",
		Agent:     &AgentTag{BotID: "bot1", Initiator: model.BotInitiator{Kind: model.InitiatorAutonomous}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.CallerAgent, caller.Kind)

	caller, err = c.VerifiedCaller(ExternalCaller{Principal: SystemPrincipal})
	require.NoError(t, err)
	assert.Equal(t, model.CallerSystemBot, caller.Kind)

	caller, err = c.VerifiedCaller(ExternalCaller{Principal: "alice"})
	require.NoError(t, err)
	assert.Equal(t, model.CallerUser, caller.Kind)

	_, err = c.VerifiedCaller(ExternalCaller{Principal: "stranger"})
	assert.ErrorIs(t, err, errs.ErrInitiatorNotInChat)
}

func TestWebhookTagOnlyForRegisteredIdentities(t *testing.T) {
	c := newTestChat(false)
	addHuman(t, c, "alice", 1001)

	// unregistered principals cannot claim the tag, member or not
	_, err := c.VerifiedCaller(ExternalCaller{Principal: "stranger", Webhook: true})
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)
	_, err = c.VerifiedCaller(ExternalCaller{Principal: "alice", Webhook: true})
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)

	// registration needs the manage-bots grant
	err = c.RegisterWebhook(userCaller("alice"), "hook", 1002)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)
	require.NoError(t, c.RegisterWebhook(userCaller("owner"), "hook", 1003))

	// re-registering converges, an existing human id does not
	require.NoError(t, c.RegisterWebhook(userCaller("owner"), "hook", 1004))
	err = c.RegisterWebhook(userCaller("owner"), "alice", 1005)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)

	caller, err := c.VerifiedCaller(ExternalCaller{Principal: "hook", Webhook: true})
	require.NoError(t, err)
	assert.Equal(t, model.CallerWebhook, caller.Kind)

	// the tag carries full operation rights once verified
	_, err = c.SendMessage(caller, &model.MessageEvent{MessageID: 9, Content: model.MessageContent{Text: "ping"}}, 1006)
	assert.NoError(t, err)
}

func TestVerifiedCallerSuspensionBeatsLapse(t *testing.T) {
	c := newTestChat(false)
	addHuman(t, c, "alice", 1001)
	m, _ := c.Members.Get("alice")
	m.Suspended = true
	m.Lapsed = true

	_, err := c.VerifiedCaller(ExternalCaller{Principal: "alice"})
	assert.ErrorIs(t, err, errs.ErrInitiatorSuspended)

	m.Suspended = false
	_, err = c.VerifiedCaller(ExternalCaller{Principal: "alice"})
	assert.ErrorIs(t, err, errs.ErrInitiatorLapsed)
}

func TestSendMessagePermissionAndDedup(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)

	msg := &model.MessageEvent{MessageID: 42, Content: model.MessageContent{Text: "hi"}}
	res, err := c.SendMessage(userCaller("alice"), msg, 1002)
	require.NoError(t, err)
	assert.Greater(t, uint64(res.Index), uint64(0))

	dup := &model.MessageEvent{MessageID: 42, Content: model.MessageContent{Text: "hi again"}}
	_, err = c.SendMessage(userCaller("alice"), dup, 1003)
	assert.ErrorIs(t, err, errs.ErrMessageIdAlreadyExists)

	_, err = c.SendMessage(userCaller("stranger"), &model.MessageEvent{MessageID: 43, Content: model.MessageContent{Text: "x"}}, 1004)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotInChat)

	_, err = c.SendMessage(userCaller("alice"), &model.MessageEvent{MessageID: 44}, 1005)
	assert.ErrorIs(t, err, errs.ErrContentValidation)
}

func TestFrozenChatRejectsUpdates(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)
	c.Freeze("platform", "spam", 1002)

	_, err := c.SendMessage(userCaller("alice"), &model.MessageEvent{MessageID: 1, Content: model.MessageContent{Text: "x"}}, 1003)
	assert.ErrorIs(t, err, errs.ErrChatFrozen)
	assert.True(t, c.Summarize().Frozen)

	c.Unfreeze("platform", 1004)
	_, err = c.SendMessage(userCaller("alice"), &model.MessageEvent{MessageID: 1, Content: model.MessageContent{Text: "x"}}, 1005)
	assert.NoError(t, err)
}

func TestGrantedBotPermissionsCommandIntersectsHuman(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)

	botPerms := model.NewPermissionSet(model.PermSendMessage, model.PermRemoveMembers)
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID: "bot1", OwnerID: "owner", CommandPermissions: botPerms,
	}, 1002))

	// alice is a plain member: she cannot remove members, so neither can
	// the bot acting on her behalf, even though the bot's own grant allows it.
	granted, err := c.GrantedBotPermissions("bot1", model.BotInitiator{
		Kind: model.InitiatorCommand, CommandInitiator: "alice",
	})
	require.NoError(t, err)
	assert.True(t, granted.Has(model.PermSendMessage))
	assert.False(t, granted.Has(model.PermRemoveMembers))

	_, err = c.GrantedBotPermissions("bot1", model.BotInitiator{
		Kind: model.InitiatorCommand, CommandInitiator: "stranger",
	})
	assert.ErrorIs(t, err, errs.ErrBotNotPermitted)

	_, err = c.GrantedBotPermissions("ghost", model.BotInitiator{Kind: model.InitiatorCommand, CommandInitiator: "alice"})
	assert.ErrorIs(t, err, errs.ErrBotNotInstalled)
}

func TestGrantedBotPermissionsAutonomous(t *testing.T) {
	c := newTestChat(false)

	// No autonomous grant: fully denied for autonomous initiation.
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID: "cmdonly", CommandPermissions: model.NewPermissionSet(model.PermSendMessage),
	}, 1001))
	_, err := c.GrantedBotPermissions("cmdonly", model.BotInitiator{Kind: model.InitiatorAutonomous})
	assert.ErrorIs(t, err, errs.ErrBotNotPermitted)

	// Autonomous in a private scope the bot does not own: reads stripped,
	// writes kept. The bot may act blindly but not observe.
	auto := model.NewPermissionSet(model.PermSendMessage, model.PermReadMessages, model.PermReadMembership, model.PermReadSummary)
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID: "auto1", AutonomousPermissions: &auto,
	}, 1002))

	granted, err := c.GrantedBotPermissions("auto1", model.BotInitiator{Kind: model.InitiatorAutonomous})
	require.NoError(t, err)
	assert.True(t, granted.Has(model.PermSendMessage))
	assert.False(t, granted.Has(model.PermReadMessages))
	assert.False(t, granted.Has(model.PermReadMembership))
	assert.False(t, granted.Has(model.PermReadSummary))
}

func TestGrantedBotPermissionsReadsKeptInPublicScope(t *testing.T) {
	c := newTestChat(true)
	auto := model.NewPermissionSet(model.PermReadMessages)
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID: "auto1", AutonomousPermissions: &auto,
	}, 1001))

	granted, err := c.GrantedBotPermissions("auto1", model.BotInitiator{Kind: model.InitiatorAutonomous})
	require.NoError(t, err)
	assert.True(t, granted.Has(model.PermReadMessages))
}

func TestOwnerBoostComposition(t *testing.T) {
	c := newTestChat(false)
	auto := model.NewPermissionSet(model.PermSendMessage)
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID: "agent", AutonomousPermissions: &auto,
	}, 1001))

	// Make the agent a scope owner; the boost grants everything, including
	// reads in a private scope.
	c.Members.Add("agent", model.UserTypeAgent, 0, false, 1002)
	require.NoError(t, c.Members.ChangeRole("agent", model.RoleOwner, 1003))

	granted, err := c.GrantedBotPermissions("agent", model.BotInitiator{Kind: model.InitiatorAutonomous})
	require.NoError(t, err)
	assert.Equal(t, model.OwnerPermissions(), granted)
	assert.True(t, IsBotPermitted(model.NewPermissionSet(model.PermReadMembership), granted))
}

func TestIsBotPermittedNoPartialCredit(t *testing.T) {
	granted := model.NewPermissionSet(model.PermSendMessage, model.PermReactToMessages)
	assert.True(t, IsBotPermitted(model.NewPermissionSet(model.PermSendMessage), granted))
	assert.False(t, IsBotPermitted(model.NewPermissionSet(model.PermSendMessage, model.PermPinMessages), granted))
}

func TestUpdateGateFourCases(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)
	addHuman(t, c, "bob", 1002)
	owner := userCaller("owner")

	// (c) no expiry -> expiry: every lapsable member gets one entry.
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "payment", Expiry: 5000}, 2000))
	assert.Equal(t, 2, c.Expiring.Len())
	assert.Equal(t, model.TimestampMillis(7000), c.Expiring.ExpiryOf("alice", c.ChatID))

	// (a) expiry -> expiry: uniform shift by the delta.
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "payment", Expiry: 8000}, 2100))
	assert.Equal(t, 2, c.Expiring.Len())
	assert.Equal(t, model.TimestampMillis(10000), c.Expiring.ExpiryOf("alice", c.ChatID))

	// No-op rewrite is idempotent.
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "payment", Expiry: 8000}, 2200))
	assert.Equal(t, 2, c.Expiring.Len())
	assert.Equal(t, model.TimestampMillis(10000), c.Expiring.ExpiryOf("alice", c.ChatID))

	// (b) expiry -> no expiry: entries dropped, lapsed flags cleared.
	c.Members.UpdateLapsed("alice", true, 2300)
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "payment"}, 2400))
	assert.Equal(t, 0, c.Expiring.Len())
	alice, _ := c.Members.Get("alice")
	assert.False(t, alice.Lapsed)

	// (d) neither expires: no-op.
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "credential"}, 2500))
	assert.Equal(t, 0, c.Expiring.Len())
}

func TestMarkLapsedAndLeaveCleansSchedule(t *testing.T) {
	c := newTestChat(true)
	owner := userCaller("owner")
	require.NoError(t, c.UpdateGate(owner, &model.AccessGateConfig{GateKind: "payment", Expiry: 5000}, 1000))
	addHuman(t, c, "alice", 1001)
	addHuman(t, c, "bob", 1002)
	assert.Equal(t, 2, c.Expiring.Len())

	lapsed := c.MarkLapsed(1001 + 5000)
	assert.ElementsMatch(t, []model.UserID{"alice"}, lapsed)
	alice, _ := c.Members.Get("alice")
	assert.True(t, alice.Lapsed)

	require.NoError(t, c.Leave(userCaller("bob"), 7000))
	assert.Equal(t, 0, c.Expiring.Len())
	assert.Nil(t, c.MarkLapsed(20000))
}

func TestRemoveMemberRequiresSeniority(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)
	addHuman(t, c, "mod", 1002)
	require.NoError(t, c.ChangeRole(userCaller("owner"), "mod", model.RoleModerator, 1003))

	// A moderator can remove a plain member but never the owner.
	require.NoError(t, c.RemoveMember(userCaller("mod"), "alice", true, 1004))
	assert.True(t, c.Members.IsBlocked("alice"))

	err := c.RemoveMember(userCaller("mod"), "owner", false, 1005)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)

	// Blocked users cannot be re-added.
	res, err := c.AddMembers(userCaller("owner"), []model.UserID{"alice"}, 1006)
	require.NoError(t, err)
	assert.Contains(t, res.Blocked, "alice")
}

func TestChangeRoleCannotExceedOwn(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)
	addHuman(t, c, "adm", 1002)
	require.NoError(t, c.ChangeRole(userCaller("owner"), "adm", model.RoleAdmin, 1003))

	err := c.ChangeRole(userCaller("adm"), "alice", model.RoleOwner, 1004)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)

	require.NoError(t, c.ChangeRole(userCaller("adm"), "alice", model.RoleAdmin, 1005))
}

func TestHistoryHiddenSetsVisibilityFloor(t *testing.T) {
	c := NewGroupChatCore("chat1", "general", true, false, "owner", model.UserTypeHuman, 0, 1000)
	_, err := c.SendMessage(userCaller("owner"), &model.MessageEvent{MessageID: 1, Content: model.MessageContent{Text: "before"}}, 1001)
	require.NoError(t, err)

	addHuman(t, c, "alice", 1002)

	reader, err := c.EventsReader(userCaller("alice"), 1003)
	require.NoError(t, err)
	_, ok := reader.Get(1)
	assert.False(t, ok, "pre-join event must be hidden")

	res, err := c.SendMessage(userCaller("owner"), &model.MessageEvent{MessageID: 2, Content: model.MessageContent{Text: "after"}}, 1004)
	require.NoError(t, err)
	_, ok = reader.Get(res.Index)
	assert.True(t, ok)
}

func TestInstallBotSubscribesFilteredCategories(t *testing.T) {
	c := newTestChat(true)
	addHuman(t, c, "alice", 1001)

	auto := model.NewPermissionSet(model.PermReadMessages)
	require.NoError(t, c.InstallBot(userCaller("owner"), model.InstalledBot{
		BotID:                 "bot1",
		AutonomousPermissions: &auto,
		DefaultSubscriptions:  []model.EventCategory{model.CategoryMessage, model.CategoryMembership},
	}, 1002))

	res, err := c.SendMessage(userCaller("alice"), &model.MessageEvent{MessageID: 1, Content: model.MessageContent{Text: "x"}}, 1003)
	require.NoError(t, err)
	require.NotNil(t, res.BotNotification)
	assert.Equal(t, []model.UserID{"bot1"}, res.BotNotification.Recipients)

	// Membership events requested at install are filtered out: no read
	// permission for membership.
	addRes, err := c.AddMembers(userCaller("owner"), []model.UserID{"carol"}, 1004)
	require.NoError(t, err)
	assert.Nil(t, addRes.BotNotification)

	require.NoError(t, c.UninstallBot(userCaller("owner"), "bot1", 1005))
	res2, err := c.SendMessage(userCaller("alice"), &model.MessageEvent{MessageID: 2, Content: model.MessageContent{Text: "y"}}, 1006)
	require.NoError(t, err)
	assert.Nil(t, res2.BotNotification)

	// Only a caller holding ManageBots may install.
	err = c.InstallBot(userCaller("alice"), model.InstalledBot{BotID: "bot2"}, 1007)
	assert.ErrorIs(t, err, errs.ErrInitiatorNotAuthorized)
}
