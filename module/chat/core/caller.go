package core

import (
	"UProject/module/chat/model"
	"UProject/tools/errs"
)

// SystemPrincipal is the platform's own identity. Calls from it act as the
// system bot and skip membership lookup.
const SystemPrincipal model.UserID = "system"

// AgentTag marks an inbound call as made by an installed agent. The calling
// unit sets it; it is trusted by construction.
type AgentTag struct {
	BotID     model.UserID       `json:"botId"`
	Initiator model.BotInitiator `json:"initiator"`
}

// ExternalCaller is the raw identity of an inbound call before
// verification.
type ExternalCaller struct {
	Principal model.UserID `json:"principal"`
	Agent     *AgentTag    `json:"agent,omitempty"`
	Webhook   bool         `json:"webhook,omitempty"`
}

// VerifiedCaller classifies an inbound call's origin. Check order is fixed:
// the webhook tag must resolve to a registered webhook identity, explicit
// agent tags bypass membership lookup entirely, the system principal
// resolves to the system bot, and only then is the principal required to
// map to a member, with suspension checked before lapse.
func (c *GroupChatCore) VerifiedCaller(ext ExternalCaller) (model.Caller, error) {
	if ext.Webhook {
		member, ok := c.Members.Get(ext.Principal)
		if !ok || member.UserType != model.UserTypeWebhook {
			return model.Caller{}, errs.ErrInitiatorNotAuthorized.WrapMsg("webhook identity not registered", "user", string(ext.Principal))
		}
		return model.WebhookCaller(ext.Principal), nil
	}
	if ext.Agent != nil {
		return model.AgentCaller(ext.Agent.BotID, ext.Agent.Initiator), nil
	}
	if ext.Principal == SystemPrincipal {
		return model.Caller{Kind: model.CallerSystemBot, UserID: ext.Principal}, nil
	}

	member, err := c.Members.GetVerified(ext.Principal)
	if err != nil {
		return model.Caller{}, err
	}
	kind := model.CallerUser
	if member.UserType.IsBot() {
		kind = model.CallerBot
	}
	return model.Caller{Kind: kind, UserID: member.UserID}, nil
}

// GrantedBotPermissions resolves what an installed agent may do right now.
// The grant is composed from the install record for the initiator kind,
// boosted to full if the agent owns the scope, then narrowed: a
// command-initiated agent cannot act beyond its invoking human, and an
// autonomous agent in a private scope it does not own may act but not
// observe.
func (c *GroupChatCore) GrantedBotPermissions(botID model.UserID, initiator model.BotInitiator) (model.PermissionSet, error) {
	bot, ok := c.Bots.Get(botID)
	if !ok {
		return 0, errs.ErrBotNotInstalled
	}

	var granted model.PermissionSet
	switch initiator.Kind {
	case model.InitiatorCommand:
		granted = bot.CommandPermissions
	case model.InitiatorAutonomous:
		if bot.AutonomousPermissions == nil {
			return 0, errs.ErrBotNotPermitted
		}
		granted = *bot.AutonomousPermissions
	default:
		return 0, errs.ErrBotNotPermitted
	}

	botIsOwner := false
	if botMember, isMember := c.Members.Get(botID); isMember && botMember.Role.IsOwner() {
		granted = granted.Union(model.OwnerPermissions())
		botIsOwner = true
	}

	if initiator.Kind == model.InitiatorCommand {
		human, err := c.Members.GetVerified(initiator.CommandInitiator)
		if err != nil {
			return 0, errs.ErrBotNotPermitted.WrapMsg("command initiator unresolvable", "user", string(initiator.CommandInitiator))
		}
		granted = granted.Intersect(model.DerivePermissions(human.Role, c.Permissions))
	} else if !c.IsPublic && !botIsOwner {
		granted = granted.
			Without(model.PermReadMessages).
			Without(model.PermReadMembership).
			Without(model.PermReadSummary)
	}

	return granted, nil
}

// IsBotPermitted is a plain subset check: every required bit must be
// granted, no partial credit.
func IsBotPermitted(required, granted model.PermissionSet) bool {
	return required.IsSubset(granted)
}
