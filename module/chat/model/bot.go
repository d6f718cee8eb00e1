package model

// InstalledBot is one autonomous agent's installation record in a unit.
type InstalledBot struct {
	BotID   UserID          `bson:"bot_id" json:"botId"`
	OwnerID UserID          `bson:"owner_id" json:"ownerId"`
	AddedAt TimestampMillis `bson:"added_at" json:"addedAt"`

	// CommandPermissions bound command-initiated actions; they are further
	// intersected with the invoking human's own permissions at call time.
	CommandPermissions PermissionSet `bson:"command_permissions" json:"commandPermissions"`

	// AutonomousPermissions, when nil, means the bot may only ever respond
	// to commands: it receives no autonomous-event notifications at all.
	AutonomousPermissions *PermissionSet `bson:"autonomous_permissions,omitempty" json:"autonomousPermissions,omitempty"`

	// DefaultSubscriptions as requested at install time. The registry
	// filters these against AutonomousPermissions before they reach the
	// event log's fan-out set.
	DefaultSubscriptions []EventCategory `bson:"default_subscriptions,omitempty" json:"defaultSubscriptions,omitempty"`
}

// BotInitiatorKind says on whose behalf a bot call is made.
type BotInitiatorKind int32

const (
	// InitiatorCommand: a human invoked the bot; the bot acts with the
	// intersection of its own and the human's permissions.
	InitiatorCommand BotInitiatorKind = iota
	// InitiatorAutonomous: the bot acts alone under its autonomous grant.
	InitiatorAutonomous
)

type BotInitiator struct {
	Kind BotInitiatorKind `json:"kind"`
	// CommandInitiator is the invoking human, set only for InitiatorCommand.
	CommandInitiator UserID `json:"commandInitiator,omitempty"`
}

func (i BotInitiator) User() (UserID, bool) {
	if i.Kind == InitiatorCommand {
		return i.CommandInitiator, true
	}
	return "", false
}

// CallerKind is the closed classification of who invoked an operation.
type CallerKind int32

const (
	CallerUser      CallerKind = iota
	CallerBot                  // legacy member bot
	CallerSystemBot            // platform principal acting as the system bot
	CallerAgent                // installed agent (command or autonomous)
	CallerWebhook
)

// Caller is the resolved identity of an inbound call after verification.
type Caller struct {
	Kind      CallerKind    `json:"kind"`
	UserID    UserID        `json:"userId"`              // acting identity (bot id for agents)
	Initiator *BotInitiator `json:"initiator,omitempty"` // set for CallerAgent
}

// AgentCaller builds the caller for an installed agent invocation.
func AgentCaller(botID UserID, initiator BotInitiator) Caller {
	return Caller{Kind: CallerAgent, UserID: botID, Initiator: &initiator}
}

func WebhookCaller(userID UserID) Caller {
	return Caller{Kind: CallerWebhook, UserID: userID}
}
