package model

import "encoding/json"

// IdempotentEnvelope wraps every cross-unit event payload. The id is random
// per send, not content-derived: the receiver deduplicates by tracking
// recently seen ids, so two identical payloads sent deliberately twice are
// both applied, while one payload delivered twice by the network is not.
type IdempotentEnvelope struct {
	CreatedAt     TimestampMillis `json:"createdAt"`
	IdempotencyID uint64          `json:"idempotencyId"`
	Kind          string          `json:"kind"`
	Value         json.RawMessage `json:"value"`
}

// NewEnvelope marshals value under the given kind tag.
func NewEnvelope(createdAt TimestampMillis, id uint64, kind string, value any) (IdempotentEnvelope, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return IdempotentEnvelope{}, err
	}
	return IdempotentEnvelope{
		CreatedAt:     createdAt,
		IdempotencyID: id,
		Kind:          kind,
		Value:         raw,
	}, nil
}

// Cross-unit envelope kinds understood by index/user units.
const (
	EnvelopeKindNotification    = "notification"
	EnvelopeKindBotNotification = "bot_notification"
	EnvelopeKindUserEvent       = "user_event"
	EnvelopeKindActivityMarker  = "activity_marker"
	EnvelopeKindMemberSync      = "member_sync"
)

// Notification is the fan-out payload handed to the pusher collaborator.
type Notification struct {
	Sender     UserID   `json:"sender,omitempty"`
	Recipients []UserID `json:"recipients"`
	Body       []byte   `json:"body"`
}

// BotNotification tells subscribed bots an event of a category they may
// read has occurred.
type BotNotification struct {
	Recipients []UserID        `json:"recipients"`
	ChatID     ChatID          `json:"chatId"`
	Category   EventCategory   `json:"category"`
	EventIndex EventIndex      `json:"eventIndex"`
	Timestamp  TimestampMillis `json:"timestamp"`
}

// MemberSyncCommand mirrors a membership change decided elsewhere, applied
// here under the system principal.
type MemberSyncCommand struct {
	ChatID ChatID   `json:"chatId"`
	Add    []UserID `json:"add,omitempty"`
	Remove []UserID `json:"remove,omitempty"`
}

// ActivityMarker records that a user was active in a chat, synced to the
// local index for ordering chat lists.
type ActivityMarker struct {
	UserID UserID          `json:"userId"`
	ChatID ChatID          `json:"chatId"`
	At     TimestampMillis `json:"at"`
}
