package model

import "encoding/json"

// EventCategory groups event payloads for bot subscriptions and read
// permission checks.
type EventCategory int32

const (
	CategoryMessage EventCategory = iota
	CategoryMembership
	CategoryDetails
)

// EventPayload is one chat event's content. Payloads are immutable once
// pushed.
type EventPayload interface {
	Category() EventCategory
	Kind() string
}

// EventWrapper is the stored form of one event. Index and timestamp are
// assigned by the log; ExpiresAt == 0 means the event never expires.
// Expired events keep their wrapper (index, timestamp) as a tombstone for
// gap tracking but drop the payload permanently.
type EventWrapper struct {
	Index     EventIndex      `bson:"i" json:"index"`
	Timestamp TimestampMillis `bson:"t" json:"timestamp"`
	ExpiresAt TimestampMillis `bson:"x,omitempty" json:"expiresAt,omitempty"`
	Payload   EventPayload    `bson:"-" json:"-"`
	Expired   bool            `bson:"expired,omitempty" json:"expired,omitempty"`
}

// IsExpired reports whether the event is past its TTL at the given time.
// The boundary is inclusive: an event with expires_at == now is expired.
func (e *EventWrapper) IsExpired(now TimestampMillis) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= now
}

// ExpiredRange is a half-open-by-convention inclusive pair reported to
// readers so clients can distinguish "never existed" from "expired".
type ExpiredRange struct {
	From EventIndex `json:"from"`
	To   EventIndex `json:"to"`
}

// ---- concrete payloads ----

type MessageContent struct {
	Text     string   `bson:"text" json:"text"`
	FileRefs []string `bson:"file_refs,omitempty" json:"fileRefs,omitempty"`
	// PrizeAmount > 0 marks a prize message whose unclaimed remainder must
	// be finalized (refunded) when the event expires.
	PrizeAmount uint64 `bson:"prize_amount,omitempty" json:"prizeAmount,omitempty"`
	PrizeLedger UnitID `bson:"prize_ledger,omitempty" json:"prizeLedger,omitempty"`
}

type MessageEvent struct {
	MessageID  MessageID      `bson:"message_id" json:"messageId"`
	Sender     UserID         `bson:"sender" json:"sender"`
	Content    MessageContent `bson:"content" json:"content"`
	ThreadRoot EventIndex     `bson:"thread_root,omitempty" json:"threadRoot,omitempty"` // 0 = main log
	Mentioned  []UserID       `bson:"mentioned,omitempty" json:"mentioned,omitempty"`
}

func (*MessageEvent) Category() EventCategory { return CategoryMessage }
func (*MessageEvent) Kind() string            { return "message" }

type MembersAddedEvent struct {
	UserIDs []UserID `bson:"user_ids" json:"userIds"`
	AddedBy UserID   `bson:"added_by" json:"addedBy"`
}

func (*MembersAddedEvent) Category() EventCategory { return CategoryMembership }
func (*MembersAddedEvent) Kind() string            { return "members_added" }

type MemberLeftEvent struct {
	UserID UserID `bson:"user_id" json:"userId"`
}

func (*MemberLeftEvent) Category() EventCategory { return CategoryMembership }
func (*MemberLeftEvent) Kind() string            { return "member_left" }

type MembersRemovedEvent struct {
	UserIDs   []UserID `bson:"user_ids" json:"userIds"`
	RemovedBy UserID   `bson:"removed_by" json:"removedBy"`
}

func (*MembersRemovedEvent) Category() EventCategory { return CategoryMembership }
func (*MembersRemovedEvent) Kind() string            { return "members_removed" }

type RoleChangedEvent struct {
	UserIDs   []UserID `bson:"user_ids" json:"userIds"`
	ChangedBy UserID   `bson:"changed_by" json:"changedBy"`
	OldRole   Role     `bson:"old_role" json:"oldRole"`
	NewRole   Role     `bson:"new_role" json:"newRole"`
}

func (*RoleChangedEvent) Category() EventCategory { return CategoryMembership }
func (*RoleChangedEvent) Kind() string            { return "role_changed" }

type BotAddedEvent struct {
	BotID   UserID `bson:"bot_id" json:"botId"`
	AddedBy UserID `bson:"added_by" json:"addedBy"`
}

func (*BotAddedEvent) Category() EventCategory { return CategoryDetails }
func (*BotAddedEvent) Kind() string            { return "bot_added" }

type BotUpdatedEvent struct {
	BotID     UserID `bson:"bot_id" json:"botId"`
	UpdatedBy UserID `bson:"updated_by" json:"updatedBy"`
}

func (*BotUpdatedEvent) Category() EventCategory { return CategoryDetails }
func (*BotUpdatedEvent) Kind() string            { return "bot_updated" }

type BotRemovedEvent struct {
	BotID     UserID `bson:"bot_id" json:"botId"`
	RemovedBy UserID `bson:"removed_by" json:"removedBy"`
}

func (*BotRemovedEvent) Category() EventCategory { return CategoryDetails }
func (*BotRemovedEvent) Kind() string            { return "bot_removed" }

type DetailsUpdatedEvent struct {
	UpdatedBy UserID `bson:"updated_by" json:"updatedBy"`
	Name      string `bson:"name,omitempty" json:"name,omitempty"`
}

func (*DetailsUpdatedEvent) Category() EventCategory { return CategoryDetails }
func (*DetailsUpdatedEvent) Kind() string            { return "details_updated" }

type EventsTTLUpdatedEvent struct {
	UpdatedBy UserID          `bson:"updated_by" json:"updatedBy"`
	NewTTL    TimestampMillis `bson:"new_ttl" json:"newTtl"` // 0 = disabled
}

func (*EventsTTLUpdatedEvent) Category() EventCategory { return CategoryDetails }
func (*EventsTTLUpdatedEvent) Kind() string            { return "events_ttl_updated" }

type FrozenEvent struct {
	FrozenBy UserID `bson:"frozen_by" json:"frozenBy"`
	Reason   string `bson:"reason,omitempty" json:"reason,omitempty"`
}

func (*FrozenEvent) Category() EventCategory { return CategoryDetails }
func (*FrozenEvent) Kind() string            { return "frozen" }

type UnfrozenEvent struct {
	UnfrozenBy UserID `bson:"unfrozen_by" json:"unfrozenBy"`
}

func (*UnfrozenEvent) Category() EventCategory { return CategoryDetails }
func (*UnfrozenEvent) Kind() string            { return "unfrozen" }

type GateUpdatedEvent struct {
	UpdatedBy UserID `bson:"updated_by" json:"updatedBy"`
}

func (*GateUpdatedEvent) Category() EventCategory { return CategoryDetails }
func (*GateUpdatedEvent) Kind() string            { return "gate_updated" }

// payloadTypes maps wire kinds back to payload types for decoding.
var payloadTypes = map[string]func() EventPayload{
	"message":            func() EventPayload { return &MessageEvent{} },
	"members_added":      func() EventPayload { return &MembersAddedEvent{} },
	"member_left":        func() EventPayload { return &MemberLeftEvent{} },
	"members_removed":    func() EventPayload { return &MembersRemovedEvent{} },
	"role_changed":       func() EventPayload { return &RoleChangedEvent{} },
	"bot_added":          func() EventPayload { return &BotAddedEvent{} },
	"bot_updated":        func() EventPayload { return &BotUpdatedEvent{} },
	"bot_removed":        func() EventPayload { return &BotRemovedEvent{} },
	"details_updated":    func() EventPayload { return &DetailsUpdatedEvent{} },
	"events_ttl_updated": func() EventPayload { return &EventsTTLUpdatedEvent{} },
	"frozen":             func() EventPayload { return &FrozenEvent{} },
	"unfrozen":           func() EventPayload { return &UnfrozenEvent{} },
	"gate_updated":       func() EventPayload { return &GateUpdatedEvent{} },
}

// EncodePayload serializes a payload with its kind tag for storage or wire.
func EncodePayload(p EventPayload) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Kind string          `json:"kind"`
		Body json.RawMessage `json:"body"`
	}{Kind: p.Kind(), Body: body})
}

// DecodePayload reverses EncodePayload. Unknown kinds return nil, nil so a
// newer unit's events don't break an older one.
func DecodePayload(data []byte) (EventPayload, error) {
	var tagged struct {
		Kind string          `json:"kind"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	ctor, ok := payloadTypes[tagged.Kind]
	if !ok {
		return nil, nil
	}
	p := ctor()
	if err := json.Unmarshal(tagged.Body, p); err != nil {
		return nil, err
	}
	return p, nil
}
