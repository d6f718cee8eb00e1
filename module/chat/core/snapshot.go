package core

import (
	"UProject/module/chat/bots"
	"UProject/module/chat/events"
	"UProject/module/chat/member"
	"UProject/module/chat/model"
)

// ChatSnapshot is the serializable form of one chat's full state, written
// into the unit's stable blob and read back at boot.
type ChatSnapshot struct {
	ChatID         model.ChatID            `json:"chatId"`
	Name           string                  `json:"name"`
	IsPublic       bool                    `json:"isPublic"`
	CreatedBy      model.UserID            `json:"createdBy"`
	DateCreated    model.TimestampMillis   `json:"dateCreated"`
	HistoryVisible bool                    `json:"historyVisible"`
	Permissions    model.ChatPermissions   `json:"permissions"`
	Gate           *model.AccessGateConfig `json:"gate,omitempty"`
	FrozenBy       model.UserID            `json:"frozenBy,omitempty"`

	Members  *member.MembersSnapshot `json:"members"`
	Bots     *bots.RegistrySnapshot  `json:"bots"`
	Events   *events.LogSnapshot     `json:"events"`
	Expiring []member.ExpiringEntry  `json:"expiring,omitempty"`
}

func (c *GroupChatCore) Snapshot() (*ChatSnapshot, error) {
	eventsSnap, err := c.Events.Snapshot()
	if err != nil {
		return nil, err
	}
	return &ChatSnapshot{
		ChatID:         c.ChatID,
		Name:           c.Name,
		IsPublic:       c.IsPublic,
		CreatedBy:      c.CreatedBy,
		DateCreated:    c.DateCreated,
		HistoryVisible: c.HistoryVisible,
		Permissions:    c.Permissions,
		Gate:           c.Gate,
		FrozenBy:       c.FrozenBy,
		Members:        c.Members.Snapshot(),
		Bots:           c.Bots.Snapshot(),
		Events:         eventsSnap,
		Expiring:       c.Expiring.Snapshot(),
	}, nil
}

// RestoreChat rebuilds a chat from its snapshot. Bot subscriptions are
// recomputed from the restored registry rather than stored.
func RestoreChat(snap *ChatSnapshot) (*GroupChatCore, error) {
	log, err := events.RestoreLog(snap.Events)
	if err != nil {
		return nil, err
	}
	c := &GroupChatCore{
		ChatID:         snap.ChatID,
		Name:           snap.Name,
		IsPublic:       snap.IsPublic,
		CreatedBy:      snap.CreatedBy,
		DateCreated:    snap.DateCreated,
		HistoryVisible: snap.HistoryVisible,
		Permissions:    snap.Permissions,
		Gate:           snap.Gate,
		FrozenBy:       snap.FrozenBy,
		Members:        member.RestoreMembers(snap.Members),
		Bots:           bots.RestoreRegistry(snap.Bots),
		Events:         log,
		Expiring:       member.RestoreExpiring(snap.Expiring),
	}
	for _, bot := range c.Bots.All() {
		c.Events.SubscribeBot(bot.BotID, bots.PermittedSubscriptions(bot))
	}
	return c, nil
}
