// Package bots keeps a unit's installed-bot records.
package bots

import (
	"UProject/module/chat/model"
)

// Registry is the set of bots installed in one unit, keyed by bot id.
// Not safe for concurrent use: the unit runtime serializes access.
type Registry struct {
	installed   map[model.UserID]*model.InstalledBot
	lastUpdated model.TimestampMillis
}

func NewRegistry() *Registry {
	return &Registry{installed: make(map[model.UserID]*model.InstalledBot)}
}

// Add installs a bot. Installing an already-installed bot is rejected so
// that an install and a permissions update stay distinct operations.
func (r *Registry) Add(bot model.InstalledBot, now model.TimestampMillis) bool {
	if _, exists := r.installed[bot.BotID]; exists {
		return false
	}
	bot.AddedAt = now
	r.installed[bot.BotID] = &bot
	r.lastUpdated = now
	return true
}

// Update replaces the permission grants of an installed bot.
func (r *Registry) Update(
	botID model.UserID,
	commandPerms model.PermissionSet,
	autonomousPerms *model.PermissionSet,
	now model.TimestampMillis,
) bool {
	bot, exists := r.installed[botID]
	if !exists {
		return false
	}
	bot.CommandPermissions = commandPerms
	bot.AutonomousPermissions = autonomousPerms
	r.lastUpdated = now
	return true
}

// Remove uninstalls a bot, returning its record for cleanup of the
// event-log subscription set.
func (r *Registry) Remove(botID model.UserID, now model.TimestampMillis) (*model.InstalledBot, bool) {
	bot, exists := r.installed[botID]
	if !exists {
		return nil, false
	}
	delete(r.installed, botID)
	r.lastUpdated = now
	return bot, true
}

func (r *Registry) Get(botID model.UserID) (*model.InstalledBot, bool) {
	bot, ok := r.installed[botID]
	return bot, ok
}

func (r *Registry) Contains(botID model.UserID) bool {
	_, ok := r.installed[botID]
	return ok
}

func (r *Registry) Len() int { return len(r.installed) }

func (r *Registry) LastUpdated() model.TimestampMillis { return r.lastUpdated }

// All returns the installed records for summaries. The slice is fresh but
// the records are shared; callers must not mutate them.
func (r *Registry) All() []*model.InstalledBot {
	out := make([]*model.InstalledBot, 0, len(r.installed))
	for _, bot := range r.installed {
		out = append(out, bot)
	}
	return out
}

// PermittedSubscriptions filters the bot's requested default subscriptions
// down to the categories its autonomous grant can actually read. A bot
// with no autonomous grant gets no subscriptions.
func PermittedSubscriptions(bot *model.InstalledBot) []model.EventCategory {
	if bot.AutonomousPermissions == nil {
		return nil
	}
	readable := bot.AutonomousPermissions.PermittedCategoriesToRead()
	allowed := make(map[model.EventCategory]struct{}, len(readable))
	for _, c := range readable {
		allowed[c] = struct{}{}
	}
	var out []model.EventCategory
	for _, c := range bot.DefaultSubscriptions {
		if _, ok := allowed[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
