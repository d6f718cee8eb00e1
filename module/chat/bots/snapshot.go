package bots

import (
	"sort"

	"UProject/module/chat/model"
)

// RegistrySnapshot is the serializable form of the installed-bot set.
type RegistrySnapshot struct {
	Installed   []model.InstalledBot  `json:"installed"`
	LastUpdated model.TimestampMillis `json:"lastUpdated"`
}

func (r *Registry) Snapshot() *RegistrySnapshot {
	snap := &RegistrySnapshot{
		Installed:   make([]model.InstalledBot, 0, len(r.installed)),
		LastUpdated: r.lastUpdated,
	}
	for _, bot := range r.installed {
		snap.Installed = append(snap.Installed, *bot)
	}
	sort.Slice(snap.Installed, func(i, j int) bool {
		return snap.Installed[i].BotID < snap.Installed[j].BotID
	})
	return snap
}

// RestoreRegistry rebuilds the registry, keeping the original AddedAt
// stamps rather than re-stamping through Add.
func RestoreRegistry(snap *RegistrySnapshot) *Registry {
	r := NewRegistry()
	for _, bot := range snap.Installed {
		copied := bot
		r.installed[copied.BotID] = &copied
	}
	r.lastUpdated = snap.LastUpdated
	return r
}
