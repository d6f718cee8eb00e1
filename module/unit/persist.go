package unit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"UProject/logger"
	"UProject/module/chat/core"
	"UProject/module/chat/model"
)

// BlobStore persists a unit's whole aggregate as one stable blob.
// Satisfied by stable.Store.
type BlobStore interface {
	SaveData(ctx context.Context, unitID model.UnitID, data []byte) error
	LoadData(ctx context.Context, unitID model.UnitID) ([]byte, error)
}

type dataSnapshot struct {
	UnitID model.UnitID                        `json:"unitId"`
	Kind   string                              `json:"kind"`
	Chats  map[model.ChatID]*core.ChatSnapshot `json:"chats"`
}

// Save serializes the aggregate as one blob. Snapshot structs share
// pointers with live state, so the encode happens under the runtime lock;
// only the store write runs outside it.
func (r *RuntimeState) Save(ctx context.Context, store BlobStore) error {
	r.mu.Lock()
	raw, err := r.encodeLocked()
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return store.SaveData(ctx, r.Data.UnitID, raw)
}

func (r *RuntimeState) encodeLocked() ([]byte, error) {
	snap := dataSnapshot{
		UnitID: r.Data.UnitID,
		Kind:   r.Data.Kind,
		Chats:  make(map[model.ChatID]*core.ChatSnapshot, len(r.Data.Chats)),
	}
	for chatID, chat := range r.Data.Chats {
		cs, err := chat.Snapshot()
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot chat %s", chatID)
		}
		snap.Chats[chatID] = cs
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "encode unit snapshot")
	}
	return raw, nil
}

// LoadData restores the aggregate from its stable blob. A fresh unit with
// no blob yet gets an empty aggregate.
func LoadData(ctx context.Context, store BlobStore, unitID model.UnitID, kind string) (*Data, error) {
	raw, err := store.LoadData(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return NewData(unitID, kind), nil
	}

	var snap dataSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, errors.Wrapf(err, "decode unit snapshot %s", unitID)
	}
	data := NewData(unitID, kind)
	for chatID, cs := range snap.Chats {
		chat, err := core.RestoreChat(cs)
		if err != nil {
			return nil, errors.Wrapf(err, "restore chat %s", chatID)
		}
		data.Chats[chatID] = chat
	}
	return data, nil
}

// SaveJob persists the aggregate on a fixed cadence through the timer
// queue. A failed save is logged and retried at the same cadence.
type SaveJob struct {
	RT       *RuntimeState
	Store    BlobStore
	Interval time.Duration
}

func (j *SaveJob) Name() string { return "persist_unit_data" }

func (j *SaveJob) Execute(int64) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.RT.Save(ctx, j.Store); err != nil {
		logger.Log.Error("unit snapshot save failed",
			zap.String("unit", string(j.RT.Data.UnitID)), zap.Error(err))
		return j.Interval, err
	}
	return j.Interval, nil
}
