package stable

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"UProject/module/chat/model"
)

const (
	collEvents = "stable_events"
	collState  = "unit_state"
)

// EventKey builds the partitioned key for one event payload. Thread
// replies nest under their root so an expired thread is one prefix.
// Indexes are zero-padded so lexical order matches numeric order.
func EventKey(chatID model.ChatID, threadRoot, index model.EventIndex) string {
	if threadRoot != 0 {
		return fmt.Sprintf("chat/%s/t%020d/%020d", chatID, threadRoot, index)
	}
	return fmt.Sprintf("chat/%s/%020d", chatID, index)
}

// ChatPrefix spans every key of one chat.
func ChatPrefix(chatID model.ChatID) string {
	return fmt.Sprintf("chat/%s/", chatID)
}

// ThreadPrefix spans every reply under one expired thread root.
func ThreadPrefix(chatID model.ChatID, threadRoot model.EventIndex) string {
	return fmt.Sprintf("chat/%s/t%020d/", chatID, threadRoot)
}

// Store is the Mongo-backed stable map for one unit.
type Store struct {
	events *mongo.Collection
	state  *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		events: db.Collection(collEvents),
		state:  db.Collection(collState),
	}
}

type eventDoc struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

// PutEvent upserts one event payload under its partitioned key.
func (s *Store) PutEvent(ctx context.Context, key string, data []byte) error {
	_, err := s.events.ReplaceOne(ctx,
		bson.M{"_id": key},
		eventDoc{Key: key, Data: data, CreatedAt: time.Now()},
		options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "stable: put %s", key)
}

// GetEvent loads one payload, (nil, nil) when absent.
func (s *Store) GetEvent(ctx context.Context, key string) ([]byte, error) {
	var doc eventDoc
	err := s.events.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stable: get %s", key)
	}
	return doc.Data, nil
}

// DeleteRange removes at most limit keys under the prefix, returning the
// count deleted. Callers loop until it returns less than limit; the bound
// keeps one GC pass cheap.
func (s *Store) DeleteRange(ctx context.Context, prefix string, limit int64) (int64, error) {
	if limit <= 0 {
		limit = 1000
	}
	filter := bson.M{"_id": bson.M{"$gte": prefix, "$lt": prefix + "\xff"}}

	cursor, err := s.events.Find(ctx, filter,
		options.Find().SetLimit(limit).SetProjection(bson.M{"_id": 1}).SetSort(bson.M{"_id": 1}))
	if err != nil {
		return 0, errors.Wrapf(err, "stable: find range %s", prefix)
	}
	var docs []struct {
		Key string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, errors.Wrapf(err, "stable: read range %s", prefix)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	keys := make([]string, len(docs))
	for i, d := range docs {
		keys[i] = d.Key
	}
	res, err := s.events.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return 0, errors.Wrapf(err, "stable: delete range %s", prefix)
	}
	return res.DeletedCount, nil
}

type stateDoc struct {
	UnitID    string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// SaveData persists a small unit's whole aggregate as one blob.
func (s *Store) SaveData(ctx context.Context, unitID model.UnitID, data []byte) error {
	_, err := s.state.ReplaceOne(ctx,
		bson.M{"_id": string(unitID)},
		stateDoc{UnitID: string(unitID), Data: data, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "stable: save data %s", unitID)
}

// LoadData fetches the aggregate blob, (nil, nil) for a fresh unit.
func (s *Store) LoadData(ctx context.Context, unitID model.UnitID) ([]byte, error) {
	var doc stateDoc
	err := s.state.FindOne(ctx, bson.M{"_id": string(unitID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "stable: load data %s", unitID)
	}
	return doc.Data, nil
}
