// Package cache holds the two client-side persistence layers: a Redis
// snapshot cache of last-known-good feed pages and a SQLite mirror of raw
// entities used as the last-resort read path when the data service is
// unreachable. Staleness is accepted as the tradeoff for offline
// availability; neither layer enforces expiry.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
)

const snapshotKeyDelimiter = "__"

// FeedSnapshot is the unit stored per (viewer, feed): the fully hydrated
// posts of the last good page merge.
type FeedSnapshot struct {
	Posts   []model.Post `json:"posts"`
	SavedAt time.Time    `json:"savedAt"`
}

// SnapshotStore persists one FeedSnapshot per (viewer, feed) in Redis.
type SnapshotStore struct {
	inner *redis.Client
}

func GetSnapshotStore(ctx context.Context) (*SnapshotStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT")),
		Password: os.Getenv("REDIS_PASSWD"),
		DB:       0, // use default DB
	})
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "cannot reach redis for snapshot store")
	}
	return NewSnapshotStore(client), nil
}

func NewSnapshotStore(client *redis.Client) *SnapshotStore {
	return &SnapshotStore{inner: client}
}

func snapshotKey(viewerID string, feed model.FeedMode) string {
	return "snapshot" + snapshotKeyDelimiter + viewerID + snapshotKeyDelimiter + feed.String()
}

// Get returns the stored snapshot for the feed, or nil without error on a
// cache miss.
func (s *SnapshotStore) Get(ctx context.Context, viewerID string, feed model.FeedMode) (*FeedSnapshot, error) {
	raw, err := s.inner.Get(ctx, snapshotKey(viewerID, feed)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "fail to read feed snapshot")
	}

	var snap FeedSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, errors.Wrap(err, "corrupt feed snapshot")
	}
	return &snap, nil
}

// Set overwrites the stored snapshot for the feed. No TTL: a stale snapshot
// beats no snapshot when the client is offline.
func (s *SnapshotStore) Set(ctx context.Context, viewerID string, feed model.FeedMode, snap *FeedSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "fail to encode feed snapshot")
	}
	return s.inner.Set(ctx, snapshotKey(viewerID, feed), raw, 0).Err()
}
