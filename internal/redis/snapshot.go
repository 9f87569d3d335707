package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/notify"
)

// DefaultSnapshotTTL bounds how stale a warm-start snapshot may be.
const DefaultSnapshotTTL = 10 * time.Minute

// SnapshotCache persists the latest notification snapshot per category so
// a restarted process can show counts before its first poll completes.
// It implements notify.SnapshotStore.
type SnapshotCache struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

func NewSnapshotCache(client *Client, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &SnapshotCache{client: client, logger: logger, ttl: ttl}
}

var _ notify.SnapshotStore = (*SnapshotCache)(nil)

func (s *SnapshotCache) snapshotKey(c notify.Category) string {
	return s.client.key("snapshot", string(c))
}

// Save overwrites the cached snapshot for snap.Category.
func (s *SnapshotCache) Save(ctx context.Context, snap notify.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.rdb.Set(ctx, s.snapshotKey(snap.Category), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Load returns the cached snapshot for c, if any.
func (s *SnapshotCache) Load(ctx context.Context, c notify.Category) (notify.Snapshot, bool, error) {
	val, err := s.client.rdb.Get(ctx, s.snapshotKey(c)).Bytes()
	if errors.Is(err, redis.Nil) {
		return notify.Snapshot{}, false, nil
	}
	if err != nil {
		return notify.Snapshot{}, false, fmt.Errorf("redis get failed: %w", err)
	}

	var snap notify.Snapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		s.logger.Warn("discarding unreadable cached snapshot",
			zap.String("category", string(c)),
			zap.Error(err),
		)
		return notify.Snapshot{}, false, nil
	}
	if snap.Category != c {
		return notify.Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Clear deletes every cached snapshot. Called on logout.
func (s *SnapshotCache) Clear(ctx context.Context) error {
	iter := s.client.rdb.Scan(ctx, 0, s.client.key("snapshot", "*"), 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	if err := s.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	s.logger.Debug("cleared cached snapshots", zap.Int("count", len(keys)))
	return nil
}
