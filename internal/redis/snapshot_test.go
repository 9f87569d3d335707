package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/notify"
)

func TestSnapshotCache_SaveLoad(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewSnapshotCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	snap := notify.NewSnapshot(notify.CategoryChat, []notify.Record{
		{ID: "o1", Category: notify.CategoryChat, SubjectID: "o1", Payload: notify.Payload{Count: 3, LastMessage: "ready"}},
	})
	snap.Version = 7
	require.NoError(t, cache.Save(ctx, snap))

	got, ok, err := cache.Load(ctx, notify.CategoryChat)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), got.Version)
	assert.Equal(t, snap.Records(), got.Records())

	_, ok, err = cache.Load(ctx, notify.CategoryApproval)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCache_Expires(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewSnapshotCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, notify.NewSnapshot(notify.CategoryOrderStatus, nil)))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Load(ctx, notify.CategoryOrderStatus)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCache_UnreadableEntryIsAMiss(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewSnapshotCache(client, time.Minute, zap.NewNop())

	require.NoError(t, mr.Set("rxsync:snapshot:chat", "{not json"))

	_, ok, err := cache.Load(context.Background(), notify.CategoryChat)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCache_ClearOnlyTouchesSnapshots(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewSnapshotCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	for _, c := range []notify.Category{notify.CategoryChat, notify.CategoryApproval, notify.CategoryOrderStatus} {
		require.NoError(t, cache.Save(ctx, notify.NewSnapshot(c, nil)))
	}
	require.NoError(t, mr.Set("rxsync:ratelimit:refresh", "x"))

	require.NoError(t, cache.Clear(ctx))

	assert.False(t, mr.Exists("rxsync:snapshot:chat"))
	assert.False(t, mr.Exists("rxsync:snapshot:approval"))
	assert.True(t, mr.Exists("rxsync:ratelimit:refresh"))

	require.NoError(t, cache.Clear(ctx), "clearing an empty cache is fine")
}
