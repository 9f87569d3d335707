package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/transport"
)

func newTrackerFixture(t *testing.T, records ...Record) (*fakeSource, *Aggregator, *Tracker) {
	t.Helper()
	src := newFakeSource(CategoryInbox, records...)
	agg := NewAggregator(Config{}, []Source{src}, zap.NewNop())
	require.Equal(t, FetchOK, agg.FetchCategory(context.Background(), CategoryInbox))
	return src, agg, NewTracker(agg, zap.NewNop())
}

func TestTracker_MarkAsReadRollsBackExactly(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 2, 3))
	src.markErr = apiErr(transport.ErrTransient)

	before, _ := agg.Snapshot(CategoryInbox).Get("n1")

	var seen []Counters
	agg.Subscribe(func(s Snapshot) {
		rec, _ := s.Get("n1")
		seen = append(seen, *rec.Counters)
	})

	outcome := tracker.MarkAsRead(context.Background(), CategoryInbox, "n1")
	assert.Equal(t, OutcomeRolledBack, outcome)

	// optimistic then reverted
	assert.Equal(t, []Counters{{ReadCount: 3, UnreadCount: 2}, {ReadCount: 2, UnreadCount: 3}}, seen)

	after, _ := agg.Snapshot(CategoryInbox).Get("n1")
	assert.Equal(t, before, after)
}

func TestTracker_MarkAsReadConfirmed(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 2, 3))

	assert.Equal(t, OutcomeConfirmed, tracker.MarkAsRead(context.Background(), CategoryInbox, "n1"))

	rec, _ := agg.Snapshot(CategoryInbox).Get("n1")
	assert.True(t, rec.Read)
	assert.Equal(t, Counters{ReadCount: 3, UnreadCount: 2}, *rec.Counters)
	assert.Equal(t, 1, src.markCount())
}

func TestTracker_MarkAsReadIsIdempotent(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 0, 1))
	ctx := context.Background()

	assert.Equal(t, OutcomeConfirmed, tracker.MarkAsRead(ctx, CategoryInbox, "n1"))
	once := agg.Snapshot(CategoryInbox).Records()

	assert.Equal(t, OutcomeNoop, tracker.MarkAsRead(ctx, CategoryInbox, "n1"))
	assert.Equal(t, once, agg.Snapshot(CategoryInbox).Records())
	assert.Equal(t, 1, src.markCount(), "second call must not reach the server")
}

func TestTracker_MarkAsReadAbsent(t *testing.T) {
	src, _, tracker := newTrackerFixture(t)

	assert.Equal(t, OutcomeNoop, tracker.MarkAsRead(context.Background(), CategoryInbox, "missing"))
	assert.Equal(t, OutcomeNoop, tracker.MarkAsRead(context.Background(), CategoryApproval, "rx1"))
	assert.Equal(t, 0, src.markCount())
}

func TestTracker_ClampedRollback(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 0, 0))
	src.markErr = apiErr(transport.ErrRejected)

	assert.Equal(t, OutcomeRolledBack, tracker.MarkAsRead(context.Background(), CategoryInbox, "n1"))

	rec, _ := agg.Snapshot(CategoryInbox).Get("n1")
	assert.False(t, rec.Read)
	assert.Equal(t, Counters{}, *rec.Counters)
}

func TestTracker_ResyncDuringConfirmationWins(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 2, 3))
	src.markErr = apiErr(transport.ErrTransient)

	server := adminRecord("n1", 5, 0)
	server.Read = true
	src.onMark = func() {
		src.set(server)
		agg.FetchCategory(context.Background(), CategoryInbox)
	}

	assert.Equal(t, OutcomeSuperseded, tracker.MarkAsRead(context.Background(), CategoryInbox, "n1"))

	rec, _ := agg.Snapshot(CategoryInbox).Get("n1")
	assert.Equal(t, server, rec)
}

func TestTracker_DismissRemovesOnlyOnConfirmation(t *testing.T) {
	src, agg, tracker := newTrackerFixture(t, adminRecord("n1", 1, 1), adminRecord("n2", 0, 2))
	ctx := context.Background()

	src.dismissErr = apiErr(transport.ErrTransient)
	assert.Equal(t, OutcomeRetained, tracker.Dismiss(ctx, CategoryInbox, "n1"))
	_, ok := agg.Snapshot(CategoryInbox).Get("n1")
	assert.True(t, ok)

	src.dismissErr = nil
	assert.Equal(t, OutcomeRemoved, tracker.Dismiss(ctx, CategoryInbox, "n1"))
	_, ok = agg.Snapshot(CategoryInbox).Get("n1")
	assert.False(t, ok)
	assert.Equal(t, 1, agg.Snapshot(CategoryInbox).Len())

	assert.Equal(t, OutcomeNoop, tracker.Dismiss(ctx, CategoryInbox, "n1"))
	assert.Equal(t, []string{"n1", "n1"}, src.dismissed)
}
