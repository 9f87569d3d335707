package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/rxsync/internal/transport"
)

type call struct {
	method string
	path   string
}

// fakeAPI serves canned envelope data by path.
type fakeAPI struct {
	data  map[string]string
	err   error
	calls []call
}

func (f *fakeAPI) Do(ctx context.Context, method, path string, body, out any) error {
	f.calls = append(f.calls, call{method, path})
	if f.err != nil {
		return f.err
	}
	raw, ok := f.data[path]
	if !ok || out == nil {
		return nil
	}
	return json.Unmarshal([]byte(raw), out)
}

func byID(records []Record) map[string]Record {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r
	}
	return m
}

func TestChatSource(t *testing.T) {
	api := &fakeAPI{data: map[string]string{
		"/chat/unread-counts": `{
			"o1": {"count": 2, "threadId": "t1", "lastMessage": "ready at noon"},
			"o2": {"count": 1, "threadId": "t2", "lastMessage": {"content": "on the way"}}
		}`,
	}}
	src := ChatSource(api)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	got := byID(records)

	assert.Equal(t, Payload{Count: 2, ThreadID: "t1", LastMessage: "ready at noon"}, got["o1"].Payload)
	assert.Equal(t, "on the way", got["o2"].Payload.LastMessage)
	assert.Equal(t, "o2", got["o2"].SubjectID)
	assert.False(t, src.AbsorbsForbidden())

	require.NoError(t, src.MarkRead(context.Background(), "o1"))
	assert.Equal(t, call{http.MethodPost, "/notifications/mark-chat-read/o1"}, api.calls[1])
}

func TestApprovalSource(t *testing.T) {
	api := &fakeAPI{data: map[string]string{
		"/notifications/approvals": `{"rx1": {"status": "approved", "count": 2}}`,
	}}
	src := ApprovalSource(api)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, CategoryApproval, records[0].Category)
	assert.Equal(t, Payload{Status: "approved", Count: 2}, records[0].Payload)
	assert.True(t, src.AbsorbsForbidden())

	require.NoError(t, src.Dismiss(context.Background(), "rx1"))
	assert.Equal(t, call{http.MethodPost, "/notifications/mark-approval-read/rx1"}, api.calls[1])
}

func TestOrderStatusSource_TimeFormats(t *testing.T) {
	api := &fakeAPI{data: map[string]string{
		"/notifications/order-status": `{
			"o1": {"status": "ready", "updateTime": "2024-03-01T10:00:00Z"},
			"o2": {"status": "placed", "updateTime": 1709287200000},
			"o3": {"status": "confirmed"}
		}`,
	}}

	records, err := OrderStatusSource(api).Fetch(context.Background())
	require.NoError(t, err)
	got := byID(records)

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(got["o1"].Payload.UpdateTime))
	assert.True(t, want.Equal(got["o2"].Payload.UpdateTime))
	assert.True(t, got["o3"].Payload.UpdateTime.IsZero())
}

func TestInboxSource(t *testing.T) {
	api := &fakeAPI{data: map[string]string{
		"/notifications": `[
			{"id": "n1", "title": "Holiday hours", "message": "Closed Monday", "type": "broadcast",
			 "isRead": false, "adminView": {"readCount": 2, "unreadCount": 3}},
			{"id": "n2", "title": "Order update", "type": "order", "subjectId": "o1", "isRead": true},
			{"title": "no id"}
		]`,
	}}
	src := InboxSource(api)

	records, err := src.Fetch(context.Background())
	require.NoError(t, err)
	got := byID(records)
	require.Len(t, got, 2)

	assert.Equal(t, &Counters{ReadCount: 2, UnreadCount: 3}, got["n1"].Counters)
	assert.Nil(t, got["n2"].Counters)
	assert.True(t, got["n2"].Read)
	assert.Equal(t, "o1", got["n2"].SubjectID)

	require.NoError(t, src.MarkRead(context.Background(), "n1"))
	require.NoError(t, src.Dismiss(context.Background(), "n1"))
	assert.Equal(t, call{http.MethodPatch, "/notifications/n1/read"}, api.calls[1])
	assert.Equal(t, call{http.MethodDelete, "/notifications/n1"}, api.calls[2])
}

func TestSource_EmptyAndErrors(t *testing.T) {
	records, err := ChatSource(&fakeAPI{}).Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	api := &fakeAPI{err: &transport.Error{Kind: transport.ErrNotApplicable}}
	_, err = ApprovalSource(api).Fetch(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotApplicable)

	bad := &fakeAPI{data: map[string]string{"/notifications/order-status": `[1,2]`}}
	_, err = OrderStatusSource(bad).Fetch(context.Background())
	assert.Error(t, err)
}

func TestDefaultSources(t *testing.T) {
	assert.Len(t, DefaultSources(&fakeAPI{}, false), 3)

	all := DefaultSources(&fakeAPI{}, true)
	require.Len(t, all, 4)
	assert.Equal(t, CategoryInbox, all[3].Category())
}
