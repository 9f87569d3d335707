package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// API is the transport used by the REST-backed sources.
// *transport.Client satisfies it.
type API interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Source fetches and acknowledges one category of notifications.
type Source interface {
	Category() Category
	// Fetch returns the server's full current set for the category.
	Fetch(ctx context.Context) ([]Record, error)
	MarkRead(ctx context.Context, id string) error
	Dismiss(ctx context.Context, id string) error
	// AbsorbsForbidden reports whether a 403 means the category does not
	// apply to the actor's role.
	AbsorbsForbidden() bool
}

type restSource struct {
	api           API
	category      Category
	fetchPath     string
	decode        func(json.RawMessage) ([]Record, error)
	markMethod    string
	markPath      func(id string) string
	dismissMethod string
	dismissPath   func(id string) string
	absorb        bool
}

func (s *restSource) Category() Category     { return s.category }
func (s *restSource) AbsorbsForbidden() bool { return s.absorb }

func (s *restSource) Fetch(ctx context.Context) ([]Record, error) {
	var raw json.RawMessage
	if err := s.api.Do(ctx, http.MethodGet, s.fetchPath, nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	records, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s notifications: %w", s.category, err)
	}
	return records, nil
}

func (s *restSource) MarkRead(ctx context.Context, id string) error {
	return s.api.Do(ctx, s.markMethod, s.markPath(id), nil, nil)
}

func (s *restSource) Dismiss(ctx context.Context, id string) error {
	return s.api.Do(ctx, s.dismissMethod, s.dismissPath(id), nil, nil)
}

func pathWithID(prefix string) func(string) string {
	return func(id string) string { return prefix + url.PathEscape(id) }
}

// ChatSource polls unread chat counts keyed by order id.
func ChatSource(api API) Source {
	mark := pathWithID("/notifications/mark-chat-read/")
	return &restSource{
		api:           api,
		category:      CategoryChat,
		fetchPath:     "/chat/unread-counts",
		decode:        decodeChat,
		markMethod:    http.MethodPost,
		markPath:      mark,
		dismissMethod: http.MethodPost,
		dismissPath:   mark,
	}
}

// ApprovalSource polls pharmacy responses keyed by prescription id.
func ApprovalSource(api API) Source {
	mark := pathWithID("/notifications/mark-approval-read/")
	return &restSource{
		api:           api,
		category:      CategoryApproval,
		fetchPath:     "/notifications/approvals",
		decode:        decodeApprovals,
		markMethod:    http.MethodPost,
		markPath:      mark,
		dismissMethod: http.MethodPost,
		dismissPath:   mark,
		absorb:        true,
	}
}

// OrderStatusSource polls order status changes keyed by order id.
func OrderStatusSource(api API) Source {
	mark := pathWithID("/notifications/mark-order-status-read/")
	return &restSource{
		api:           api,
		category:      CategoryOrderStatus,
		fetchPath:     "/notifications/order-status",
		decode:        decodeOrderStatus,
		markMethod:    http.MethodPost,
		markPath:      mark,
		dismissMethod: http.MethodPost,
		dismissPath:   mark,
		absorb:        true,
	}
}

// InboxSource polls general notifications, including admin broadcasts that
// carry aggregate read counters.
func InboxSource(api API) Source {
	return &restSource{
		api:       api,
		category:  CategoryInbox,
		fetchPath: "/notifications",
		decode:    decodeInbox,
		markMethod: http.MethodPatch,
		markPath: func(id string) string {
			return "/notifications/" + url.PathEscape(id) + "/read"
		},
		dismissMethod: http.MethodDelete,
		dismissPath:   pathWithID("/notifications/"),
		absorb:        true,
	}
}

// DefaultSources returns the three standard sources, plus the inbox when
// includeInbox is set.
func DefaultSources(api API, includeInbox bool) []Source {
	sources := []Source{ChatSource(api), ApprovalSource(api), OrderStatusSource(api)}
	if includeInbox {
		sources = append(sources, InboxSource(api))
	}
	return sources
}

func decodeChat(raw json.RawMessage) ([]Record, error) {
	var data map[string]struct {
		Count       int             `json:"count"`
		ThreadID    string          `json:"threadId"`
		LastMessage json.RawMessage `json:"lastMessage"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data))
	for orderID, v := range data {
		records = append(records, Record{
			ID:        orderID,
			Category:  CategoryChat,
			SubjectID: orderID,
			Payload: Payload{
				Count:       v.Count,
				ThreadID:    v.ThreadID,
				LastMessage: messageText(v.LastMessage),
			},
		})
	}
	return records, nil
}

func decodeApprovals(raw json.RawMessage) ([]Record, error) {
	var data map[string]struct {
		Status string `json:"status"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data))
	for prescriptionID, v := range data {
		records = append(records, Record{
			ID:        prescriptionID,
			Category:  CategoryApproval,
			SubjectID: prescriptionID,
			Payload:   Payload{Status: v.Status, Count: v.Count},
		})
	}
	return records, nil
}

func decodeOrderStatus(raw json.RawMessage) ([]Record, error) {
	var data map[string]struct {
		Status     string          `json:"status"`
		UpdateTime json.RawMessage `json:"updateTime"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data))
	for orderID, v := range data {
		records = append(records, Record{
			ID:        orderID,
			Category:  CategoryOrderStatus,
			SubjectID: orderID,
			Payload:   Payload{Status: v.Status, UpdateTime: parseTime(v.UpdateTime)},
		})
	}
	return records, nil
}

func decodeInbox(raw json.RawMessage) ([]Record, error) {
	var data []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		Type      string `json:"type"`
		SubjectID string `json:"subjectId"`
		IsRead    bool   `json:"isRead"`
		AdminView *struct {
			ReadCount   int `json:"readCount"`
			UnreadCount int `json:"unreadCount"`
		} `json:"adminView"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(data))
	for _, v := range data {
		if v.ID == "" {
			continue
		}
		rec := Record{
			ID:        v.ID,
			Category:  CategoryInbox,
			SubjectID: v.SubjectID,
			Read:      v.IsRead,
			Payload:   Payload{Title: v.Title, Message: v.Message, Type: v.Type},
		}
		if v.AdminView != nil {
			rec.Counters = &Counters{
				ReadCount:   max(0, v.AdminView.ReadCount),
				UnreadCount: max(0, v.AdminView.UnreadCount),
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// messageText accepts either a plain string or a message object.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content string `json:"content"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Content != "" {
			return obj.Content
		}
		return obj.Message
	}
	return ""
}

// parseTime accepts RFC 3339 strings or epoch milliseconds.
func parseTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UTC()
		}
		raw = json.RawMessage(strings.TrimSpace(s))
	}
	if ms, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}
