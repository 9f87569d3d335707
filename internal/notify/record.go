// Package notify mirrors the marketplace's open notifications per category,
// fans changes out to listeners and tracks read state with optimistic updates.
package notify

import (
	"encoding/json"
	"sort"
	"time"
)

// Category is an independently polled notification kind.
type Category string

const (
	CategoryChat        Category = "chat"
	CategoryApproval    Category = "approval"
	CategoryOrderStatus Category = "order_status"
	// CategoryInbox holds general broadcast notifications. Opt-in.
	CategoryInbox Category = "inbox"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryChat, CategoryApproval, CategoryOrderStatus, CategoryInbox:
		return true
	}
	return false
}

// Counters are the aggregate read counts carried by multi-recipient notifications.
type Counters struct {
	ReadCount   int `json:"readCount"`
	UnreadCount int `json:"unreadCount"`
}

// Payload holds the category-specific attributes of a record. Only the fields
// relevant to the record's category are set.
type Payload struct {
	Count       int       `json:"count,omitempty"`
	ThreadID    string    `json:"threadId,omitempty"`
	LastMessage string    `json:"lastMessage,omitempty"`
	Status      string    `json:"status,omitempty"`
	UpdateTime  time.Time `json:"updateTime,omitzero"`
	Title       string    `json:"title,omitempty"`
	Message     string    `json:"message,omitempty"`
	Type        string    `json:"type,omitempty"`
}

// Record is one outstanding notification. Records are values; a change always
// produces a new Record and Counters are never shared between records.
type Record struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	SubjectID string    `json:"subjectId"`
	Payload   Payload   `json:"payload"`
	Read      bool      `json:"read"`
	Counters  *Counters `json:"counters,omitempty"`
}

func (r Record) clone() Record {
	if r.Counters != nil {
		c := *r.Counters
		r.Counters = &c
	}
	return r
}

// Snapshot is an immutable view of one category. Each committed change
// produces a new Snapshot with a higher Version.
type Snapshot struct {
	Category  Category
	Version   uint64
	UpdatedAt time.Time

	records map[string]Record
}

// NewSnapshot builds a snapshot from records. The slice is copied.
func NewSnapshot(c Category, records []Record) Snapshot {
	m := make(map[string]Record, len(records))
	for _, r := range records {
		m[r.ID] = r.clone()
	}
	return Snapshot{Category: c, records: m}
}

// Get returns the record with the given id.
func (s Snapshot) Get(id string) (Record, bool) {
	r, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// Unread returns the number of records not yet marked read.
func (s Snapshot) Unread() int {
	n := 0
	for _, r := range s.records {
		if !r.Read {
			n++
		}
	}
	return n
}

// Records returns a copy of the records ordered by id.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type snapshotJSON struct {
	Category  Category  `json:"category"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
	Unread    int       `json:"unread"`
	Records   []Record  `json:"records"`
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{
		Category:  s.Category,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
		Unread:    s.Unread(),
		Records:   s.Records(),
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewSnapshot(raw.Category, raw.Records)
	s.Version = raw.Version
	s.UpdatedAt = raw.UpdatedAt
	return nil
}

// MutationKind identifies a local change to a category's records.
type MutationKind int

const (
	MutationMarkRead MutationKind = iota
	MutationMarkUnread
	MutationRemove
	MutationInsert
)

func (k MutationKind) String() string {
	switch k {
	case MutationMarkRead:
		return "mark_read"
	case MutationMarkUnread:
		return "mark_unread"
	case MutationRemove:
		return "remove"
	case MutationInsert:
		return "insert"
	default:
		return "unknown"
	}
}

// Mutation is a reducer event. ReadDelta and UnreadDelta apply to the
// record's Counters, if it has any. Record is the payload for Insert and the
// removed record for an applied Remove.
type Mutation struct {
	Kind        MutationKind
	ID          string
	ReadDelta   int
	UnreadDelta int
	Record      *Record
}

// MarkRead marks a record read, moving one count from unread to read.
func MarkRead(id string) Mutation {
	return Mutation{Kind: MutationMarkRead, ID: id, ReadDelta: 1, UnreadDelta: -1}
}

// Remove deletes a record.
func Remove(id string) Mutation {
	return Mutation{Kind: MutationRemove, ID: id}
}

// Invert returns the mutation that undoes m. It is exact only for the
// effective mutation returned by Reduce.
func (m Mutation) Invert() Mutation {
	inv := Mutation{ID: m.ID, ReadDelta: -m.ReadDelta, UnreadDelta: -m.UnreadDelta, Record: m.Record}
	switch m.Kind {
	case MutationMarkRead:
		inv.Kind = MutationMarkUnread
	case MutationMarkUnread:
		inv.Kind = MutationMarkRead
	case MutationRemove:
		inv.Kind = MutationInsert
	case MutationInsert:
		inv.Kind = MutationRemove
	}
	return inv
}

// Reduce applies m to records and returns the new record set, the mutation
// as actually applied and whether anything changed. records is never
// modified. Counter arithmetic is clamped at zero and the effective deltas
// reflect the clamp, so Reduce(next, effective.Invert()) restores records.
func Reduce(records map[string]Record, m Mutation) (map[string]Record, Mutation, bool) {
	switch m.Kind {
	case MutationMarkRead, MutationMarkUnread:
		rec, ok := records[m.ID]
		if !ok {
			return records, m, false
		}
		wantRead := m.Kind == MutationMarkRead
		if rec.Read == wantRead {
			return records, m, false
		}

		next := rec.clone()
		next.Read = wantRead
		eff := Mutation{Kind: m.Kind, ID: m.ID}
		if next.Counters != nil {
			eff.ReadDelta = clampAdd(&next.Counters.ReadCount, m.ReadDelta)
			eff.UnreadDelta = clampAdd(&next.Counters.UnreadCount, m.UnreadDelta)
		}

		out := copyRecords(records)
		out[m.ID] = next
		return out, eff, true

	case MutationRemove:
		rec, ok := records[m.ID]
		if !ok {
			return records, m, false
		}
		out := copyRecords(records)
		delete(out, m.ID)
		removed := rec.clone()
		return out, Mutation{Kind: MutationRemove, ID: m.ID, Record: &removed}, true

	case MutationInsert:
		if m.Record == nil {
			return records, m, false
		}
		out := copyRecords(records)
		out[m.ID] = m.Record.clone()
		return out, m, true
	}
	return records, m, false
}

// clampAdd adds delta to *v without going below zero and returns the change
// actually made.
func clampAdd(v *int, delta int) int {
	old := *v
	*v = max(0, old+delta)
	return *v - old
}

func copyRecords(records map[string]Record) map[string]Record {
	out := make(map[string]Record, len(records)+1)
	for k, v := range records {
		out[k] = v
	}
	return out
}
