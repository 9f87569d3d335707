package notify

import (
	"context"
	"sync"

	"github.com/lalithlochan/rxsync/internal/transport"
)

type fakeSource struct {
	mu         sync.Mutex
	category   Category
	absorb     bool
	records    []Record
	fetchErr   error
	markErr    error
	dismissErr error
	// block, when set, holds Fetch until it is closed.
	block   chan struct{}
	started chan struct{}
	onMark  func()

	fetches   int
	marked    []string
	dismissed []string
}

func newFakeSource(c Category, records ...Record) *fakeSource {
	return &fakeSource{category: c, records: records, absorb: c != CategoryChat}
}

func (f *fakeSource) Category() Category     { return f.category }
func (f *fakeSource) AbsorbsForbidden() bool { return f.absorb }

func (f *fakeSource) Fetch(ctx context.Context) ([]Record, error) {
	f.mu.Lock()
	f.fetches++
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]Record(nil), f.records...), nil
}

func (f *fakeSource) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	f.marked = append(f.marked, id)
	hook, err := f.onMark, f.markErr
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return err
}

func (f *fakeSource) Dismiss(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed = append(f.dismissed, id)
	return f.dismissErr
}

func (f *fakeSource) set(records ...Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.fetchErr = nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeSource) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

func apiErr(kind error) error {
	return &transport.Error{Method: "GET", Path: "/x", Kind: kind}
}

type memoryStore struct {
	mu      sync.Mutex
	saved   map[Category]Snapshot
	cleared int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{saved: make(map[Category]Snapshot)}
}

func (m *memoryStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[snap.Category] = snap
	return nil
}

func (m *memoryStore) Load(ctx context.Context, c Category) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.saved[c]
	return snap, ok, nil
}

func (m *memoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[Category]Snapshot)
	m.cleared++
	return nil
}
