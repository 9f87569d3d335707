package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lalithlochan/rxsync/internal/metrics"
	"github.com/lalithlochan/rxsync/internal/transport"
)

// DefaultPollInterval is the poll period used when none is configured.
const DefaultPollInterval = 30 * time.Second

const storeTimeout = 2 * time.Second

// FetchOutcome is the result of one category sub-fetch.
type FetchOutcome string

const (
	FetchOK              FetchOutcome = "ok"
	FetchNotApplicable   FetchOutcome = "not_applicable"
	FetchUnauthenticated FetchOutcome = "unauthenticated"
	FetchFailed          FetchOutcome = "failed"
	// FetchDiscarded means the response arrived after teardown and was dropped.
	FetchDiscarded FetchOutcome = "discarded"
)

// Result summarizes a FetchAll cycle.
type Result struct {
	Success    bool                      `json:"success"`
	Categories map[Category]FetchOutcome `json:"categories"`
}

// Listener receives every committed category update. Listeners run
// synchronously in registration order and must not call MarkAsRead, Dismiss
// or Logout from within the callback.
type Listener func(Snapshot)

// SnapshotStore persists committed snapshots for warm starts.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, c Category) (Snapshot, bool, error)
	Clear(ctx context.Context) error
}

// Config configures an Aggregator.
type Config struct {
	PollInterval time.Duration
	Store        SnapshotStore
	// OnUnauthenticated is called when the server rejects the session token.
	OnUnauthenticated func()
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// applied identifies the state a local mutation was applied against.
type applied struct {
	epoch uint64
	seq   uint64
}

// Aggregator keeps one snapshot per category in sync with the server.
type Aggregator struct {
	sources  map[Category]Source
	order    []Category
	interval time.Duration
	store    SnapshotStore
	onUnauth func()
	logger   *zap.Logger

	mu        sync.RWMutex
	snapshots map[Category]Snapshot
	syncSeq   map[Category]uint64

	// fanMu serializes commit and fan-out so listeners observe commit order.
	fanMu sync.Mutex

	subMu     sync.Mutex
	listeners []listenerEntry
	nextID    uint64

	lifeMu        sync.Mutex
	parent        context.Context
	enabled       bool
	authenticated bool
	cancel        context.CancelFunc
	loopCtx       context.Context
	done          chan struct{}

	epoch atomic.Uint64
	group singleflight.Group
}

// NewAggregator creates an aggregator over the given sources. Sources are
// polled in parallel; their order fixes the order of Snapshots().
func NewAggregator(cfg Config, sources []Source, logger *zap.Logger) *Aggregator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	a := &Aggregator{
		sources:   make(map[Category]Source, len(sources)),
		interval:  cfg.PollInterval,
		store:     cfg.Store,
		onUnauth:  cfg.OnUnauthenticated,
		logger:    logger,
		snapshots: make(map[Category]Snapshot),
		syncSeq:   make(map[Category]uint64),
	}
	for _, s := range sources {
		if _, dup := a.sources[s.Category()]; dup {
			continue
		}
		a.sources[s.Category()] = s
		a.order = append(a.order, s.Category())
	}
	return a
}

// Categories returns the registered categories in registration order.
func (a *Aggregator) Categories() []Category {
	return append([]Category(nil), a.order...)
}

func (a *Aggregator) source(c Category) (Source, bool) {
	s, ok := a.sources[c]
	return s, ok
}

// FetchAll runs one sub-fetch per category in parallel. A failing category
// never aborts the others. Calls that overlap a running cycle share its result.
func (a *Aggregator) FetchAll(ctx context.Context) Result {
	shared, cancel := a.sharedContext(ctx)
	defer cancel()

	v, _, _ := a.group.Do("fetch-all", func() (any, error) {
		return a.fetchAll(shared, a.epoch.Load()), nil
	})
	return v.(Result)
}

// sharedContext detaches a coalesced cycle from the caller that happened to
// start it, so a cancelled refresh cannot fail the poll tick that joined it.
// The cycle is still cancelled when the poll loop stops.
func (a *Aggregator) sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	a.lifeMu.Lock()
	loop := a.loopCtx
	a.lifeMu.Unlock()

	shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if loop == nil {
		return shared, cancel
	}
	stop := context.AfterFunc(loop, cancel)
	return shared, func() {
		stop()
		cancel()
	}
}

func (a *Aggregator) fetchAll(ctx context.Context, epoch uint64) Result {
	outcomes := make([]FetchOutcome, len(a.order))

	var g errgroup.Group
	for i, c := range a.order {
		g.Go(func() error {
			outcomes[i] = a.fetchCategory(ctx, c, epoch)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Success: true, Categories: make(map[Category]FetchOutcome, len(a.order))}
	for i, c := range a.order {
		res.Categories[c] = outcomes[i]
		if outcomes[i] == FetchFailed || outcomes[i] == FetchUnauthenticated {
			res.Success = false
		}
	}
	return res
}

// FetchCategory runs a single sub-fetch.
func (a *Aggregator) FetchCategory(ctx context.Context, c Category) FetchOutcome {
	return a.fetchCategory(ctx, c, a.epoch.Load())
}

func (a *Aggregator) fetchCategory(ctx context.Context, c Category, epoch uint64) FetchOutcome {
	src, ok := a.source(c)
	if !ok {
		return FetchNotApplicable
	}

	start := time.Now()
	records, err := src.Fetch(ctx)
	outcome := a.classify(c, src, err)

	if outcome == FetchOK {
		snap := NewSnapshot(c, records)
		if !a.commit(ctx, epoch, snap.records, true, c) {
			outcome = FetchDiscarded
		}
	}

	metrics.RecordPoll(string(c), string(outcome), time.Since(start))
	return outcome
}

func (a *Aggregator) classify(c Category, src Source, err error) FetchOutcome {
	switch {
	case err == nil:
		return FetchOK
	case errors.Is(err, transport.ErrUnauthenticated):
		a.logger.Warn("session rejected while polling", zap.String("category", string(c)), zap.Error(err))
		a.unauthenticated()
		return FetchUnauthenticated
	case errors.Is(err, transport.ErrNotApplicable) && src.AbsorbsForbidden():
		a.logger.Debug("category not applicable for role", zap.String("category", string(c)))
		return FetchNotApplicable
	case transport.IsCanceled(err):
		a.logger.Debug("poll canceled", zap.String("category", string(c)))
		return FetchFailed
	default:
		a.logger.Warn("poll failed, keeping stale snapshot",
			zap.String("category", string(c)),
			zap.String("class", transport.Class(err)),
			zap.Error(err),
		)
		return FetchFailed
	}
}

func (a *Aggregator) unauthenticated() {
	a.lifeMu.Lock()
	a.authenticated = false
	a.stopLocked()
	a.lifeMu.Unlock()

	if a.onUnauth != nil {
		a.onUnauth()
	}
}

// commit replaces the records of c and fans the new snapshot out. It returns
// false when the epoch has moved on since the work started.
func (a *Aggregator) commit(ctx context.Context, epoch uint64, records map[string]Record, resync bool, c Category) bool {
	a.fanMu.Lock()
	defer a.fanMu.Unlock()

	a.mu.Lock()
	if a.epoch.Load() != epoch {
		a.mu.Unlock()
		return false
	}
	snap := a.nextSnapshotLocked(c, records)
	if resync {
		a.syncSeq[c]++
	}
	a.mu.Unlock()

	a.publish(ctx, snap)
	return true
}

func (a *Aggregator) nextSnapshotLocked(c Category, records map[string]Record) Snapshot {
	prev := a.snapshots[c]
	snap := Snapshot{
		Category:  c,
		Version:   prev.Version + 1,
		UpdatedAt: time.Now().UTC(),
		records:   records,
	}
	a.snapshots[c] = snap
	return snap
}

// publish persists and fans out a committed snapshot. Caller holds fanMu.
func (a *Aggregator) publish(ctx context.Context, snap Snapshot) {
	metrics.SetOpenNotifications(string(snap.Category), snap.Len())

	if a.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		if err := a.store.Save(sctx, snap); err != nil {
			a.logger.Warn("failed to cache snapshot", zap.String("category", string(snap.Category)), zap.Error(err))
		}
		cancel()
	}

	for _, l := range a.listenerSnapshot() {
		l.fn(snap)
	}
}

// apply runs a local mutation through the reducer and commits the result.
func (a *Aggregator) apply(ctx context.Context, c Category, m Mutation) (Mutation, applied, bool) {
	a.fanMu.Lock()
	defer a.fanMu.Unlock()

	a.mu.Lock()
	at := applied{epoch: a.epoch.Load(), seq: a.syncSeq[c]}
	next, eff, changed := Reduce(a.snapshots[c].records, m)
	if !changed {
		a.mu.Unlock()
		return eff, at, false
	}
	snap := a.nextSnapshotLocked(c, next)
	a.mu.Unlock()

	a.publish(ctx, snap)
	return eff, at, true
}

// revert applies inv only if c has not been re-synced from the server or
// torn down since the original mutation.
func (a *Aggregator) revert(ctx context.Context, c Category, inv Mutation, at applied) bool {
	a.fanMu.Lock()
	defer a.fanMu.Unlock()

	a.mu.Lock()
	if a.epoch.Load() != at.epoch || a.syncSeq[c] != at.seq {
		a.mu.Unlock()
		return false
	}
	next, _, changed := Reduce(a.snapshots[c].records, inv)
	if !changed {
		a.mu.Unlock()
		return false
	}
	snap := a.nextSnapshotLocked(c, next)
	a.mu.Unlock()

	a.publish(ctx, snap)
	return true
}

// Snapshot returns the current snapshot of c. Unknown or never-fetched
// categories return an empty snapshot.
func (a *Aggregator) Snapshot(c Category) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.snapshots[c]
	if !ok {
		return Snapshot{Category: c}
	}
	return snap
}

// Snapshots returns the current snapshot of every registered category.
func (a *Aggregator) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(a.order))
	for _, c := range a.order {
		out = append(out, a.Snapshot(c))
	}
	return out
}

// Subscribe registers l and returns its unsubscribe function, which is safe
// to call more than once. The first subscriber of an authenticated session
// starts polling; the last unsubscribe stops it.
func (a *Aggregator) Subscribe(l Listener) (unsubscribe func()) {
	a.subMu.Lock()
	a.nextID++
	id := a.nextID
	a.listeners = append(a.listeners, listenerEntry{id: id, fn: l})
	metrics.SetListeners(len(a.listeners))
	a.subMu.Unlock()

	a.reconcile()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subMu.Lock()
			for i, e := range a.listeners {
				if e.id == id {
					a.listeners = append(a.listeners[:i:i], a.listeners[i+1:]...)
					break
				}
			}
			metrics.SetListeners(len(a.listeners))
			a.subMu.Unlock()

			a.reconcile()
		})
	}
}

func (a *Aggregator) listenerSnapshot() []listenerEntry {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	return append([]listenerEntry(nil), a.listeners...)
}

func (a *Aggregator) listenerCount() int {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	return len(a.listeners)
}

// Start enables polling under ctx. The loop runs while the session is
// authenticated and at least one listener is subscribed. Calling Start while
// already started is a no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	if !a.enabled {
		a.parent = ctx
		a.enabled = true
	}
	a.reconcileLocked()
}

// Stop disables polling and cancels in-flight polls. Results that arrive
// afterwards are discarded. Stop is idempotent.
func (a *Aggregator) Stop() {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.enabled = false
	a.stopLocked()
}

// SetAuthenticated records session state. Signing out stops polling.
func (a *Aggregator) SetAuthenticated(ok bool) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	a.authenticated = ok
	a.reconcileLocked()
}

// Logout stops polling and drops all listeners, snapshots and cached state.
func (a *Aggregator) Logout(ctx context.Context) {
	a.lifeMu.Lock()
	a.authenticated = false
	a.stopLocked()
	a.lifeMu.Unlock()

	a.epoch.Add(1)

	a.subMu.Lock()
	a.listeners = nil
	metrics.SetListeners(0)
	a.subMu.Unlock()

	a.fanMu.Lock()
	a.mu.Lock()
	for _, c := range a.order {
		a.syncSeq[c]++
		metrics.SetOpenNotifications(string(c), 0)
	}
	a.snapshots = make(map[Category]Snapshot)
	a.mu.Unlock()
	a.fanMu.Unlock()

	if a.store != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if err := a.store.Clear(sctx); err != nil {
			a.logger.Warn("failed to clear snapshot cache", zap.Error(err))
		}
	}

	a.logger.Info("notifications cleared on logout")
}

// Polling reports whether the poll loop is running.
func (a *Aggregator) Polling() bool {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.cancel != nil
}

// Done returns a channel closed when the current poll loop exits, or nil if
// no loop is running.
func (a *Aggregator) Done() <-chan struct{} {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.done
}

func (a *Aggregator) reconcile() {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	a.reconcileLocked()
}

func (a *Aggregator) reconcileLocked() {
	want := a.enabled && a.authenticated && a.listenerCount() > 0
	switch {
	case want && a.cancel == nil:
		a.startLocked()
	case !want && a.cancel != nil:
		a.stopLocked()
	}
}

func (a *Aggregator) startLocked() {
	parent := a.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	a.cancel = cancel
	a.loopCtx = ctx
	a.done = make(chan struct{})

	metrics.SetPolling(true)
	a.logger.Info("notification polling started", zap.Duration("interval", a.interval))

	go a.run(ctx, a.epoch.Load(), a.done)
}

// stopLocked cancels the loop without waiting for it, so it is safe to call
// from inside a poll.
func (a *Aggregator) stopLocked() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.cancel = nil
	a.loopCtx = nil
	a.epoch.Add(1)

	metrics.SetPolling(false)
	a.logger.Info("notification polling stopped")
}

func (a *Aggregator) run(ctx context.Context, epoch uint64, done chan struct{}) {
	defer close(done)

	a.warm(ctx, epoch)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *Aggregator) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := a.FetchAll(ctx)
	a.logger.Debug("poll cycle completed", zap.Bool("success", res.Success))
}

// warm fills never-fetched categories from the snapshot store.
func (a *Aggregator) warm(ctx context.Context, epoch uint64) {
	if a.store == nil {
		return
	}
	for _, c := range a.order {
		if a.Snapshot(c).Version > 0 {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, storeTimeout)
		snap, ok, err := a.store.Load(sctx, c)
		cancel()
		if err != nil {
			a.logger.Warn("failed to load cached snapshot", zap.String("category", string(c)), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if a.commit(ctx, epoch, snap.records, true, c) {
			a.logger.Debug("warmed category from cache", zap.String("category", string(c)), zap.Int("records", snap.Len()))
		}
	}
}
