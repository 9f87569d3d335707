package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/metrics"
)

// Config configures a Dispatcher.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	MaxPending   int
	// RetryDelays is indexed by attempt; the last entry repeats.
	RetryDelays []time.Duration
}

type job struct {
	alert  Alert
	nextAt time.Time
}

// Dispatcher queues alerts in memory and delivers them on a ticker,
// retrying failures with backoff until MaxRetries.
type Dispatcher struct {
	sender Sender
	routes Routes
	config Config
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending []*job
}

func NewDispatcher(sender Sender, routes Routes, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxPending == 0 {
		cfg.MaxPending = 1000
	}
	if len(cfg.RetryDelays) == 0 {
		cfg.RetryDelays = []time.Duration{5 * time.Second, 30 * time.Second, 2 * time.Minute}
	}

	return &Dispatcher{
		sender: sender,
		routes: routes,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue schedules a copy of a on every channel routed for its kind and
// returns how many were queued.
func (d *Dispatcher) Enqueue(a Alert) int {
	channels := d.routes[a.Kind]
	if len(channels) == 0 {
		return 0
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range channels {
		copied := a
		copied.ID = uuid.New()
		copied.Channel = ch
		copied.Attempt = 0
		d.pending = append(d.pending, &job{alert: copied, nextAt: now})
	}

	if over := len(d.pending) - d.config.MaxPending; over > 0 {
		for _, j := range d.pending[:over] {
			metrics.RecordAlertProcessed("dropped", string(j.alert.Channel))
		}
		d.logger.Warn("alert queue full, dropping oldest", zap.Int("dropped", over))
		d.pending = append([]*job(nil), d.pending[over:]...)
	}

	return len(channels)
}

// Pending returns the number of queued alerts.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Start delivers queued alerts until ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("alert dispatcher stopping", zap.Int("pending", d.Pending()))
			return
		case <-ticker.C:
			d.processBatch(ctx)
		}
	}
}

// due removes and returns up to BatchSize alerts whose time has come.
func (d *Dispatcher) due() []*job {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()

	var batch []*job
	kept := d.pending[:0]
	for _, j := range d.pending {
		if len(batch) < d.config.BatchSize && !j.nextAt.After(now) {
			batch = append(batch, j)
			continue
		}
		kept = append(kept, j)
	}
	d.pending = kept
	return batch
}

func (d *Dispatcher) processBatch(ctx context.Context) {
	for _, j := range d.due() {
		if ctx.Err() != nil {
			d.requeue(j)
			continue
		}
		d.processAlert(ctx, j)
	}
}

func (d *Dispatcher) processAlert(ctx context.Context, j *job) {
	alert := &j.alert
	err := d.sender.Send(ctx, alert)
	alert.Attempt++

	if err == nil {
		metrics.RecordAlertProcessed("sent", string(alert.Channel))
		d.logger.Debug("alert sent",
			zap.String("id", alert.ID.String()),
			zap.String("channel", string(alert.Channel)),
		)
		return
	}

	d.logger.Error("failed to send alert",
		zap.Error(err),
		zap.String("id", alert.ID.String()),
		zap.String("channel", string(alert.Channel)),
		zap.Int("attempt", alert.Attempt),
	)

	if alert.Attempt >= d.config.MaxRetries {
		metrics.RecordAlertProcessed("dead_letter", string(alert.Channel))
		d.logger.Warn("alert abandoned after max retries",
			zap.String("id", alert.ID.String()),
			zap.String("kind", string(alert.Kind)),
			zap.Int("attempts", alert.Attempt),
		)
		return
	}

	metrics.RecordAlertProcessed("retry", string(alert.Channel))
	j.nextAt = d.calculateNextRetry(alert.Attempt)
	d.requeue(j)
}

func (d *Dispatcher) requeue(j *job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, j)
}

func (d *Dispatcher) calculateNextRetry(attempt int) time.Time {
	delays := d.config.RetryDelays

	idx := attempt - 1
	if idx >= len(delays) {
		idx = len(delays) - 1
	}

	return d.now().Add(delays[idx])
}
