package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/metrics"
	"github.com/lalithlochan/rxsync/internal/transport"
)

// Outcome is the observable result of a read-state operation.
type Outcome string

const (
	// OutcomeNoop means nothing changed: the record is absent or already read.
	OutcomeNoop Outcome = "noop"
	// OutcomeConfirmed means the optimistic change was confirmed by the server.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeRolledBack means confirmation failed and the change was undone.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeSuperseded means confirmation failed but the category was
	// re-synced from the server in the meantime, so the server state stands.
	OutcomeSuperseded Outcome = "superseded"
	// OutcomeRemoved means the server confirmed a dismissal.
	OutcomeRemoved Outcome = "removed"
	// OutcomeRetained means the dismissal was not confirmed and the record kept.
	OutcomeRetained Outcome = "retained"
)

// Tracker marks notifications read and dismisses them. No error escapes its
// methods; callers observe the resulting state and the returned Outcome.
type Tracker struct {
	agg    *Aggregator
	logger *zap.Logger
}

// NewTracker creates a tracker over the aggregator's categories.
func NewTracker(agg *Aggregator, logger *zap.Logger) *Tracker {
	return &Tracker{agg: agg, logger: logger}
}

// MarkAsRead marks a record read optimistically, then confirms with the
// server. A failed confirmation applies the exact inverse of the change.
func (t *Tracker) MarkAsRead(ctx context.Context, c Category, id string) Outcome {
	outcome := t.markAsRead(ctx, c, id)
	metrics.RecordReadStateOp("mark_read", string(c), string(outcome))
	return outcome
}

func (t *Tracker) markAsRead(ctx context.Context, c Category, id string) Outcome {
	src, ok := t.agg.source(c)
	if !ok {
		return OutcomeNoop
	}

	eff, at, changed := t.agg.apply(ctx, c, MarkRead(id))
	if !changed {
		return OutcomeNoop
	}

	err := src.MarkRead(ctx, id)
	if err == nil {
		return OutcomeConfirmed
	}

	if !t.agg.revert(ctx, c, eff.Invert(), at) {
		t.logger.Info("mark read failed after resync, keeping server state",
			zap.String("category", string(c)),
			zap.String("notification_id", id),
			zap.Error(err),
		)
		return OutcomeSuperseded
	}

	t.logger.Warn("mark read failed, rolled back",
		zap.String("category", string(c)),
		zap.String("notification_id", id),
		zap.String("class", transport.Class(err)),
		zap.Error(err),
	)
	return OutcomeRolledBack
}

// Dismiss asks the server to remove a record and removes it locally only
// once the server confirms.
func (t *Tracker) Dismiss(ctx context.Context, c Category, id string) Outcome {
	outcome := t.dismiss(ctx, c, id)
	metrics.RecordReadStateOp("dismiss", string(c), string(outcome))
	return outcome
}

func (t *Tracker) dismiss(ctx context.Context, c Category, id string) Outcome {
	src, ok := t.agg.source(c)
	if !ok {
		return OutcomeNoop
	}
	if _, ok := t.agg.Snapshot(c).Get(id); !ok {
		return OutcomeNoop
	}

	if err := src.Dismiss(ctx, id); err != nil {
		t.logger.Warn("dismiss failed, keeping notification",
			zap.String("category", string(c)),
			zap.String("notification_id", id),
			zap.String("class", transport.Class(err)),
			zap.Error(err),
		)
		return OutcomeRetained
	}

	// A concurrent resync may already have dropped it.
	t.agg.apply(ctx, c, Remove(id))
	return OutcomeRemoved
}
