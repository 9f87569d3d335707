package alerts

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/fulfillment"
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/progress"
)

// Enqueuer accepts alerts for delivery. *Dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(a Alert) int
}

// Watcher diffs successive notification snapshots and raises alerts for
// what is new. The first snapshot of each category is the baseline and
// raises nothing.
type Watcher struct {
	out    Enqueuer
	logger *zap.Logger

	mu   sync.Mutex
	last map[notify.Category]notify.Snapshot
}

func NewWatcher(out Enqueuer, logger *zap.Logger) *Watcher {
	return &Watcher{
		out:    out,
		logger: logger,
		last:   make(map[notify.Category]notify.Snapshot),
	}
}

// OnSnapshot is a notify.Listener.
func (w *Watcher) OnSnapshot(snap notify.Snapshot) {
	w.mu.Lock()
	prev, seen := w.last[snap.Category]
	w.last[snap.Category] = snap
	w.mu.Unlock()

	if !seen {
		return
	}

	raised := diff(prev, snap)
	for _, a := range raised {
		w.out.Enqueue(a)
	}
	if len(raised) > 0 {
		w.logger.Debug("alerts raised",
			zap.String("category", string(snap.Category)),
			zap.Int("count", len(raised)),
		)
	}
}

// OnTransition is a fulfillment.TransitionListener.
func (w *Watcher) OnTransition(t fulfillment.Transition) {
	subject := fmt.Sprintf("Prescription %s is now %s", t.PrescriptionID, t.To)
	body := fmt.Sprintf("Prescription %s moved from %s to %s.", t.PrescriptionID, t.From, t.To)
	if t.PharmacyID != "" {
		body += fmt.Sprintf(" Pharmacy: %s.", t.PharmacyID)
	}

	a := New(KindTransition, t.PrescriptionID, subject, body)
	a.Data = map[string]string{
		"from":        string(t.From),
		"to":          string(t.To),
		"pharmacy_id": t.PharmacyID,
	}
	w.out.Enqueue(a)
}

// Reset forgets all baselines, e.g. on logout.
func (w *Watcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.last = make(map[notify.Category]notify.Snapshot)
}

func diff(prev, next notify.Snapshot) []Alert {
	var out []Alert
	for _, rec := range next.Records() {
		if rec.Read {
			continue
		}
		old, existed := prev.Get(rec.ID)
		if a, ok := alertFor(rec, old, existed); ok {
			out = append(out, a)
		}
	}
	return out
}

func alertFor(rec, old notify.Record, existed bool) (Alert, bool) {
	p := rec.Payload
	switch rec.Category {
	case notify.CategoryApproval:
		if existed && old.Payload.Status == p.Status && old.Payload.Count >= p.Count {
			return Alert{}, false
		}
		return New(KindPharmacyResponse, rec.SubjectID,
			fmt.Sprintf("New pharmacy response for prescription %s", rec.SubjectID),
			fmt.Sprintf("Latest response: %s (%d total).", p.Status, p.Count),
		), true

	case notify.CategoryOrderStatus:
		if existed && old.Payload.Status == p.Status {
			return Alert{}, false
		}
		proj := progress.ProjectRaw(p.Status)
		body := proj.Label
		if proj.Progressing {
			body = fmt.Sprintf("%s (step %d of %d).", proj.Label, proj.Step, proj.Total)
		}
		return New(KindOrderStatus, rec.SubjectID,
			fmt.Sprintf("Order %s: %s", rec.SubjectID, proj.Label), body), true

	case notify.CategoryChat:
		if existed && old.Payload.Count >= p.Count {
			return Alert{}, false
		}
		return New(KindChatMessage, rec.SubjectID,
			fmt.Sprintf("%d unread messages on order %s", p.Count, rec.SubjectID),
			p.LastMessage), true

	case notify.CategoryInbox:
		if existed {
			return Alert{}, false
		}
		return New(KindInbox, rec.ID, p.Title, p.Message), true
	}
	return Alert{}, false
}
