// Package fulfillment implements the prescription fulfillment state machine:
// statuses and legal transitions, pharmacy approvals and selection, and the
// gating of patient actions.
package fulfillment

import (
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/progress"
)

// Status is a prescription status.
type Status string

const (
	StatusUploaded        Status = "uploaded"
	StatusProcessing      Status = "processing"
	StatusProcessed       Status = "processed"
	StatusPendingApproval Status = "pending_approval"
	StatusAccepted        Status = "accepted"
	StatusPreparing       Status = "preparing"
	StatusReady           Status = "ready"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusUploaded:        {StatusProcessing, StatusCancelled},
	StatusProcessing:      {StatusProcessed, StatusCancelled},
	StatusProcessed:       {StatusPendingApproval, StatusAccepted, StatusCancelled},
	StatusPendingApproval: {StatusAccepted, StatusCancelled},
	StatusAccepted:        {StatusPreparing, StatusCancelled},
	StatusPreparing:       {StatusReady, StatusCancelled},
	StatusReady:           {StatusDelivered, StatusCompleted, StatusCancelled},
	StatusDelivered:       {StatusCompleted},
	StatusCompleted:       nil,
	StatusCancelled:       nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// hasSelection lists the statuses in which a pharmacy must be selected.
func hasSelection(s Status) bool {
	switch s {
	case StatusAccepted, StatusPreparing, StatusReady, StatusDelivered, StatusCompleted:
		return true
	}
	return false
}

func selecting(s Status) bool {
	return s == StatusProcessed || s == StatusPendingApproval
}

// RelevantCategories returns the notification categories worth polling for a
// prescription in status s.
func RelevantCategories(s Status) []notify.Category {
	switch s {
	case StatusProcessed, StatusPendingApproval:
		return []notify.Category{notify.CategoryApproval}
	case StatusAccepted, StatusPreparing, StatusReady:
		return []notify.Category{notify.CategoryOrderStatus, notify.CategoryChat}
	case StatusDelivered:
		return []notify.Category{notify.CategoryOrderStatus}
	default:
		return nil
	}
}

// OrderStage maps a prescription status onto the order progress sequence.
// ok is false before an order exists.
func OrderStage(s Status) (stage progress.Status, ok bool) {
	switch s {
	case StatusAccepted:
		return progress.StatusConfirmed, true
	case StatusPreparing:
		return progress.StatusPreparing, true
	case StatusReady:
		return progress.StatusReady, true
	case StatusDelivered, StatusCompleted:
		return progress.StatusDelivered, true
	case StatusCancelled:
		return progress.StatusCancelled, true
	default:
		return "", false
	}
}

var rank = map[Status]int{
	StatusUploaded:        1,
	StatusProcessing:      2,
	StatusProcessed:       3,
	StatusPendingApproval: 4,
	StatusAccepted:        5,
	StatusPreparing:       6,
	StatusReady:           7,
	StatusDelivered:       8,
	StatusCompleted:       9,
	StatusCancelled:       10,
}

// behind reports whether s is earlier in the fulfillment path than other.
func (s Status) behind(other Status) bool {
	return rank[s] < rank[other]
}
