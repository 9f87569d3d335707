package fulfillment

import (
	"fmt"
	"time"
)

// ApprovalStatus is a pharmacy's response to a prescription.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is one pharmacy's response, keyed by (PrescriptionID, PharmacyID).
type Approval struct {
	PrescriptionID string         `json:"prescriptionId"`
	PharmacyID     string         `json:"pharmacyId"`
	PharmacyName   string         `json:"pharmacyName,omitempty"`
	Status         ApprovalStatus `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	RespondedAt    time.Time      `json:"respondedAt,omitzero"`
}

// Responded reports whether the pharmacy has answered.
func (a Approval) Responded() bool {
	return a.Status == ApprovalApproved || a.Status == ApprovalRejected
}

// ApprovalOutcome summarizes where a prescription stands in pharmacy selection.
type ApprovalOutcome string

const (
	// OutcomeAwaiting means no pharmacy has approved yet and some may still respond.
	OutcomeAwaiting ApprovalOutcome = "awaiting"
	// OutcomeAvailable means at least one approved pharmacy can be selected.
	OutcomeAvailable ApprovalOutcome = "available"
	// OutcomeNoViablePharmacy means every pharmacy responded and all rejected.
	OutcomeNoViablePharmacy ApprovalOutcome = "no_viable_pharmacy"
	// OutcomeSelected means a pharmacy has been selected.
	OutcomeSelected ApprovalOutcome = "selected"
)

// Actions are the patient actions enabled for a prescription.
type Actions struct {
	SelectPharmacy bool `json:"selectPharmacy"`
	ViewApprovals  bool `json:"viewApprovals"`
	TrackOrder     bool `json:"trackOrder"`
	Chat           bool `json:"chat"`
}

// Prescription is the client-side mirror of a prescription and its approvals.
type Prescription struct {
	ID                 string     `json:"id"`
	Status             Status     `json:"status"`
	SelectedPharmacyID string     `json:"selectedPharmacyId,omitempty"`
	Approvals          []Approval `json:"approvals"`
	OrderStatus        string     `json:"orderStatus,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func (p *Prescription) clone() Prescription {
	out := *p
	out.Approvals = append([]Approval(nil), p.Approvals...)
	return out
}

// Approval returns the response of the given pharmacy.
func (p *Prescription) Approval(pharmacyID string) (Approval, bool) {
	for _, a := range p.Approvals {
		if a.PharmacyID == pharmacyID {
			return a, true
		}
	}
	return Approval{}, false
}

// Transition moves the prescription to status to.
func (p *Prescription) Transition(to Status, at time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = at
	return nil
}

// RecordApproval adds or updates a pharmacy response. A response is final
// once given; RespondedAt is stamped on the first response. The first
// response moves a processed prescription to pending_approval, reported by
// the returned bool.
func (p *Prescription) RecordApproval(a Approval, at time.Time) (advanced bool, err error) {
	a.PrescriptionID = p.ID

	idx := -1
	for i, existing := range p.Approvals {
		if existing.PharmacyID == a.PharmacyID {
			idx = i
			break
		}
	}

	if idx >= 0 {
		existing := p.Approvals[idx]
		if existing.Responded() {
			if a.Status != existing.Status {
				return false, fmt.Errorf("%w: pharmacy %s", ErrApprovalFinal, a.PharmacyID)
			}
			return false, nil
		}
	}

	if a.Responded() && a.RespondedAt.IsZero() {
		a.RespondedAt = at
	}
	if !a.Responded() {
		a.RespondedAt = time.Time{}
	}

	if idx >= 0 {
		p.Approvals[idx] = a
	} else {
		p.Approvals = append(p.Approvals, a)
	}

	if a.Responded() && p.Status == StatusProcessed {
		return true, p.Transition(StatusPendingApproval, at)
	}
	return false, nil
}

// Outcome reports the selection outcome.
func (p *Prescription) Outcome() ApprovalOutcome {
	if p.SelectedPharmacyID != "" {
		return OutcomeSelected
	}

	rejected := 0
	for _, a := range p.Approvals {
		switch a.Status {
		case ApprovalApproved:
			return OutcomeAvailable
		case ApprovalRejected:
			rejected++
		}
	}
	if rejected > 0 && rejected == len(p.Approvals) {
		return OutcomeNoViablePharmacy
	}
	return OutcomeAwaiting
}

// Actions returns the enabled patient actions.
func (p *Prescription) Actions() Actions {
	canSelect := selecting(p.Status) && p.SelectedPharmacyID == ""
	return Actions{
		SelectPharmacy: canSelect,
		ViewApprovals:  canSelect,
		TrackOrder: p.Status == StatusAccepted || p.Status == StatusPreparing ||
			p.Status == StatusReady || p.Status == StatusDelivered,
		Chat: p.Status == StatusAccepted || p.Status == StatusPreparing || p.Status == StatusReady,
	}
}

// CheckSelect validates selecting pharmacyID without changing anything.
func (p *Prescription) CheckSelect(pharmacyID string) error {
	if pharmacyID == "" {
		return invalid("pharmacyId", "pharmacy is required")
	}
	if p.SelectedPharmacyID != "" {
		return &ValidationError{Field: "pharmacyId", Reason: "a pharmacy has already been selected", Err: ErrAlreadySelected}
	}
	if !selecting(p.Status) {
		return invalid("status", fmt.Sprintf("cannot select a pharmacy while %s", p.Status))
	}

	a, ok := p.Approval(pharmacyID)
	if !ok {
		return invalid("pharmacyId", "pharmacy has not responded to this prescription")
	}
	if a.Status != ApprovalApproved {
		return invalid("pharmacyId", fmt.Sprintf("pharmacy response is %s, not approved", a.Status))
	}
	return nil
}

// applySelection records a server-confirmed selection.
func (p *Prescription) applySelection(pharmacyID string, at time.Time) error {
	if err := p.Transition(StatusAccepted, at); err != nil {
		return err
	}
	p.SelectedPharmacyID = pharmacyID
	return nil
}

// Validate checks that a pharmacy is selected exactly in the statuses that
// require one.
func (p *Prescription) Validate() error {
	if !p.Status.Valid() {
		return invalid("status", fmt.Sprintf("unknown status %q", p.Status))
	}
	if hasSelection(p.Status) && p.SelectedPharmacyID == "" {
		return invalid("selectedPharmacyId", fmt.Sprintf("status %s requires a selected pharmacy", p.Status))
	}
	if !hasSelection(p.Status) && p.SelectedPharmacyID != "" && p.Status != StatusCancelled {
		return invalid("selectedPharmacyId", fmt.Sprintf("status %s cannot have a selected pharmacy", p.Status))
	}

	seen := make(map[string]bool, len(p.Approvals))
	for _, a := range p.Approvals {
		if seen[a.PharmacyID] {
			return invalid("approvals", fmt.Sprintf("duplicate approval for pharmacy %s", a.PharmacyID))
		}
		seen[a.PharmacyID] = true
	}
	return nil
}

// Order is the order created when a prescription is accepted.
type Order struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescriptionId"`
	PharmacyID     string    `json:"pharmacyId,omitempty"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
}

// TimelineEntry is one step of an order's history.
type TimelineEntry struct {
	Status    string    `json:"status"`
	Label     string    `json:"label,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}
