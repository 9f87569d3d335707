package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/metrics"
	"github.com/lalithlochan/rxsync/internal/transport"
)

// API is the transport used by Service. *transport.Client satisfies it.
type API interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

// Transition is emitted whenever a tracked prescription changes status.
type Transition struct {
	PrescriptionID string    `json:"prescriptionId"`
	From           Status    `json:"from"`
	To             Status    `json:"to"`
	PharmacyID     string    `json:"pharmacyId,omitempty"`
	At             time.Time `json:"at"`
}

// TransitionListener receives transitions in the order they happen.
type TransitionListener func(Transition)

// Summary is the server's order/approval status view of a prescription.
type Summary struct {
	PrescriptionID       string `json:"prescriptionId"`
	Status               Status `json:"status"`
	SelectedPharmacyID   string `json:"selectedPharmacyId,omitempty"`
	SelectedPharmacyName string `json:"selectedPharmacyName,omitempty"`
	OrderStatus          string `json:"orderStatus,omitempty"`
	CanPlaceOrder        bool   `json:"canPlaceOrder"`
	CanChat              bool   `json:"canChat"`
}

// UnmarshalJSON accepts selectedPharmacy as an id string or an object.
func (s *Summary) UnmarshalJSON(data []byte) error {
	var raw struct {
		PrescriptionID   string          `json:"prescriptionId"`
		Status           Status          `json:"status"`
		SelectedPharmacy json.RawMessage `json:"selectedPharmacy"`
		OrderStatus      string          `json:"orderStatus"`
		CanPlaceOrder    bool            `json:"canPlaceOrder"`
		CanChat          bool            `json:"canChat"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Summary{
		PrescriptionID: raw.PrescriptionID,
		Status:         raw.Status,
		OrderStatus:    raw.OrderStatus,
		CanPlaceOrder:  raw.CanPlaceOrder,
		CanChat:        raw.CanChat,
	}

	if len(raw.SelectedPharmacy) == 0 || string(raw.SelectedPharmacy) == "null" {
		return nil
	}
	var id string
	if err := json.Unmarshal(raw.SelectedPharmacy, &id); err == nil {
		s.SelectedPharmacyID = id
		return nil
	}
	var obj struct {
		ID    string `json:"id"`
		OID   string `json:"_id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(raw.SelectedPharmacy, &obj); err != nil {
		return fmt.Errorf("selectedPharmacy: %w", err)
	}
	s.SelectedPharmacyID = obj.ID
	if s.SelectedPharmacyID == "" {
		s.SelectedPharmacyID = obj.OID
	}
	s.SelectedPharmacyName = obj.Name
	return nil
}

// Service tracks prescriptions for the signed-in actor and performs
// fulfillment operations against the marketplace API.
type Service struct {
	api    API
	logger *zap.Logger
	now    func() time.Time

	mu            sync.Mutex
	prescriptions map[string]*Prescription
	inFlight      map[string]bool

	subMu     sync.Mutex
	listeners map[uint64]TransitionListener
	order     []uint64
	nextID    uint64
}

// NewService creates a fulfillment service.
func NewService(api API, logger *zap.Logger) *Service {
	return &Service{
		api:           api,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		prescriptions: make(map[string]*Prescription),
		inFlight:      make(map[string]bool),
		listeners:     make(map[uint64]TransitionListener),
	}
}

// Subscribe registers a transition listener and returns its unsubscribe func.
func (s *Service) Subscribe(l TransitionListener) (unsubscribe func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	s.order = append(s.order, id)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.listeners, id)
		for i, lid := range s.order {
			if lid == id {
				s.order = append(s.order[:i:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *Service) emit(transitions ...Transition) {
	if len(transitions) == 0 {
		return
	}

	s.subMu.Lock()
	listeners := make([]TransitionListener, 0, len(s.order))
	for _, id := range s.order {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.subMu.Unlock()

	for _, t := range transitions {
		s.logger.Info("prescription transition",
			zap.String("prescription_id", t.PrescriptionID),
			zap.String("from", string(t.From)),
			zap.String("to", string(t.To)),
		)
		for _, l := range listeners {
			l(t)
		}
	}
}

// Get returns a copy of a tracked prescription.
func (s *Service) Get(id string) (Prescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[id]
	if !ok {
		return Prescription{}, false
	}
	return p.clone(), true
}

// List returns copies of all tracked prescriptions ordered by id.
func (s *Service) List() []Prescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prescription, 0, len(s.prescriptions))
	for _, p := range s.prescriptions {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Forget drops all tracked prescriptions, e.g. on logout.
func (s *Service) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prescriptions = make(map[string]*Prescription)
}

// Load fetches the summary and approvals of a prescription and merges them
// into the tracked state.
func (s *Service) Load(ctx context.Context, id string) (Prescription, error) {
	if id == "" {
		return Prescription{}, invalid("prescriptionId", "prescription is required")
	}

	summary, err := s.FetchSummary(ctx, id)
	if err != nil {
		return Prescription{}, err
	}

	var approvals []Approval
	if selecting(summary.Status) || summary.SelectedPharmacyID != "" {
		approvals, err = s.FetchApprovals(ctx, id)
		if err != nil {
			return Prescription{}, err
		}
	}

	s.mu.Lock()
	p, ok := s.prescriptions[id]
	if !ok {
		p = &Prescription{ID: id, Status: summary.Status}
		s.prescriptions[id] = p
	}
	transitions := s.mergeLocked(p, summary, approvals)
	out := p.clone()
	s.mu.Unlock()

	s.emit(transitions...)
	return out, nil
}

// mergeLocked folds server state into p. Status never moves backwards and a
// confirmed local selection is kept until the summary catches up.
func (s *Service) mergeLocked(p *Prescription, summary Summary, approvals []Approval) []Transition {
	now := s.now()
	var transitions []Transition

	for _, a := range approvals {
		advanced, err := p.RecordApproval(a, now)
		if err != nil {
			s.logger.Warn("ignoring changed approval response",
				zap.String("prescription_id", p.ID),
				zap.String("pharmacy_id", a.PharmacyID),
				zap.Error(err),
			)
			continue
		}
		if advanced {
			transitions = append(transitions, Transition{
				PrescriptionID: p.ID, From: StatusProcessed, To: StatusPendingApproval, At: now,
			})
		}
	}

	stale := p.SelectedPharmacyID != "" && summary.SelectedPharmacyID == ""
	if !stale {
		if summary.Status.Valid() && summary.Status != p.Status && !summary.Status.behind(p.Status) {
			transitions = append(transitions, Transition{
				PrescriptionID: p.ID, From: p.Status, To: summary.Status,
				PharmacyID: summary.SelectedPharmacyID, At: now,
			})
			p.Status = summary.Status
			p.UpdatedAt = now
		}
		if summary.SelectedPharmacyID != "" {
			p.SelectedPharmacyID = summary.SelectedPharmacyID
		}
	}
	if summary.OrderStatus != "" {
		p.OrderStatus = summary.OrderStatus
	}

	if err := p.Validate(); err != nil {
		s.logger.Warn("prescription state inconsistent", zap.String("prescription_id", p.ID), zap.Error(err))
	}
	return transitions
}

// SelectPharmacy selects an approved pharmacy. Preconditions are checked
// before the select request is sent; a prescription not yet tracked is loaded
// first, so reads may precede validation. The change is applied only after
// the server confirms, and the prescription is then refetched.
func (s *Service) SelectPharmacy(ctx context.Context, prescriptionID, pharmacyID string) (Prescription, error) {
	if prescriptionID == "" {
		return Prescription{}, invalid("prescriptionId", "prescription is required")
	}

	if _, ok := s.Get(prescriptionID); !ok {
		if _, err := s.Load(ctx, prescriptionID); err != nil {
			return Prescription{}, fmt.Errorf("failed to load prescription: %w", err)
		}
	}

	s.mu.Lock()
	p := s.prescriptions[prescriptionID]
	if s.inFlight[prescriptionID] {
		s.mu.Unlock()
		metrics.RecordSelection("invalid")
		return Prescription{}, &ValidationError{Field: "prescriptionId", Reason: "a selection is already in progress", Err: ErrSelectionInFlight}
	}
	if err := p.CheckSelect(pharmacyID); err != nil {
		s.mu.Unlock()
		metrics.RecordSelection("invalid")
		return Prescription{}, err
	}
	s.inFlight[prescriptionID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, prescriptionID)
		s.mu.Unlock()
	}()

	path := "/prescriptions/" + url.PathEscape(prescriptionID) + "/select-pharmacy"
	body := map[string]string{"pharmacyId": pharmacyID}
	if err := s.api.Do(ctx, http.MethodPatch, path, body, nil); err != nil {
		metrics.RecordSelection("failed")
		s.logger.Warn("pharmacy selection failed",
			zap.String("prescription_id", prescriptionID),
			zap.String("pharmacy_id", pharmacyID),
			zap.String("class", transport.Class(err)),
			zap.Error(err),
		)
		return Prescription{}, fmt.Errorf("failed to select pharmacy: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	from := p.Status
	// A Load that ran during the PATCH may already have merged this selection
	// and emitted its transition.
	merged := hasSelection(p.Status) && p.SelectedPharmacyID == pharmacyID
	if !merged {
		if err := p.applySelection(pharmacyID, now); err != nil {
			s.mu.Unlock()
			return Prescription{}, err
		}
	}
	s.mu.Unlock()

	metrics.RecordSelection("accepted")
	if !merged {
		s.emit(Transition{PrescriptionID: prescriptionID, From: from, To: StatusAccepted, PharmacyID: pharmacyID, At: now})
	}

	if _, err := s.Load(ctx, prescriptionID); err != nil {
		s.logger.Warn("refetch after selection failed", zap.String("prescription_id", prescriptionID), zap.Error(err))
	}

	out, _ := s.Get(prescriptionID)
	return out, nil
}

// Respond records the signed-in pharmacy's decision on a prescription.
// Rejections require a reason.
func (s *Service) Respond(ctx context.Context, prescriptionID string, decision ApprovalStatus, reason string) (Approval, error) {
	if prescriptionID == "" {
		return Approval{}, invalid("prescriptionId", "prescription is required")
	}
	if decision != ApprovalApproved && decision != ApprovalRejected {
		return Approval{}, invalid("status", "decision must be approved or rejected")
	}
	if decision == ApprovalRejected && reason == "" {
		return Approval{}, invalid("reason", "a reason is required to reject a prescription")
	}

	var resp struct {
		Approval *Approval `json:"approval"`
	}
	path := "/prescriptions/" + url.PathEscape(prescriptionID) + "/respond"
	body := map[string]string{"status": string(decision), "reason": reason}
	if err := s.api.Do(ctx, http.MethodPatch, path, body, &resp); err != nil {
		return Approval{}, fmt.Errorf("failed to respond to prescription: %w", err)
	}

	a := Approval{PrescriptionID: prescriptionID, Status: decision, Reason: reason, RespondedAt: s.now()}
	if resp.Approval != nil {
		a = *resp.Approval
		a.PrescriptionID = prescriptionID
	}

	s.logger.Info("prescription response recorded",
		zap.String("prescription_id", prescriptionID),
		zap.String("decision", string(decision)),
	)
	return a, nil
}

// FetchApprovals returns all pharmacy responses for a prescription.
func (s *Service) FetchApprovals(ctx context.Context, prescriptionID string) ([]Approval, error) {
	var resp struct {
		Approvals []Approval `json:"approvals"`
	}
	path := "/prescriptions/" + url.PathEscape(prescriptionID) + "/approvals"
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch approvals: %w", err)
	}
	for i := range resp.Approvals {
		resp.Approvals[i].PrescriptionID = prescriptionID
	}
	return resp.Approvals, nil
}

// FetchSummary returns the server's order/approval summary.
func (s *Service) FetchSummary(ctx context.Context, prescriptionID string) (Summary, error) {
	var summary Summary
	path := "/prescriptions/" + url.PathEscape(prescriptionID) + "/order-status"
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &summary); err != nil {
		return Summary{}, fmt.Errorf("failed to fetch prescription summary: %w", err)
	}
	summary.PrescriptionID = prescriptionID
	return summary, nil
}

// FetchOrder returns the order created for a prescription.
func (s *Service) FetchOrder(ctx context.Context, prescriptionID string) (Order, error) {
	var raw json.RawMessage
	path := "/orders?prescriptionId=" + url.QueryEscape(prescriptionID)
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return Order{}, fmt.Errorf("failed to fetch order: %w", err)
	}

	var orders []Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		var one Order
		if err := json.Unmarshal(raw, &one); err != nil {
			return Order{}, fmt.Errorf("failed to decode order: %w", err)
		}
		orders = []Order{one}
	}
	if len(orders) == 0 || orders[0].ID == "" {
		return Order{}, fmt.Errorf("no order for prescription %s: %w", prescriptionID, transport.ErrRejected)
	}
	return orders[0], nil
}

// FetchOrderHistory returns an order's timeline, oldest first.
func (s *Service) FetchOrderHistory(ctx context.Context, orderID string) ([]TimelineEntry, error) {
	var resp struct {
		Timeline []TimelineEntry `json:"timeline"`
		History  *struct {
			Timeline []TimelineEntry `json:"timeline"`
		} `json:"history"`
	}
	path := "/orders/" + url.PathEscape(orderID) + "/history"
	if err := s.api.Do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch order history: %w", err)
	}

	timeline := resp.Timeline
	if resp.History != nil {
		timeline = resp.History.Timeline
	}
	sort.SliceStable(timeline, func(i, j int) bool { return timeline[i].Timestamp.Before(timeline[j].Timestamp) })
	return timeline, nil
}
