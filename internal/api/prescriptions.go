package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/fulfillment"
	"github.com/lalithlochan/rxsync/internal/progress"
	"github.com/lalithlochan/rxsync/internal/redis"
)

// PrescriptionView is a prescription with what the patient may do next.
type PrescriptionView struct {
	fulfillment.Prescription
	Outcome  fulfillment.ApprovalOutcome `json:"outcome"`
	Actions  fulfillment.Actions         `json:"actions"`
	Progress *progress.Projection        `json:"progress,omitempty"`
}

func newPrescriptionView(p fulfillment.Prescription) PrescriptionView {
	v := PrescriptionView{
		Prescription: p,
		Outcome:      p.Outcome(),
		Actions:      p.Actions(),
	}
	if stage, ok := fulfillment.OrderStage(p.Status); ok {
		proj := progress.Project(stage)
		v.Progress = &proj
	}
	return v
}

// SelectRequest picks an approved pharmacy.
type SelectRequest struct {
	PharmacyID string `json:"pharmacyId" validate:"required"`
}

// RespondRequest records a pharmacy decision.
type RespondRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Reason string `json:"reason" validate:"required_if=Status rejected"`
}

// GetPrescription handles GET /v1/prescriptions/{id}
func (h *Handler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	p, err := h.prescriptions.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, newPrescriptionView(p))
}

// ListApprovals handles GET /v1/prescriptions/{id}/approvals
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.prescriptions.FetchApprovals(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	if approvals == nil {
		approvals = []fulfillment.Approval{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":  approvals,
		"count": len(approvals),
	})
}

// SelectPharmacy handles POST /v1/prescriptions/{id}/select
// A repeat with the same Idempotency-Key replays the first response with
// X-Idempotency-Replayed set.
func (h *Handler) SelectPharmacy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req SelectRequest
	if !h.decode(w, r, &req) {
		return
	}

	// Without a client key, the pharmacy id dedupes network retries. Only a
	// client key replays the first response; a keyless repeat gets the same
	// conflict the service reports for an existing selection.
	clientKey := r.Header.Get("Idempotency-Key")
	key, ttl := clientKey, redis.IdempotencyTTLExact
	if key == "" {
		key, ttl = "pharmacy:"+req.PharmacyID, redis.IdempotencyTTL
	}

	reserved := false
	if h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, id, key)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another selection with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("prescription_id", id),
			)
		case cached != nil && clientKey == "":
			h.writeError(w, http.StatusConflict, "conflict", "Selection not possible",
				fulfillment.ErrAlreadySelected.Error())
			return
		case cached != nil:
			w.Header().Set("X-Idempotency-Replayed", "true")
			h.writeJSON(w, cached.StatusCode, cached)
			return
		default:
			reserved = true
		}
	}

	p, err := h.prescriptions.SelectPharmacy(ctx, id, req.PharmacyID)
	if err != nil {
		if reserved {
			if rerr := h.idempotency.Release(ctx, id, key); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.writeUpstreamError(w, err)
		return
	}

	h.logger.Info("pharmacy selected",
		zap.String("prescription_id", id),
		zap.String("pharmacy_id", req.PharmacyID),
	)

	if reserved {
		result := &redis.IdempotencyResult{
			PrescriptionID: id,
			PharmacyID:     req.PharmacyID,
			Status:         string(p.Status),
			StatusCode:     http.StatusOK,
		}
		if err := h.idempotency.Store(ctx, id, key, result, ttl); err != nil {
			h.logger.Warn("failed to store idempotency result", zap.Error(err))
		}
	}

	h.writeJSON(w, http.StatusOK, newPrescriptionView(p))
}

// Respond handles POST /v1/prescriptions/{id}/respond
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var req RespondRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.prescriptions.Respond(r.Context(), chi.URLParam(r, "id"), fulfillment.ApprovalStatus(req.Status), req.Reason)
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, a)
}

// OrderResponse is an order with its history and progress.
type OrderResponse struct {
	Order    fulfillment.Order           `json:"order"`
	Progress progress.Projection         `json:"progress"`
	Percent  int                         `json:"percent"`
	History  []fulfillment.TimelineEntry `json:"history"`
}

// GetOrder handles GET /v1/prescriptions/{id}/order
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	order, err := h.prescriptions.FetchOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeUpstreamError(w, err)
		return
	}

	history, err := h.prescriptions.FetchOrderHistory(ctx, order.ID)
	if err != nil {
		// The order itself is still useful without its timeline.
		h.logger.Warn("order history unavailable", zap.String("order_id", order.ID), zap.Error(err))
	}
	if history == nil {
		history = []fulfillment.TimelineEntry{}
	}

	proj := progress.ProjectRaw(order.Status)
	h.writeJSON(w, http.StatusOK, OrderResponse{
		Order:    order,
		Progress: proj,
		Percent:  proj.Percent(),
		History:  history,
	})
}

// GetProgress handles GET /v1/progress/{status}
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	proj := progress.ProjectRaw(chi.URLParam(r, "status"))
	h.writeJSON(w, http.StatusOK, map[string]any{
		"projection": proj,
		"percent":    proj.Percent(),
	})
}
