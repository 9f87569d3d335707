package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/circuitbreaker"
	"github.com/lalithlochan/rxsync/internal/fulfillment"
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/redis"
	"github.com/lalithlochan/rxsync/internal/session"
	"github.com/lalithlochan/rxsync/internal/transport"
)

// Notifications is the read side of the notification aggregator.
type Notifications interface {
	Snapshot(c notify.Category) notify.Snapshot
	Snapshots() []notify.Snapshot
	FetchAll(ctx context.Context) notify.Result
	Polling() bool
}

// ReadState marks notifications read and dismisses them.
type ReadState interface {
	MarkAsRead(ctx context.Context, c notify.Category, id string) notify.Outcome
	Dismiss(ctx context.Context, c notify.Category, id string) notify.Outcome
}

// Prescriptions drives the fulfillment state machine.
type Prescriptions interface {
	Load(ctx context.Context, id string) (fulfillment.Prescription, error)
	SelectPharmacy(ctx context.Context, prescriptionID, pharmacyID string) (fulfillment.Prescription, error)
	Respond(ctx context.Context, prescriptionID string, decision fulfillment.ApprovalStatus, reason string) (fulfillment.Approval, error)
	FetchApprovals(ctx context.Context, prescriptionID string) ([]fulfillment.Approval, error)
	FetchOrder(ctx context.Context, prescriptionID string) (fulfillment.Order, error)
	FetchOrderHistory(ctx context.Context, orderID string) ([]fulfillment.TimelineEntry, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler serves the local view of notifications and prescriptions.
type Handler struct {
	logger        *zap.Logger
	session       *session.Session
	notifications Notifications
	readState     ReadState
	prescriptions Prescriptions
	validate      *validator.Validate

	idempotency *redis.IdempotencyService // nil if Redis not configured
	breakers    []*circuitbreaker.CircuitBreaker
}

// NewHandler creates a handler without idempotency or breaker reporting.
func NewHandler(logger *zap.Logger, sess *session.Session, notifications Notifications, readState ReadState, prescriptions Prescriptions) *Handler {
	return &Handler{
		logger:        logger,
		session:       sess,
		notifications: notifications,
		readState:     readState,
		prescriptions: prescriptions,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithIdempotency enables Idempotency-Key handling on pharmacy selection.
func (h *Handler) WithIdempotency(svc *redis.IdempotencyService) *Handler {
	h.idempotency = svc
	return h
}

// WithBreakers reports the given breakers on /v1/status.
func (h *Handler) WithBreakers(breakers ...*circuitbreaker.CircuitBreaker) *Handler {
	h.breakers = append(h.breakers, breakers...)
	return h
}

// Mount registers the /v1 routes. limiter, when non-nil, guards manual refresh.
func (h *Handler) Mount(r chi.Router, limiter *redis.RateLimiter) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.Status)

		r.Post("/session", h.Login)
		r.Delete("/session", h.Logout)

		r.Get("/notifications", h.ListSnapshots)
		r.With(RateLimitMiddleware(limiter, h.logger, SessionKeyFunc(h.session))).
			Post("/notifications/refresh", h.Refresh)
		r.Get("/notifications/{category}", h.GetSnapshot)
		r.Post("/notifications/{category}/{id}/read", h.MarkRead)
		r.Delete("/notifications/{category}/{id}", h.Dismiss)

		r.Get("/prescriptions/{id}", h.GetPrescription)
		r.Get("/prescriptions/{id}/approvals", h.ListApprovals)
		r.Post("/prescriptions/{id}/select", h.SelectPharmacy)
		r.Post("/prescriptions/{id}/respond", h.Respond)
		r.Get("/prescriptions/{id}/order", h.GetOrder)

		r.Get("/progress/{status}", h.GetProgress)
	})
}

// LoginRequest opens a session with a marketplace token.
type LoginRequest struct {
	Token string `json:"token" validate:"required"`
	Role  string `json:"role" validate:"required,oneof=patient pharmacy admin"`
}

// Login handles POST /v1/session
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.session.Login(req.Token, session.Role(req.Role))

	h.writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"role":          req.Role,
	})
}

// Logout handles DELETE /v1/session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout()
	w.WriteHeader(http.StatusNoContent)
}

// StatusResponse describes the sync engine.
type StatusResponse struct {
	Authenticated bool                   `json:"authenticated"`
	Role          string                 `json:"role,omitempty"`
	Polling       bool                   `json:"polling"`
	Breakers      []circuitbreaker.Stats `json:"breakers"`
}

// Status handles GET /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Authenticated: h.session.Authenticated(),
		Role:          string(h.session.Role()),
		Polling:       h.notifications.Polling(),
		Breakers:      make([]circuitbreaker.Stats, 0, len(h.breakers)),
	}
	for _, b := range h.breakers {
		resp.Breakers = append(resp.Breakers, b.Stats())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request", validationDetail(err))
		return false
	}
	return true
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", lowerFirst(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", lowerFirst(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// writeUpstreamError maps domain and transport errors onto HTTP responses.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, err error) {
	var verr *fulfillment.ValidationError
	switch {
	case errors.Is(err, fulfillment.ErrAlreadySelected), errors.Is(err, fulfillment.ErrSelectionInFlight):
		h.writeError(w, http.StatusConflict, "conflict", "Selection not possible", err.Error())
	case errors.As(err, &verr):
		h.writeError(w, http.StatusUnprocessableEntity, "validation_failed", "Validation failed", err.Error())
	case errors.Is(err, transport.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Not signed in", "")
	case errors.Is(err, transport.ErrNotApplicable):
		h.writeError(w, http.StatusForbidden, "not_applicable", "Not available for this role", "")
	case errors.Is(err, transport.ErrRejected):
		h.writeError(w, http.StatusUnprocessableEntity, "rejected", "Marketplace rejected the request", upstreamMessage(err))
	default:
		h.logger.Warn("marketplace call failed", zap.String("class", transport.Class(err)), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "upstream_error", "Marketplace unavailable", "")
	}
}

func upstreamMessage(err error) string {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Message
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
