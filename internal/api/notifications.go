package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/notify"
)

// ReadStateResponse reports a mark-read or dismiss outcome with the
// category view after it.
type ReadStateResponse struct {
	Outcome  notify.Outcome  `json:"outcome"`
	Snapshot notify.Snapshot `json:"snapshot"`
}

// ListSnapshots handles GET /v1/notifications
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps := h.notifications.Snapshots()

	unread := 0
	for _, s := range snaps {
		unread += s.Unread()
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"data":   snaps,
		"unread": unread,
	})
}

// GetSnapshot handles GET /v1/notifications/{category}
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := h.category(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.notifications.Snapshot(c))
}

// Refresh handles POST /v1/notifications/refresh
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.session.Authenticated() {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Not signed in", "")
		return
	}

	res := h.notifications.FetchAll(r.Context())
	h.logger.Debug("manual refresh", zap.Bool("success", res.Success))
	h.writeJSON(w, http.StatusOK, res)
}

// MarkRead handles POST /v1/notifications/{category}/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	c, ok := h.category(w, r)
	if !ok {
		return
	}

	outcome := h.readState.MarkAsRead(r.Context(), c, chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, ReadStateResponse{Outcome: outcome, Snapshot: h.notifications.Snapshot(c)})
}

// Dismiss handles DELETE /v1/notifications/{category}/{id}
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	c, ok := h.category(w, r)
	if !ok {
		return
	}

	outcome := h.readState.Dismiss(r.Context(), c, chi.URLParam(r, "id"))
	h.writeJSON(w, http.StatusOK, ReadStateResponse{Outcome: outcome, Snapshot: h.notifications.Snapshot(c)})
}

func (h *Handler) category(w http.ResponseWriter, r *http.Request) (notify.Category, bool) {
	c := notify.Category(chi.URLParam(r, "category"))
	if !c.Valid() {
		h.writeError(w, http.StatusNotFound, "not_found", "Unknown notification category", string(c))
		return "", false
	}
	return c, true
}
