package admin

import (
	"errors"
	"net/http"

	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

// handleListConfirmations returns the pending confirmations for a
// tenant, oldest first.
// GET /api/v1/confirmations
func (h *APIHandler) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, http.StatusInternalServerError, "confirmation manager not configured")
		return
	}

	pending, err := h.confirmations.ListPending(r.Context(), tenantFrom(r))
	if err != nil {
		h.logger.Error("failed to list confirmations", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list confirmations")
		return
	}
	if pending == nil {
		pending = []*confirmation.CommandConfirmation{}
	}
	h.respondJSON(w, http.StatusOK, pending)
}

// handleGetConfirmation returns one confirmation by id.
// GET /api/v1/confirmations/{id}
func (h *APIHandler) handleGetConfirmation(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, http.StatusInternalServerError, "confirmation manager not configured")
		return
	}

	c, err := h.confirmations.Get(r.Context(), h.pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, confirmation.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "confirmation not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get confirmation")
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// handleApproveConfirmation resolves a pending confirmation as approved.
// POST /api/v1/confirmations/{id}/approve
func (h *APIHandler) handleApproveConfirmation(w http.ResponseWriter, r *http.Request) {
	h.resolveConfirmation(w, r, confirmation.DecisionApproved)
}

// handleRejectConfirmation resolves a pending confirmation as rejected.
// POST /api/v1/confirmations/{id}/reject
func (h *APIHandler) handleRejectConfirmation(w http.ResponseWriter, r *http.Request) {
	h.resolveConfirmation(w, r, confirmation.DecisionRejected)
}

func (h *APIHandler) resolveConfirmation(w http.ResponseWriter, r *http.Request, dec confirmation.Decision) {
	if h.confirmations == nil {
		h.respondError(w, http.StatusInternalServerError, "confirmation manager not configured")
		return
	}

	id := h.pathParam(r, "id")
	c, err := h.confirmations.Resolve(r.Context(), id, dec, actorFrom(r))
	if err != nil {
		h.writeConfirmationError(w, err, id)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// handleCancelConfirmation withdraws a pending confirmation.
// POST /api/v1/confirmations/{id}/cancel
func (h *APIHandler) handleCancelConfirmation(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, http.StatusInternalServerError, "confirmation manager not configured")
		return
	}

	id := h.pathParam(r, "id")
	c, err := h.confirmations.Cancel(r.Context(), id, actorFrom(r))
	if err != nil {
		h.writeConfirmationError(w, err, id)
		return
	}
	h.respondJSON(w, http.StatusOK, c)
}

// handleSweepConfirmations expires every pending confirmation past its
// TTL and reports what was swept.
// POST /api/v1/confirmations/sweep
func (h *APIHandler) handleSweepConfirmations(w http.ResponseWriter, r *http.Request) {
	if h.confirmations == nil {
		h.respondError(w, http.StatusInternalServerError, "confirmation manager not configured")
		return
	}

	result, err := h.confirmations.Sweep(r.Context())
	if err != nil {
		h.logger.Error("confirmation sweep failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

// writeConfirmationError maps the lifecycle error taxonomy to HTTP:
// unknown id is 404, an illegal transition (already resolved or past
// expiry) is 409.
func (h *APIHandler) writeConfirmationError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, confirmation.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "confirmation not found")
	case errors.Is(err, confirmation.ErrConflict):
		h.respondError(w, http.StatusConflict, "confirmation is no longer pending")
	default:
		h.logger.Error("confirmation transition failed", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "confirmation transition failed")
	}
}
