package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/policy"
	"github.com/Command-Relay/commandrelay/internal/service"
)

// policyRequest is the JSON request body for creating/updating a policy.
type policyRequest struct {
	Name           string   `json:"name"`
	MatchType      string   `json:"match_type"`
	MatchValue     string   `json:"match_value"`
	Mode           string   `json:"mode"`
	OSWhitelist    []string `json:"os_whitelist,omitempty"`
	Risk           string   `json:"risk,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	ConfirmMessage string   `json:"confirm_message,omitempty"`
	Priority       int      `json:"priority"`
}

// policyResponse is the JSON response for a single policy.
type policyResponse struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id,omitempty"`
	Name           string    `json:"name"`
	MatchType      string    `json:"match_type"`
	MatchValue     string    `json:"match_value"`
	Mode           string    `json:"mode"`
	OSWhitelist    []string  `json:"os_whitelist,omitempty"`
	Risk           string    `json:"risk,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
	ConfirmMessage string    `json:"confirm_message,omitempty"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// toPolicyResponse converts a domain policy to an API response.
func toPolicyResponse(p *policy.CommandPolicy) policyResponse {
	return policyResponse{
		ID:             p.ID,
		TenantID:       p.TenantID,
		Name:           p.Name,
		MatchType:      string(p.MatchType),
		MatchValue:     p.MatchValue,
		Mode:           string(p.Mode),
		OSWhitelist:    p.OSWhitelist,
		Risk:           string(p.Risk),
		TimeoutSeconds: p.TimeoutSeconds,
		ConfirmMessage: p.ConfirmMessage,
		Priority:       p.Priority,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// toDomainPolicy converts a request body to a domain policy scoped to
// the request tenant.
func toDomainPolicy(req policyRequest, tenantID string) *policy.CommandPolicy {
	return &policy.CommandPolicy{
		TenantID:       tenantID,
		Name:           req.Name,
		MatchType:      policy.MatchType(req.MatchType),
		MatchValue:     req.MatchValue,
		Mode:           policy.Mode(req.Mode),
		OSWhitelist:    req.OSWhitelist,
		Risk:           policy.Risk(req.Risk),
		TimeoutSeconds: req.TimeoutSeconds,
		ConfirmMessage: req.ConfirmMessage,
		Priority:       req.Priority,
	}
}

// handleListPolicies returns the policies visible to the tenant,
// priority-ordered.
// GET /api/v1/policies
func (h *APIHandler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	if h.policyAdmin == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	policies, err := h.policyAdmin.List(r.Context(), tenantFrom(r))
	if err != nil {
		h.logger.Error("failed to list policies", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list policies")
		return
	}

	result := make([]policyResponse, len(policies))
	for i := range policies {
		result[i] = toPolicyResponse(&policies[i])
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleGetPolicy returns a single policy by id.
// GET /api/v1/policies/{id}
func (h *APIHandler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdmin == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	p, err := h.policyAdmin.Get(r.Context(), h.pathParam(r, "id"))
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "failed to get policy")
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(p))
}

// handleCreatePolicy creates a new policy from the request body.
// POST /api/v1/policies
func (h *APIHandler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdmin == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	created, err := h.policyAdmin.Create(r.Context(), toDomainPolicy(req, tenantFrom(r)), actorFrom(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidPolicy) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create policy", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create policy")
		return
	}
	h.respondJSON(w, http.StatusCreated, toPolicyResponse(created))
}

// handleUpdatePolicy replaces an existing policy.
// PUT /api/v1/policies/{id}
func (h *APIHandler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdmin == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	id := h.pathParam(r, "id")

	var req policyRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	p := toDomainPolicy(req, tenantFrom(r))
	p.ID = id

	updated, err := h.policyAdmin.Update(r.Context(), p, actorFrom(r))
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		if errors.Is(err, service.ErrInvalidPolicy) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to update policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}
	h.respondJSON(w, http.StatusOK, toPolicyResponse(updated))
}

// handleDeletePolicy removes a policy by id.
// DELETE /api/v1/policies/{id}
func (h *APIHandler) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if h.policyAdmin == nil {
		h.respondError(w, http.StatusInternalServerError, "policy service not configured")
		return
	}

	id := h.pathParam(r, "id")
	if err := h.policyAdmin.Delete(r.Context(), id, actorFrom(r)); err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			h.respondError(w, http.StatusNotFound, "policy not found")
			return
		}
		h.logger.Error("failed to delete policy", "error", err, "id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to delete policy")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkRequest is the JSON request body for the classification check.
type checkRequest struct {
	Commands []string `json:"commands"`
	AgentOS  string   `json:"agent_os,omitempty"`
}

// handlePolicyCheck classifies a batch of commands without executing
// anything. The response is the aggregate classification.
// POST /api/v1/policy/check
func (h *APIHandler) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil {
		h.respondError(w, http.StatusInternalServerError, "classifier not configured")
		return
	}

	var req checkRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	// An empty command list is a valid check: the classifier answers
	// auto with zero counts.
	classification, err := h.classifier.Classify(r.Context(), req.Commands, tenantFrom(r), req.AgentOS)
	if err != nil {
		h.logger.Error("classification failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	h.respondJSON(w, http.StatusOK, classification)
}
