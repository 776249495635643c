// Package admin provides the JSON API for operating the gateway:
// policy CRUD, the classification check endpoint, confirmation
// resolution, and audit queries.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
	"github.com/Command-Relay/commandrelay/internal/service"
)

// APIHandler provides the JSON API endpoints for the admin surface.
type APIHandler struct {
	policyAdmin   *service.PolicyAdminService
	classifier    *service.ClassificationService
	confirmations *confirmation.Manager
	auditReader   audit.Store
	limiter       ratelimit.Limiter
	logger        *slog.Logger
	startTime     time.Time
	version       string
}

// APIOption configures an APIHandler dependency.
type APIOption func(*APIHandler)

// WithPolicyAdmin sets the policy admin service.
func WithPolicyAdmin(s *service.PolicyAdminService) APIOption {
	return func(h *APIHandler) { h.policyAdmin = s }
}

// WithClassifier sets the classification service for the check endpoint.
func WithClassifier(s *service.ClassificationService) APIOption {
	return func(h *APIHandler) { h.classifier = s }
}

// WithConfirmations sets the confirmation lifecycle manager.
func WithConfirmations(m *confirmation.Manager) APIOption {
	return func(h *APIHandler) { h.confirmations = m }
}

// WithAuditReader sets the audit record reader for queries.
func WithAuditReader(s audit.Store) APIOption {
	return func(h *APIHandler) { h.auditReader = s }
}

// WithLimiter sets the rate limiter guarding mutating endpoints.
func WithLimiter(l ratelimit.Limiter) APIOption {
	return func(h *APIHandler) { h.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) APIOption {
	return func(h *APIHandler) { h.logger = l }
}

// WithVersion sets the build version reported by the system endpoint.
func WithVersion(v string) APIOption {
	return func(h *APIHandler) { h.version = v }
}

// NewAPIHandler creates an APIHandler with the given options.
func NewAPIHandler(opts ...APIOption) *APIHandler {
	h := &APIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all API routes registered.
func (h *APIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Policy CRUD and the classification check.
	mux.HandleFunc("GET /api/v1/policies", h.handleListPolicies)
	mux.HandleFunc("POST /api/v1/policies", h.handleCreatePolicy)
	mux.HandleFunc("GET /api/v1/policies/{id}", h.handleGetPolicy)
	mux.HandleFunc("PUT /api/v1/policies/{id}", h.handleUpdatePolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", h.handleDeletePolicy)
	mux.HandleFunc("POST /api/v1/policy/check", h.handlePolicyCheck)

	// Confirmation lifecycle.
	mux.HandleFunc("GET /api/v1/confirmations", h.handleListConfirmations)
	mux.HandleFunc("GET /api/v1/confirmations/{id}", h.handleGetConfirmation)
	mux.HandleFunc("POST /api/v1/confirmations/{id}/approve", h.handleApproveConfirmation)
	mux.HandleFunc("POST /api/v1/confirmations/{id}/reject", h.handleRejectConfirmation)
	mux.HandleFunc("POST /api/v1/confirmations/{id}/cancel", h.handleCancelConfirmation)
	mux.HandleFunc("POST /api/v1/confirmations/sweep", h.handleSweepConfirmations)

	// Audit trail and system info.
	mux.HandleFunc("GET /api/v1/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /api/v1/system", h.handleSystemInfo)

	// Mutating endpoints are guarded by a per-actor named limit.
	return h.namedLimitMiddleware(mux)
}

// handleSystemInfo reports version and uptime.
func (h *APIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response.
func (h *APIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *APIHandler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
func (h *APIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// tenantFrom resolves the tenant scope for a request: the X-Tenant-ID
// header, falling back to the tenant_id query parameter.
func tenantFrom(r *http.Request) string {
	if t := r.Header.Get("X-Tenant-ID"); t != "" {
		return t
	}
	return r.URL.Query().Get("tenant_id")
}

// actorFrom identifies the acting principal, for audit attribution and
// named rate limits.
func actorFrom(r *http.Request) string {
	if a := r.Header.Get("X-Actor-ID"); a != "" {
		return a
	}
	return "anonymous"
}
