package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/confirmation"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	confirmations *confirmation.Manager
	version       string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components
// that aren't available.
func NewHealthChecker(confirmations *confirmation.Manager, version string) *HealthChecker {
	return &HealthChecker{
		confirmations: confirmations,
		version:       version,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.confirmations != nil {
		// A store round trip; if the backing store is down this surfaces it.
		cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pending, err := h.confirmations.ListPending(cctx, "")
		cancel()
		if err != nil {
			checks["confirmation_store"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["confirmation_store"] = fmt.Sprintf("ok: %d pending", len(pending))
		}
	} else {
		checks["confirmation_store"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

// healthHandler is the fallback when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
