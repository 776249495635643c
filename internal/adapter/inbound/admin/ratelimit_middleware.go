package admin

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Command-Relay/commandrelay/internal/domain/ratelimit"
)

// Default named limit for mutating admin calls: enough for interactive
// operation, low enough to stop scripted abuse.
const (
	adminLimitType     = "admin_mutation"
	adminLimitMaxCount = 60
	adminLimitWindow   = time.Minute
)

// namedLimitMiddleware admits mutating requests against a per-actor
// windowed counter. Reads pass through untouched. When no limiter is
// configured the middleware is a no-op.
func (h *APIHandler) namedLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil || r.Method == http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		result, err := h.limiter.CheckNamed(r.Context(), ratelimit.NamedLimit{
			ScopeID:   tenantFrom(r),
			ActorID:   actorFrom(r),
			LimitType: adminLimitType,
			MaxCount:  adminLimitMaxCount,
			Window:    adminLimitWindow,
		})
		if err != nil {
			h.logger.Error("named limit check failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}
		if !result.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", result.RetryAfterSeconds()))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded: "+result.Reason)
			return
		}

		next.ServeHTTP(w, r)
	})
}
