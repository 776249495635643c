package admin

import (
	"net/http"
	"strconv"

	"github.com/Command-Relay/commandrelay/internal/domain/audit"
)

// defaultAuditLimit caps unbounded audit queries.
const defaultAuditLimit = 100

// handleQueryAudit returns recent audit records, newest first.
// GET /api/v1/audit?tenant_id=...&limit=...
func (h *APIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.auditReader == nil {
		h.respondError(w, http.StatusInternalServerError, "audit store not configured")
		return
	}

	limit := defaultAuditLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.auditReader.List(r.Context(), tenantFrom(r), limit)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	h.respondJSON(w, http.StatusOK, records)
}
