// api/internal/api/handlers/audit_handler.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"kari/api/internal/core/domain"
)

type AuditHandler struct {
	Repo domain.AuditRepository
}

func NewAuditHandler(repo domain.AuditRepository) *AuditHandler {
	return &AuditHandler{Repo: repo}
}

// HandleGetTenantLogs handles GET /api/v1/audit
func (h *AuditHandler) HandleGetTenantLogs(w http.ResponseWriter, r *http.Request) {
	filter := parseAlertFilter(r)

	alerts, total, err := h.Repo.GetFilteredAlerts(r.Context(), filter)
	if err != nil {
		HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"alerts": alerts,
		"total":  total,
	})
}

// HandleGetAdminAlerts handles GET /api/v1/admin/alerts
func (h *AuditHandler) HandleGetAdminAlerts(w http.ResponseWriter, r *http.Request) {
	h.HandleGetTenantLogs(w, r)
}

func parseAlertFilter(r *http.Request) domain.AlertFilter {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		Severity: q.Get("severity"),
		TraceID:  q.Get("trace_id"),
	}

	if v := q.Get("is_resolved"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.IsResolved = &b
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	return filter
}
