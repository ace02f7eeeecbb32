package audit

import (
	"net/http"

	"github.com/noah-isme/backend-antar/internal/common"
)

// Handler exposes HTTP endpoints for working with audit logs.
type Handler struct {
	Store Store
}

// List returns a paginated list of audit logs for administrators.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page := common.ParsePagination(r, 50, 200)
	q := r.URL.Query()
	rows, err := h.Store.List(r.Context(), ListFilter{
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
		Limit:        page.PerPage,
		Offset:       page.Offset(),
	})
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "AUDIT_QUERY_FAILED", "unable to fetch audit logs", nil)
		return
	}
	if rows == nil {
		rows = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": page})
}
