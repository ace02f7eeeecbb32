package order

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-antar/internal/common"
)

// Handler exposes order read and status endpoints.
type Handler struct {
	Svc *Service
}

type patchStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := common.PrincipalFrom(r.Context())
	var status Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := ParseStatus(raw)
		if err != nil {
			common.WriteError(w, common.BadRequest("INVALID_STATUS", err.Error(), err))
			return
		}
		status = parsed
	}
	page := common.ParsePagination(r, 20, 100)
	orders, err := h.Svc.List(r.Context(), p, page, status)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": orders, "pagination": page})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	o, err := h.Svc.Get(r.Context(), p, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

// PatchStatus applies a lifecycle transition for the caller's role.
func (h *Handler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req patchStatusRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	to, err := ParseStatus(req.Status)
	if err != nil {
		common.WriteError(w, common.BadRequest("INVALID_STATUS", err.Error(), err))
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	o, err := h.Svc.UpdateStatus(r.Context(), p, id, to)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": o})
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	changes, err := h.Svc.History(r.Context(), p, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	if changes == nil {
		changes = []StatusChange{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": changes})
}

func orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("INVALID_ID", "order id must be a UUID", err))
		return uuid.Nil, false
	}
	return id, true
}
