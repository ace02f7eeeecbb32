package promotion

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// Handler exposes promotion management endpoints.
type Handler struct {
	Svc *Service
}

type promotionRequest struct {
	Name            string           `json:"name" validate:"required,max=120"`
	DiscountType    string           `json:"discountType" validate:"required"`
	DiscountValue   decimal.Decimal  `json:"discountValue"`
	MinOrderValue   *decimal.Decimal `json:"minOrderValue"`
	CityID          *string          `json:"cityId" validate:"omitempty,min=1"`
	NeighborhoodID  *string          `json:"neighborhoodId" validate:"omitempty,min=1"`
	EstablishmentID *string          `json:"establishmentId" validate:"omitempty,min=1"`
	ValidUntil      *time.Time       `json:"validUntil"`
	UsageLimit      *int             `json:"usageLimit" validate:"omitempty,min=0"`
	Active          *bool            `json:"active"`
}

func (req promotionRequest) toPromotion() (pricing.Promotion, error) {
	dt, err := pricing.ParseDiscountType(req.DiscountType, true)
	if err != nil {
		return pricing.Promotion{}, common.BadRequest("INVALID_PROMOTION", err.Error(), err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return pricing.Promotion{
		Name:          req.Name,
		DiscountType:  dt,
		DiscountValue: req.DiscountValue,
		MinOrderValue: req.MinOrderValue,
		Scope: pricing.RegionScope{
			CityID:          req.CityID,
			NeighborhoodID:  req.NeighborhoodID,
			EstablishmentID: req.EstablishmentID,
		},
		ValidUntil: req.ValidUntil,
		UsageLimit: req.UsageLimit,
		Active:     active,
	}, nil
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, _ := common.PrincipalFrom(r.Context())
	page := common.ParsePagination(r, 20, 100)
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	items, err := h.Svc.List(r.Context(), p, page, activeOnly)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.toPromotion()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	created, err := h.Svc.Create(r.Context(), p, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": created})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteError(w, common.BadRequest("INVALID_ID", "promotion id must be a positive integer", err))
		return
	}
	var req promotionRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.toPromotion()
	if err != nil {
		common.WriteError(w, err)
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	updated, err := h.Svc.Update(r.Context(), p, id, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}

func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteError(w, common.BadRequest("INVALID_ID", "promotion id must be a positive integer", err))
		return
	}
	p, _ := common.PrincipalFrom(r.Context())
	updated, err := h.Svc.Deactivate(r.Context(), p, id)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": updated})
}
