package coupon

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// Handler exposes coupon validation and management endpoints.
type Handler struct {
	Svc *Service
}

type validateRequest struct {
	Code            string          `json:"code" validate:"required,max=64"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	CityID          string          `json:"cityId" validate:"required"`
	NeighborhoodID  string          `json:"neighborhoodId"`
	EstablishmentID string          `json:"establishmentId" validate:"required"`
}

type couponRequest struct {
	Code            string           `json:"code" validate:"required,max=64"`
	DiscountType    string           `json:"discountType" validate:"required"`
	DiscountValue   decimal.Decimal  `json:"discountValue"`
	MinOrderValue   *decimal.Decimal `json:"minOrderValue"`
	MaxDiscount     *decimal.Decimal `json:"maxDiscount"`
	CityID          *string          `json:"cityId" validate:"omitempty,min=1"`
	NeighborhoodID  *string          `json:"neighborhoodId" validate:"omitempty,min=1"`
	EstablishmentID *string          `json:"establishmentId" validate:"omitempty,min=1"`
	ValidUntil      *time.Time       `json:"validUntil"`
	UsageLimit      *int             `json:"usageLimit" validate:"omitempty,min=0"`
	Active          *bool            `json:"active"`
}

func (req couponRequest) toCoupon() (pricing.Coupon, error) {
	dt, err := pricing.ParseDiscountType(req.DiscountType, false)
	if err != nil {
		return pricing.Coupon{}, common.BadRequest("INVALID_COUPON", err.Error(), err)
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return pricing.Coupon{
		Code:          req.Code,
		DiscountType:  dt,
		DiscountValue: req.DiscountValue,
		MinOrderValue: req.MinOrderValue,
		MaxDiscount:   req.MaxDiscount,
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

// Validate checks a coupon code against the caller's order context.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	if req.Subtotal.IsNegative() {
		common.WriteError(w, common.BadRequest("VALIDATION_FAILED", "subtotal must not be negative", nil))
		return
	}
	res, err := h.Svc.Validate(r.Context(), req.Code, req.Subtotal, pricing.DeliveryContext{
		CityID:          req.CityID,
		NeighborhoodID:  req.NeighborhoodID,
		EstablishmentID: req.EstablishmentID,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"valid":    true,
		"code":     res.Coupon.Code,
		"discount": res.Discount,
		"coupon":   res.Coupon,
	}})
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
	var req couponRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.toCoupon()
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
	id, ok := couponID(w, r)
	if !ok {
		return
	}
	var req couponRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in, err := req.toCoupon()
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

// Deactivate handles DELETE; coupons are never hard-deleted.
func (h *Handler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := couponID(w, r)
	if !ok {
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

func couponID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		common.WriteError(w, common.BadRequest("INVALID_ID", "coupon id must be a positive integer", err))
		return 0, false
	}
	return id, true
}
