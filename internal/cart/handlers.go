package cart

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// Handler wires cart services to HTTP.
type Handler struct {
	Svc *Service
}

type addItemRequest struct {
	ProductID       string          `json:"productId" validate:"required"`
	EstablishmentID string          `json:"establishmentId" validate:"required"`
	Name            string          `json:"name" validate:"max=200"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	Quantity        int             `json:"quantity" validate:"required,min=1,max=99"`
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=99"`
}

type deliveryRequest struct {
	CityID         string         `json:"cityId" validate:"required"`
	NeighborhoodID string         `json:"neighborhoodId" validate:"required"`
	Address        string         `json:"address" validate:"required,max=500"`
	Pickup         delivery.Point `json:"pickup" validate:"required"`
	Dropoff        delivery.Point `json:"dropoff" validate:"required"`
}

type couponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type cartView struct {
	State
	Subtotal pricing.Money `json:"subtotal"`
}

func view(st State) map[string]any {
	return map[string]any{"data": cartView{State: st, Subtotal: st.Pricing().Subtotal()}}
}

// Open returns the caller's active cart, creating it on first use.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.Open(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.AddItem(r.Context(), userID, chi.URLParam(r, "id"), pricing.LineItem{
		ProductID:       req.ProductID,
		EstablishmentID: req.EstablishmentID,
		Name:            req.Name,
		UnitPrice:       req.UnitPrice,
		Quantity:        req.Quantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req quantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.UpdateQty(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.RemoveItem(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) SetDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.SetDeliveryArea(r.Context(), userID, chi.URLParam(r, "id"), DeliveryArea{
		CityID:         req.CityID,
		NeighborhoodID: req.NeighborhoodID,
		Address:        req.Address,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req couponRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	userID, _ := common.UserID(r.Context())
	st, validation, err := h.Svc.ApplyCoupon(r.Context(), userID, chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"cart":     cartView{State: st, Subtotal: st.Pricing().Subtotal()},
		"discount": validation.Discount,
	}})
}

func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	st, err := h.Svc.RemoveCoupon(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, view(st))
}

func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	if err := h.Svc.Clear(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.WriteError(w, common.NotFound("CART_NOT_FOUND", "cart not found"))
	case errors.Is(err, ErrItemNotFound):
		common.WriteError(w, common.NotFound("ITEM_NOT_FOUND", "item not found in cart"))
	case errors.Is(err, pricing.ErrMixedEstablishments):
		common.WriteError(w, common.Conflict("MIXED_ESTABLISHMENTS", "cart already holds items from another establishment"))
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, pricing.ErrNegativeAmount):
		common.WriteError(w, common.BadRequest("VALIDATION_FAILED", err.Error(), err))
	case errors.Is(err, ErrEmpty):
		common.WriteError(w, common.Unprocessable("CART_EMPTY", "cart is empty"))
	case errors.Is(err, ErrConflict):
		common.WriteError(w, common.Conflict("CART_CONFLICT", "cart was modified concurrently, retry"))
	default:
		common.WriteError(w, err)
	}
}
