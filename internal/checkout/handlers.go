package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-antar/internal/cart"
	"github.com/noah-isme/backend-antar/internal/common"
)

type Handler struct {
	Svc *Service
}

// Quote prices the cart in the URL for the caller.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	userID, _ := common.UserID(r.Context())
	q, err := h.Svc.Quote(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": q})
}

// Checkout places an order from the caller's cart.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
		return
	}
	var in Input
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, err)
		return
	}
	o, err := h.Svc.Checkout(r.Context(), p, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": o})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound):
		common.WriteError(w, common.NotFound("CART_NOT_FOUND", "cart not found"))
	case errors.Is(err, cart.ErrEmpty):
		common.WriteError(w, common.Unprocessable("CART_EMPTY", "cart is empty"))
	case errors.Is(err, ErrTotalMismatch):
		common.WriteError(w, common.Conflict("TOTAL_CHANGED", "order total changed, review the new quote"))
	default:
		common.WriteError(w, err)
	}
}
