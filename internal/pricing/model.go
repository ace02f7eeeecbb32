package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money represents a monetary amount in the store currency.
type Money = decimal.Decimal

// ErrMixedEstablishments is returned when a cart holds items from more than one establishment.
var ErrMixedEstablishments = errors.New("cart items must belong to a single establishment")

// DiscountType enumerates how a coupon or promotion reduces the charged amount.
type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeDelivery DiscountType = "free_delivery"
)

// ParseDiscountType normalises a raw discount type. Free delivery is only accepted when allowFreeDelivery is set.
func ParseDiscountType(raw string, allowFreeDelivery bool) (DiscountType, error) {
	switch dt := DiscountType(strings.ToLower(strings.TrimSpace(raw))); dt {
	case DiscountPercentage, DiscountFixed:
		return dt, nil
	case DiscountFreeDelivery:
		if allowFreeDelivery {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unsupported discount type %q", raw)
}

// LineItem is a single product entry in a cart.
type LineItem struct {
	ProductID       string `json:"productId"`
	EstablishmentID string `json:"establishmentId"`
	Name            string `json:"name,omitempty"`
	UnitPrice       Money  `json:"unitPrice"`
	Quantity        int    `json:"quantity"`
}

// Total returns unit price multiplied by quantity.
func (li LineItem) Total() Money {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Cart is the pricing view of a customer's cart.
type Cart struct {
	EstablishmentID string
	CityID          string
	NeighborhoodID  string
	Items           []LineItem
}

// Subtotal sums every line item.
func (c Cart) Subtotal() Money {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.Total())
	}
	return total
}

// Validate checks the single-vendor invariant and line item bounds.
func (c Cart) Validate() error {
	for _, it := range c.Items {
		if it.EstablishmentID != c.EstablishmentID {
			return ErrMixedEstablishments
		}
		if it.Quantity < 1 {
			return fmt.Errorf("item %s: quantity must be at least 1", it.ProductID)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("item %s: %w", it.ProductID, ErrNegativeAmount)
		}
	}
	return nil
}

// DeliveryContext returns the region the cart is delivered to.
func (c Cart) DeliveryContext() DeliveryContext {
	return DeliveryContext{
		CityID:          c.CityID,
		NeighborhoodID:  c.NeighborhoodID,
		EstablishmentID: c.EstablishmentID,
	}
}

// DeliveryContext identifies where an order is delivered and who fulfils it.
type DeliveryContext struct {
	CityID          string
	NeighborhoodID  string
	EstablishmentID string
}

// RegionScope narrows where a coupon or promotion applies. Nil fields apply everywhere.
type RegionScope struct {
	CityID          *string `json:"cityId,omitempty"`
	NeighborhoodID  *string `json:"neighborhoodId,omitempty"`
	EstablishmentID *string `json:"establishmentId,omitempty"`
}

// Coupon is a user-entered code unlocking a discount.
type Coupon struct {
	ID            int64        `json:"id"`
	Code          string       `json:"code"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue Money        `json:"discountValue"`
	MinOrderValue *Money       `json:"minOrderValue,omitempty"`
	MaxDiscount   *Money       `json:"maxDiscount,omitempty"`
	Scope         RegionScope  `json:"scope"`
	ValidUntil    *time.Time   `json:"validUntil,omitempty"`
	UsageLimit    *int         `json:"usageLimit,omitempty"`
	UsageCount    int          `json:"usageCount"`
	Active        bool         `json:"active"`
}

// Promotion is an automatically applied regional or establishment discount.
type Promotion struct {
	ID            int64        `json:"id"`
	Name          string       `json:"name"`
	DiscountType  DiscountType `json:"discountType"`
	DiscountValue Money        `json:"discountValue"`
	MinOrderValue *Money       `json:"minOrderValue,omitempty"`
	Scope         RegionScope  `json:"scope"`
	ValidUntil    *time.Time   `json:"validUntil,omitempty"`
	UsageLimit    *int         `json:"usageLimit,omitempty"`
	UsageCount    int          `json:"usageCount"`
	Active        bool         `json:"active"`
}

// DeliveryQuote is a distance-derived delivery fee supplied by a routing provider.
type DeliveryQuote struct {
	DistanceKm decimal.Decimal `json:"distanceKm"`
	Fee        Money           `json:"fee"`
}

// PromotionEffect describes what an applicable promotion does to an order.
type PromotionEffect struct {
	Discount     Money `json:"discount"`
	FreeDelivery bool  `json:"freeDelivery"`
}

// Result is the pricing breakdown for an order.
type Result struct {
	Subtotal          Money `json:"subtotal"`
	CouponDiscount    Money `json:"couponDiscount"`
	PromotionDiscount Money `json:"promotionDiscount"`
	DeliveryFee       Money `json:"deliveryFee"`
	FreeDelivery      bool  `json:"freeDelivery"`
	FinalTotal        Money `json:"finalTotal"`
}

// Round rounds every component to the given number of decimal places and recomputes the total
// so the breakdown stays consistent.
func (r Result) Round(places int32) Result {
	out := Result{
		Subtotal:          r.Subtotal.Round(places),
		CouponDiscount:    r.CouponDiscount.Round(places),
		PromotionDiscount: r.PromotionDiscount.Round(places),
		DeliveryFee:       r.DeliveryFee.Round(places),
		FreeDelivery:      r.FreeDelivery,
	}
	out.FinalTotal = ComputeFinalTotal(out.Subtotal, out.CouponDiscount, out.PromotionDiscount, out.DeliveryFee, out.FreeDelivery)
	return out
}
