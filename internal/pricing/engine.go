package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNegativeAmount is returned when a monetary input is below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

var hundred = decimal.NewFromInt(100)

// Input bundles everything needed to price an order.
type Input struct {
	Subtotal  Money
	Coupon    *Coupon
	Promotion *Promotion
	Delivery  DeliveryQuote
}

// ComputeCouponDiscount returns the discount granted by an already validated coupon.
func ComputeCouponDiscount(c *Coupon, subtotal Money) Money {
	if c == nil {
		return decimal.Zero
	}
	switch c.DiscountType {
	case DiscountPercentage:
		raw := subtotal.Mul(c.DiscountValue).Div(hundred)
		if c.MaxDiscount != nil && raw.GreaterThan(*c.MaxDiscount) {
			return *c.MaxDiscount
		}
		return raw
	case DiscountFixed:
		return decimal.Min(c.DiscountValue, subtotal)
	default:
		return decimal.Zero
	}
}

// ComputePromotionEffect returns the discount or free delivery granted by a promotion.
// Fixed promotion discounts are not capped to the subtotal; ComputeFinalTotal clamps the
// merchandise portion at zero instead.
func ComputePromotionEffect(p *Promotion, subtotal Money) PromotionEffect {
	none := PromotionEffect{Discount: decimal.Zero}
	if p == nil {
		return none
	}
	if p.MinOrderValue != nil && subtotal.LessThan(*p.MinOrderValue) {
		return none
	}
	switch p.DiscountType {
	case DiscountFreeDelivery:
		return PromotionEffect{Discount: decimal.Zero, FreeDelivery: true}
	case DiscountPercentage:
		return PromotionEffect{Discount: subtotal.Mul(p.DiscountValue).Div(hundred)}
	case DiscountFixed:
		return PromotionEffect{Discount: p.DiscountValue}
	default:
		return none
	}
}

// ComputeFinalTotal clamps the discounted merchandise amount at zero and adds the delivery fee.
func ComputeFinalTotal(subtotal, couponDiscount, promotionDiscount, deliveryFee Money, freeDelivery bool) Money {
	fee := deliveryFee
	if freeDelivery {
		fee = decimal.Zero
	}
	merchandise := subtotal.Sub(couponDiscount.Add(promotionDiscount))
	if merchandise.IsNegative() {
		merchandise = decimal.Zero
	}
	return merchandise.Add(fee)
}

// Calculate prices an order from already gated inputs.
func Calculate(in Input) (Result, error) {
	if err := in.validate(); err != nil {
		return Result{}, err
	}
	couponDiscount := ComputeCouponDiscount(in.Coupon, in.Subtotal)
	effect := ComputePromotionEffect(in.Promotion, in.Subtotal)
	return Result{
		Subtotal:          in.Subtotal,
		CouponDiscount:    couponDiscount,
		PromotionDiscount: effect.Discount,
		DeliveryFee:       in.Delivery.Fee,
		FreeDelivery:      effect.FreeDelivery,
		FinalTotal:        ComputeFinalTotal(in.Subtotal, couponDiscount, effect.Discount, in.Delivery.Fee, effect.FreeDelivery),
	}, nil
}

func (in Input) validate() error {
	if in.Subtotal.IsNegative() || in.Delivery.Fee.IsNegative() || in.Delivery.DistanceKm.IsNegative() {
		return ErrNegativeAmount
	}
	if in.Coupon != nil {
		if in.Coupon.DiscountValue.IsNegative() || (in.Coupon.MaxDiscount != nil && in.Coupon.MaxDiscount.IsNegative()) {
			return ErrNegativeAmount
		}
	}
	if in.Promotion != nil && in.Promotion.DiscountValue.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}
