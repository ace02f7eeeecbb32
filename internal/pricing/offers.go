package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOffer is returned when a coupon or promotion definition is malformed.
var ErrInvalidOffer = errors.New("invalid offer definition")

// NormalizeCode canonicalises a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check validates a coupon definition before it is stored.
func (c Coupon) Check() error {
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidOffer)
	}
	if c.DiscountType != DiscountPercentage && c.DiscountType != DiscountFixed {
		return fmt.Errorf("%w: coupons support percentage or fixed discounts", ErrInvalidOffer)
	}
	if c.MaxDiscount != nil && c.DiscountType != DiscountPercentage {
		return fmt.Errorf("%w: maxDiscount only applies to percentage coupons", ErrInvalidOffer)
	}
	return checkCommon(c.DiscountType, c.DiscountValue, c.MinOrderValue, c.MaxDiscount, c.UsageLimit)
}

// Check validates a promotion definition before it is stored.
func (p Promotion) Check() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOffer)
	}
	switch p.DiscountType {
	case DiscountPercentage, DiscountFixed, DiscountFreeDelivery:
	default:
		return fmt.Errorf("%w: unsupported discount type %q", ErrInvalidOffer, p.DiscountType)
	}
	return checkCommon(p.DiscountType, p.DiscountValue, p.MinOrderValue, nil, p.UsageLimit)
}

func checkCommon(dt DiscountType, value Money, minOrder, maxDiscount *Money, usageLimit *int) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: discountValue %w", ErrInvalidOffer, ErrNegativeAmount)
	}
	if dt == DiscountPercentage && value.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidOffer)
	}
	if minOrder != nil && minOrder.IsNegative() {
		return fmt.Errorf("%w: minOrderValue %w", ErrInvalidOffer, ErrNegativeAmount)
	}
	if maxDiscount != nil && maxDiscount.IsNegative() {
		return fmt.Errorf("%w: maxDiscount %w", ErrInvalidOffer, ErrNegativeAmount)
	}
	if usageLimit != nil && *usageLimit < 0 {
		return fmt.Errorf("%w: usageLimit must not be negative", ErrInvalidOffer)
	}
	return nil
}
