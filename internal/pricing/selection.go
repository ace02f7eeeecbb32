package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Benefit is what the customer saves from a promotion effect. Free delivery is
// worth the quoted fee.
func (e PromotionEffect) Benefit(deliveryFee Money) Money {
	if e.FreeDelivery {
		return deliveryFee
	}
	return e.Discount
}

// BestPromotion gates every candidate and returns the one saving the customer
// the most. Ties go to the lowest ID. Candidates with no benefit are skipped.
func BestPromotion(candidates []Promotion, subtotal Money, dc DeliveryContext, deliveryFee Money, now time.Time) (*Promotion, PromotionEffect) {
	var (
		best       *Promotion
		bestEffect = PromotionEffect{Discount: decimal.Zero}
		bestValue  = decimal.Zero
	)
	for i := range candidates {
		p := &candidates[i]
		if CheckPromotion(p, subtotal, dc, now) != nil {
			continue
		}
		effect := ComputePromotionEffect(p, subtotal)
		value := effect.Benefit(deliveryFee)
		if !value.IsPositive() {
			continue
		}
		if best == nil || value.GreaterThan(bestValue) || (value.Equal(bestValue) && p.ID < best.ID) {
			chosen := *p
			best, bestEffect, bestValue = &chosen, effect, value
		}
	}
	return best, bestEffect
}
