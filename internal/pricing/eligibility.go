package pricing

import (
	"errors"
	"fmt"
	"time"
)

// Reason identifies why a coupon or promotion was rejected.
type Reason string

const (
	ReasonInactive              Reason = "INACTIVE"
	ReasonExpired               Reason = "EXPIRED"
	ReasonUsageLimitReached     Reason = "USAGE_LIMIT_REACHED"
	ReasonBelowMinimumOrder     Reason = "BELOW_MINIMUM_ORDER"
	ReasonRegionMismatch        Reason = "REGION_MISMATCH"
	ReasonEstablishmentMismatch Reason = "ESTABLISHMENT_MISMATCH"
	ReasonNotFound              Reason = "NOT_FOUND"
)

// Rejection explains to the customer why an offer cannot be applied.
type Rejection struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

// Error implements the error interface so rejections can travel through service layers.
func (r *Rejection) Error() string {
	if r == nil {
		return ""
	}
	return r.Message
}

// ErrorCode exposes the reason as the API error code.
func (r *Rejection) ErrorCode() string {
	return string(r.Reason)
}

// Reject builds a rejection with the default customer-facing message for subject ("coupon", "promotion").
func Reject(reason Reason, subject string) *Rejection {
	return &Rejection{Reason: reason, Message: message(reason, subject)}
}

// AsRejection extracts a rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) && rej != nil {
		return rej, true
	}
	return nil, false
}

func message(reason Reason, subject string) string {
	switch reason {
	case ReasonInactive:
		return fmt.Sprintf("This %s is not active.", subject)
	case ReasonExpired:
		return fmt.Sprintf("This %s has expired.", subject)
	case ReasonUsageLimitReached:
		return fmt.Sprintf("This %s has reached its usage limit.", subject)
	case ReasonBelowMinimumOrder:
		return fmt.Sprintf("Your order is below the minimum value for this %s.", subject)
	case ReasonRegionMismatch:
		return fmt.Sprintf("This %s is not available in your area.", subject)
	case ReasonEstablishmentMismatch:
		return fmt.Sprintf("This %s is not valid for this establishment.", subject)
	case ReasonNotFound:
		return fmt.Sprintf("The %s was not found.", subject)
	default:
		return fmt.Sprintf("This %s cannot be applied.", subject)
	}
}

type gate struct {
	subject    string
	active     bool
	validUntil *time.Time
	usageLimit *int
	usageCount int
	minOrder   *Money
	scope      RegionScope
}

// check runs the eligibility rules in order and stops at the first failure.
func (g gate) check(now time.Time, subtotal Money, dc DeliveryContext) *Rejection {
	if !g.active {
		return Reject(ReasonInactive, g.subject)
	}
	if g.validUntil != nil && g.validUntil.Before(now) {
		return Reject(ReasonExpired, g.subject)
	}
	if g.usageLimit != nil && g.usageCount >= *g.usageLimit {
		return Reject(ReasonUsageLimitReached, g.subject)
	}
	if g.minOrder != nil && subtotal.LessThan(*g.minOrder) {
		rej := Reject(ReasonBelowMinimumOrder, g.subject)
		rej.Message = fmt.Sprintf("Your order must be at least %s to use this %s.", g.minOrder.String(), g.subject)
		return rej
	}
	if !scopeMatches(g.scope.CityID, dc.CityID) || !scopeMatches(g.scope.NeighborhoodID, dc.NeighborhoodID) {
		return Reject(ReasonRegionMismatch, g.subject)
	}
	if !scopeMatches(g.scope.EstablishmentID, dc.EstablishmentID) {
		return Reject(ReasonEstablishmentMismatch, g.subject)
	}
	return nil
}

func scopeMatches(scoped *string, actual string) bool {
	return scoped == nil || *scoped == actual
}

// CheckCoupon gates a coupon for the given subtotal and delivery context. A nil coupon is NotFound.
func CheckCoupon(c *Coupon, subtotal Money, dc DeliveryContext, now time.Time) *Rejection {
	if c == nil {
		return Reject(ReasonNotFound, "coupon")
	}
	return gate{
		subject:    "coupon",
		active:     c.Active,
		validUntil: c.ValidUntil,
		usageLimit: c.UsageLimit,
		usageCount: c.UsageCount,
		minOrder:   c.MinOrderValue,
		scope:      c.Scope,
	}.check(now, subtotal, dc)
}

// CheckPromotion gates a promotion for the given subtotal and delivery context.
func CheckPromotion(p *Promotion, subtotal Money, dc DeliveryContext, now time.Time) *Rejection {
	if p == nil {
		return Reject(ReasonNotFound, "promotion")
	}
	return gate{
		subject:    "promotion",
		active:     p.Active,
		validUntil: p.ValidUntil,
		usageLimit: p.UsageLimit,
		usageCount: p.UsageCount,
		minOrder:   p.MinOrderValue,
		scope:      p.Scope,
	}.check(now, subtotal, dc)
}
