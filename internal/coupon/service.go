package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/lock"
	"github.com/noah-isme/backend-antar/internal/obs"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// Locker serialises redemptions for a single coupon.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Validation is the outcome of a successful coupon check.
type Validation struct {
	Coupon   pricing.Coupon `json:"coupon"`
	Discount pricing.Money  `json:"discount"`
}

// Service implements coupon lookup, validation, administration and redemption.
type Service struct {
	Store   Store
	Cache   *Cache
	Locker  Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Lookup resolves a coupon by code. Unknown codes yield a NOT_FOUND rejection.
func (s *Service) Lookup(ctx context.Context, code string) (pricing.Coupon, error) {
	code = pricing.NormalizeCode(code)
	if code == "" {
		return pricing.Coupon{}, pricing.Reject(pricing.ReasonNotFound, "coupon")
	}
	if cached, ok, err := s.Cache.Get(ctx, code); err != nil {
		s.Logger.Warn().Err(err).Str("code", code).Msg("coupon cache read failed")
	} else if ok {
		return cached, nil
	}
	c, err := s.Store.GetByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return pricing.Coupon{}, pricing.Reject(pricing.ReasonNotFound, "coupon")
	}
	if err != nil {
		return pricing.Coupon{}, fmt.Errorf("load coupon: %w", err)
	}
	if err := s.Cache.Set(ctx, c); err != nil {
		s.Logger.Warn().Err(err).Str("code", code).Msg("coupon cache write failed")
	}
	return c, nil
}

// Validate checks code against the subtotal and delivery context and returns
// the discount it would grant.
func (s *Service) Validate(ctx context.Context, code string, subtotal pricing.Money, dc pricing.DeliveryContext) (Validation, error) {
	c, err := s.Lookup(ctx, code)
	if err != nil {
		if rej, ok := pricing.AsRejection(err); ok {
			obs.ObserveRejection("coupon", string(rej.Reason))
		}
		return Validation{}, err
	}
	if rej := pricing.CheckCoupon(&c, subtotal, dc, s.now()); rej != nil {
		obs.ObserveRejection("coupon", string(rej.Reason))
		return Validation{}, rej
	}
	return Validation{Coupon: c, Discount: pricing.ComputeCouponDiscount(&c, subtotal)}, nil
}

// Create stores a new coupon scoped to what the principal may manage.
func (s *Service) Create(ctx context.Context, p common.Principal, c pricing.Coupon) (pricing.Coupon, error) {
	estID, err := auth.ManagedEstablishment(p, c.Scope.EstablishmentID)
	if err != nil {
		return pricing.Coupon{}, err
	}
	c.Scope.EstablishmentID = estID
	c.Code = pricing.NormalizeCode(c.Code)
	c.UsageCount = 0
	if err := c.Check(); err != nil {
		return pricing.Coupon{}, common.BadRequest("INVALID_COUPON", err.Error(), err)
	}
	created, err := s.Store.Create(ctx, c)
	if errors.Is(err, ErrDuplicateCode) {
		return pricing.Coupon{}, common.Conflict("COUPON_CODE_TAKEN", "coupon code already exists")
	}
	if err != nil {
		return pricing.Coupon{}, fmt.Errorf("create coupon: %w", err)
	}
	s.Logger.Info().Int64("coupon_id", created.ID).Str("code", created.Code).Str("user_id", p.UserID).Msg("coupon created")
	return created, nil
}

// Update replaces a coupon definition. The usage count is preserved.
func (s *Service) Update(ctx context.Context, p common.Principal, id int64, c pricing.Coupon) (pricing.Coupon, error) {
	existing, err := s.managed(ctx, p, id)
	if err != nil {
		return pricing.Coupon{}, err
	}
	estID, err := auth.ManagedEstablishment(p, c.Scope.EstablishmentID)
	if err != nil {
		return pricing.Coupon{}, err
	}
	c.ID = id
	c.Scope.EstablishmentID = estID
	c.Code = pricing.NormalizeCode(c.Code)
	c.UsageCount = existing.UsageCount
	if err := c.Check(); err != nil {
		return pricing.Coupon{}, common.BadRequest("INVALID_COUPON", err.Error(), err)
	}
	updated, err := s.Store.Update(ctx, c)
	switch {
	case errors.Is(err, ErrDuplicateCode):
		return pricing.Coupon{}, common.Conflict("COUPON_CODE_TAKEN", "coupon code already exists")
	case errors.Is(err, db.ErrNotFound):
		return pricing.Coupon{}, common.NotFound("COUPON_NOT_FOUND", "coupon not found")
	case err != nil:
		return pricing.Coupon{}, fmt.Errorf("update coupon: %w", err)
	}
	s.invalidate(ctx, existing.Code, updated.Code)
	return updated, nil
}

// Deactivate switches a coupon off without deleting its redemption history.
func (s *Service) Deactivate(ctx context.Context, p common.Principal, id int64) (pricing.Coupon, error) {
	existing, err := s.managed(ctx, p, id)
	if err != nil {
		return pricing.Coupon{}, err
	}
	if !existing.Active {
		return existing, nil
	}
	existing.Active = false
	updated, err := s.Store.Update(ctx, existing)
	if err != nil {
		return pricing.Coupon{}, fmt.Errorf("deactivate coupon: %w", err)
	}
	s.invalidate(ctx, updated.Code)
	return updated, nil
}

// List returns coupons visible to the principal. Establishment staff only see their own.
func (s *Service) List(ctx context.Context, p common.Principal, page common.Pagination, activeOnly bool) ([]pricing.Coupon, error) {
	f := ListFilter{ActiveOnly: activeOnly, Limit: page.PerPage, Offset: page.Offset()}
	switch p.Role {
	case auth.RoleAdmin:
	case auth.RoleEstablishment:
		estID := p.EstablishmentID
		f.EstablishmentID = &estID
	default:
		return nil, common.Forbidden("role not permitted for this operation")
	}
	return s.Store.List(ctx, f)
}

// Redeem records one use of the coupon for orderID. Repeated calls for the
// same order are no-ops. ErrUsageExhausted is returned once the limit is hit.
func (s *Service) Redeem(ctx context.Context, code string, orderID uuid.UUID) error {
	code = pricing.NormalizeCode(code)
	return s.Locker.WithLock(ctx, lock.Key("coupon", code), s.LockTTL, func(ctx context.Context) error {
		c, err := s.Store.GetByCode(ctx, code)
		if errors.Is(err, db.ErrNotFound) {
			obs.ObserveRedemption("coupon", "not_found")
			return pricing.Reject(pricing.ReasonNotFound, "coupon")
		}
		if err != nil {
			return fmt.Errorf("load coupon: %w", err)
		}
		applied, err := s.Store.Redeem(ctx, c.ID, orderID)
		if errors.Is(err, ErrUsageExhausted) {
			obs.ObserveRedemption("coupon", "exhausted")
			return err
		}
		if err != nil {
			obs.ObserveRedemption("coupon", "error")
			return fmt.Errorf("redeem coupon: %w", err)
		}
		if !applied {
			obs.ObserveRedemption("coupon", "duplicate")
			return nil
		}
		obs.ObserveRedemption("coupon", "ok")
		s.invalidate(ctx, code)
		s.Logger.Info().Str("code", code).Str("order_id", orderID.String()).Msg("coupon redeemed")
		return nil
	})
}

func (s *Service) managed(ctx context.Context, p common.Principal, id int64) (pricing.Coupon, error) {
	existing, err := s.Store.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return pricing.Coupon{}, common.NotFound("COUPON_NOT_FOUND", "coupon not found")
	}
	if err != nil {
		return pricing.Coupon{}, fmt.Errorf("load coupon: %w", err)
	}
	if !auth.CanManage(p, existing.Scope.EstablishmentID) {
		return pricing.Coupon{}, common.Forbidden("cannot manage this coupon")
	}
	return existing, nil
}

func (s *Service) invalidate(ctx context.Context, codes ...string) {
	if err := s.Cache.Invalidate(ctx, codes...); err != nil {
		s.Logger.Warn().Err(err).Strs("codes", codes).Msg("coupon cache invalidation failed")
	}
}
