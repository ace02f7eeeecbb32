package promotion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
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

type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Selection is the promotion chosen for an order, if any.
type Selection struct {
	Promotion *pricing.Promotion      `json:"promotion,omitempty"`
	Effect    pricing.PromotionEffect `json:"effect"`
}

type Service struct {
	Store   Store
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

// Applicable picks the best promotion for the order. Free delivery is valued
// at deliveryFee when comparing against discounts.
func (s *Service) Applicable(ctx context.Context, subtotal pricing.Money, dc pricing.DeliveryContext, deliveryFee pricing.Money) (Selection, error) {
	candidates, err := s.Store.Candidates(ctx, dc)
	if err != nil {
		return Selection{}, fmt.Errorf("list promotions: %w", err)
	}
	best, effect := pricing.BestPromotion(candidates, subtotal, dc, deliveryFee, s.now())
	return Selection{Promotion: best, Effect: effect}, nil
}

func (s *Service) Create(ctx context.Context, p common.Principal, promo pricing.Promotion) (pricing.Promotion, error) {
	estID, err := auth.ManagedEstablishment(p, promo.Scope.EstablishmentID)
	if err != nil {
		return pricing.Promotion{}, err
	}
	promo.Scope.EstablishmentID = estID
	promo.UsageCount = 0
	if err := promo.Check(); err != nil {
		return pricing.Promotion{}, common.BadRequest("INVALID_PROMOTION", err.Error(), err)
	}
	created, err := s.Store.Create(ctx, promo)
	if err != nil {
		return pricing.Promotion{}, fmt.Errorf("create promotion: %w", err)
	}
	s.Logger.Info().Int64("promotion_id", created.ID).Str("user_id", p.UserID).Msg("promotion created")
	return created, nil
}

func (s *Service) Update(ctx context.Context, p common.Principal, id int64, promo pricing.Promotion) (pricing.Promotion, error) {
	existing, err := s.managed(ctx, p, id)
	if err != nil {
		return pricing.Promotion{}, err
	}
	estID, err := auth.ManagedEstablishment(p, promo.Scope.EstablishmentID)
	if err != nil {
		return pricing.Promotion{}, err
	}
	promo.ID = id
	promo.Scope.EstablishmentID = estID
	promo.UsageCount = existing.UsageCount
	if err := promo.Check(); err != nil {
		return pricing.Promotion{}, common.BadRequest("INVALID_PROMOTION", err.Error(), err)
	}
	updated, err := s.Store.Update(ctx, promo)
	if errors.Is(err, db.ErrNotFound) {
		return pricing.Promotion{}, common.NotFound("PROMOTION_NOT_FOUND", "promotion not found")
	}
	if err != nil {
		return pricing.Promotion{}, fmt.Errorf("update promotion: %w", err)
	}
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, p common.Principal, id int64) (pricing.Promotion, error) {
	existing, err := s.managed(ctx, p, id)
	if err != nil {
		return pricing.Promotion{}, err
	}
	if !existing.Active {
		return existing, nil
	}
	existing.Active = false
	updated, err := s.Store.Update(ctx, existing)
	if err != nil {
		return pricing.Promotion{}, fmt.Errorf("deactivate promotion: %w", err)
	}
	return updated, nil
}

func (s *Service) List(ctx context.Context, p common.Principal, page common.Pagination, activeOnly bool) ([]pricing.Promotion, error) {
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

// Redeem counts one use of the promotion for orderID. It is idempotent per order.
func (s *Service) Redeem(ctx context.Context, promotionID int64, orderID uuid.UUID) error {
	key := lock.Key("promotion", strconv.FormatInt(promotionID, 10))
	return s.Locker.WithLock(ctx, key, s.LockTTL, func(ctx context.Context) error {
		applied, err := s.Store.Redeem(ctx, promotionID, orderID)
		switch {
		case errors.Is(err, ErrUsageExhausted):
			obs.ObserveRedemption("promotion", "exhausted")
			return err
		case err != nil:
			obs.ObserveRedemption("promotion", "error")
			return fmt.Errorf("redeem promotion: %w", err)
		case !applied:
			obs.ObserveRedemption("promotion", "duplicate")
			return nil
		}
		obs.ObserveRedemption("promotion", "ok")
		return nil
	})
}

func (s *Service) managed(ctx context.Context, p common.Principal, id int64) (pricing.Promotion, error) {
	existing, err := s.Store.GetByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return pricing.Promotion{}, common.NotFound("PROMOTION_NOT_FOUND", "promotion not found")
	}
	if err != nil {
		return pricing.Promotion{}, fmt.Errorf("load promotion: %w", err)
	}
	if !auth.CanManage(p, existing.Scope.EstablishmentID) {
		return pricing.Promotion{}, common.Forbidden("cannot manage this promotion")
	}
	return existing, nil
}
