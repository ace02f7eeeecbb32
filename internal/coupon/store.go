package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

var (
	// ErrDuplicateCode is returned when a coupon code is already taken.
	ErrDuplicateCode = errors.New("coupon: code already exists")
	// ErrUsageExhausted is returned when a redemption would exceed the usage limit.
	ErrUsageExhausted = errors.New("coupon: usage limit reached")
)

// ListFilter narrows admin coupon listings.
type ListFilter struct {
	EstablishmentID *string
	ActiveOnly      bool
	Limit           int
	Offset          int
}

// Store persists coupons and their redemptions.
type Store interface {
	GetByCode(ctx context.Context, code string) (pricing.Coupon, error)
	GetByID(ctx context.Context, id int64) (pricing.Coupon, error)
	Create(ctx context.Context, c pricing.Coupon) (pricing.Coupon, error)
	Update(ctx context.Context, c pricing.Coupon) (pricing.Coupon, error)
	List(ctx context.Context, f ListFilter) ([]pricing.Coupon, error)
	// Redeem records orderID against the coupon and bumps its usage count. It
	// reports false when the order was already recorded.
	Redeem(ctx context.Context, couponID int64, orderID uuid.UUID) (bool, error)
}

const couponColumns = `id, code, discount_type, discount_value, min_order_value, max_discount,
city_id, neighborhood_id, establishment_id, valid_until, usage_limit, usage_count, active`

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) GetByCode(ctx context.Context, code string) (pricing.Coupon, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code)
	c, err := scanCoupon(row)
	return c, db.NotFound(err)
}

func (s *pgStore) GetByID(ctx context.Context, id int64) (pricing.Coupon, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id)
	c, err := scanCoupon(row)
	return c, db.NotFound(err)
}

func (s *pgStore) Create(ctx context.Context, c pricing.Coupon) (pricing.Coupon, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO coupons (code, discount_type, discount_value, min_order_value, max_discount,
city_id, neighborhood_id, establishment_id, valid_until, usage_limit, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+couponColumns,
		c.Code, string(c.DiscountType), c.DiscountValue, db.NullDecimal(c.MinOrderValue), db.NullDecimal(c.MaxDiscount),
		c.Scope.CityID, c.Scope.NeighborhoodID, c.Scope.EstablishmentID, c.ValidUntil, c.UsageLimit, c.Active)
	created, err := scanCoupon(row)
	if db.IsUniqueViolation(err) {
		return pricing.Coupon{}, ErrDuplicateCode
	}
	return created, err
}

func (s *pgStore) Update(ctx context.Context, c pricing.Coupon) (pricing.Coupon, error) {
	row := s.pool.QueryRow(ctx, `UPDATE coupons SET code = $2, discount_type = $3, discount_value = $4,
min_order_value = $5, max_discount = $6, city_id = $7, neighborhood_id = $8, establishment_id = $9,
valid_until = $10, usage_limit = $11, active = $12, updated_at = NOW()
WHERE id = $1
RETURNING `+couponColumns,
		c.ID, c.Code, string(c.DiscountType), c.DiscountValue, db.NullDecimal(c.MinOrderValue), db.NullDecimal(c.MaxDiscount),
		c.Scope.CityID, c.Scope.NeighborhoodID, c.Scope.EstablishmentID, c.ValidUntil, c.UsageLimit, c.Active)
	updated, err := scanCoupon(row)
	if db.IsUniqueViolation(err) {
		return pricing.Coupon{}, ErrDuplicateCode
	}
	return updated, db.NotFound(err)
}

func (s *pgStore) List(ctx context.Context, f ListFilter) ([]pricing.Coupon, error) {
	var (
		where []string
		args  []any
	)
	if f.EstablishmentID != nil {
		args = append(args, *f.EstablishmentID)
		where = append(where, fmt.Sprintf("establishment_id = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "active")
	}
	query := `SELECT ` + couponColumns + ` FROM coupons`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]pricing.Coupon, 0, f.Limit)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) Redeem(ctx context.Context, couponID int64, orderID uuid.UUID) (bool, error) {
	var applied bool
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO coupon_redemptions (coupon_id, order_id) VALUES ($1, $2)
ON CONFLICT (coupon_id, order_id) DO NOTHING`, couponID, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, `UPDATE coupons SET usage_count = usage_count + 1, updated_at = NOW()
WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, couponID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUsageExhausted
		}
		applied = true
		return nil
	})
	return applied, err
}

func scanCoupon(row pgx.Row) (pricing.Coupon, error) {
	var (
		c          pricing.Coupon
		kind       string
		minOrder   decimal.NullDecimal
		maxDisc    decimal.NullDecimal
		validUntil *time.Time
	)
	err := row.Scan(&c.ID, &c.Code, &kind, &c.DiscountValue, &minOrder, &maxDisc,
		&c.Scope.CityID, &c.Scope.NeighborhoodID, &c.Scope.EstablishmentID,
		&validUntil, &c.UsageLimit, &c.UsageCount, &c.Active)
	if err != nil {
		return pricing.Coupon{}, err
	}
	c.DiscountType = pricing.DiscountType(kind)
	c.MinOrderValue = db.DecimalPtr(minOrder)
	c.MaxDiscount = db.DecimalPtr(maxDisc)
	c.ValidUntil = validUntil
	return c, nil
}
