package promotion

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

// ErrUsageExhausted is returned when a redemption would exceed the usage limit.
var ErrUsageExhausted = errors.New("promotion: usage limit reached")

// ListFilter narrows admin promotion listings.
type ListFilter struct {
	EstablishmentID *string
	ActiveOnly      bool
	Limit           int
	Offset          int
}

// Store persists promotions and their redemptions.
type Store interface {
	// Candidates returns active promotions whose scope could match dc.
	Candidates(ctx context.Context, dc pricing.DeliveryContext) ([]pricing.Promotion, error)
	GetByID(ctx context.Context, id int64) (pricing.Promotion, error)
	Create(ctx context.Context, p pricing.Promotion) (pricing.Promotion, error)
	Update(ctx context.Context, p pricing.Promotion) (pricing.Promotion, error)
	List(ctx context.Context, f ListFilter) ([]pricing.Promotion, error)
	Redeem(ctx context.Context, promotionID int64, orderID uuid.UUID) (bool, error)
}

const promotionColumns = `id, name, discount_type, discount_value, min_order_value,
city_id, neighborhood_id, establishment_id, valid_until, usage_limit, usage_count, active`

func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Candidates(ctx context.Context, dc pricing.DeliveryContext) ([]pricing.Promotion, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+promotionColumns+` FROM promotions
WHERE active
  AND (city_id IS NULL OR city_id = $1)
  AND (neighborhood_id IS NULL OR neighborhood_id = $2)
  AND (establishment_id IS NULL OR establishment_id = $3)
ORDER BY id`, dc.CityID, dc.NeighborhoodID, dc.EstablishmentID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *pgStore) GetByID(ctx context.Context, id int64) (pricing.Promotion, error) {
	p, err := scanPromotion(s.pool.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id))
	return p, db.NotFound(err)
}

func (s *pgStore) Create(ctx context.Context, p pricing.Promotion) (pricing.Promotion, error) {
	return scanPromotion(s.pool.QueryRow(ctx, `INSERT INTO promotions (name, discount_type, discount_value, min_order_value,
city_id, neighborhood_id, establishment_id, valid_until, usage_limit, active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+promotionColumns,
		p.Name, string(p.DiscountType), p.DiscountValue, db.NullDecimal(p.MinOrderValue),
		p.Scope.CityID, p.Scope.NeighborhoodID, p.Scope.EstablishmentID, p.ValidUntil, p.UsageLimit, p.Active))
}

func (s *pgStore) Update(ctx context.Context, p pricing.Promotion) (pricing.Promotion, error) {
	updated, err := scanPromotion(s.pool.QueryRow(ctx, `UPDATE promotions SET name = $2, discount_type = $3,
discount_value = $4, min_order_value = $5, city_id = $6, neighborhood_id = $7, establishment_id = $8,
valid_until = $9, usage_limit = $10, active = $11, updated_at = NOW()
WHERE id = $1
RETURNING `+promotionColumns,
		p.ID, p.Name, string(p.DiscountType), p.DiscountValue, db.NullDecimal(p.MinOrderValue),
		p.Scope.CityID, p.Scope.NeighborhoodID, p.Scope.EstablishmentID, p.ValidUntil, p.UsageLimit, p.Active))
	return updated, db.NotFound(err)
}

func (s *pgStore) List(ctx context.Context, f ListFilter) ([]pricing.Promotion, error) {
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
	query := `SELECT ` + promotionColumns + ` FROM promotions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *pgStore) Redeem(ctx context.Context, promotionID int64, orderID uuid.UUID) (bool, error) {
	var applied bool
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO promotion_redemptions (promotion_id, order_id) VALUES ($1, $2)
ON CONFLICT (promotion_id, order_id) DO NOTHING`, promotionID, orderID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, `UPDATE promotions SET usage_count = usage_count + 1, updated_at = NOW()
WHERE id = $1 AND (usage_limit IS NULL OR usage_count < usage_limit)`, promotionID)
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

func collect(rows pgx.Rows) ([]pricing.Promotion, error) {
	defer rows.Close()
	var out []pricing.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPromotion(row pgx.Row) (pricing.Promotion, error) {
	var (
		p          pricing.Promotion
		kind       string
		minOrder   decimal.NullDecimal
		validUntil *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &kind, &p.DiscountValue, &minOrder,
		&p.Scope.CityID, &p.Scope.NeighborhoodID, &p.Scope.EstablishmentID,
		&validUntil, &p.UsageLimit, &p.UsageCount, &p.Active); err != nil {
		return pricing.Promotion{}, err
	}
	p.DiscountType = pricing.DiscountType(kind)
	p.MinOrderValue = db.DecimalPtr(minOrder)
	p.ValidUntil = validUntil
	return p, nil
}
