package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// ErrStaleStatus is returned when the order changed status since it was read.
var ErrStaleStatus = errors.New("order: status changed concurrently")

// Store persists orders, their items and status history.
type Store interface {
	Create(ctx context.Context, o Order) (Order, error)
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
	// UpdateStatus moves the order from -> to only if it is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actor common.Principal) (Order, error)
	History(ctx context.Context, id uuid.UUID) ([]StatusChange, error)
}

const orderColumns = `id, customer_id, establishment_id, city_id, neighborhood_id, status, currency,
subtotal, coupon_code, coupon_discount, promotion_id, promotion_discount, delivery_fee, free_delivery,
distance_km, total, delivery_address, notes, driver_id, created_at, updated_at`

func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

func (s *pgStore) Create(ctx context.Context, o Order) (Order, error) {
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO orders (id, customer_id, establishment_id, city_id, neighborhood_id,
status, currency, subtotal, coupon_code, coupon_discount, promotion_id, promotion_discount, delivery_fee,
free_delivery, distance_km, total, delivery_address, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
RETURNING created_at, updated_at`,
			o.ID, o.CustomerID, o.EstablishmentID, o.CityID, o.NeighborhoodID, string(o.Status), o.Currency,
			o.Pricing.Subtotal, o.CouponCode, o.Pricing.CouponDiscount, o.PromotionID, o.Pricing.PromotionDiscount,
			o.Pricing.DeliveryFee, o.Pricing.FreeDelivery, o.DistanceKm, o.Pricing.FinalTotal, o.DeliveryAddress, o.Notes)
		if err := row.Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		batch := &pgx.Batch{}
		for _, it := range o.Items {
			batch.Queue(`INSERT INTO order_items (order_id, product_id, name, unit_price, quantity) VALUES ($1, $2, $3, $4, $5)`,
				o.ID, it.ProductID, it.Name, it.UnitPrice, it.Quantity)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
	return o, err
}

func (s *pgStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, db.NotFound(err)
	}
	items, err := s.items(ctx, s.pool, id)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

func (s *pgStore) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.EstablishmentID != "" {
		add("establishment_id = $%d", f.EstablishmentID)
	}
	if f.DriverID != "" {
		if f.Unassigned {
			add("(driver_id = $%d OR (driver_id IS NULL AND status = 'ready'))", f.DriverID)
		} else {
			add("driver_id = $%d", f.DriverID)
		}
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *pgStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, actor common.Principal) (Order, error) {
	var out Order
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var driver *string
		if to == StatusPickedUp && actor.Role == auth.RoleDriver {
			driver = &actor.UserID
		}
		o, err := scanOrder(tx.QueryRow(ctx, `UPDATE orders SET status = $3, driver_id = COALESCE($4, driver_id), updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING `+orderColumns, id, string(from), string(to), driver))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleStatus
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, actor_role)
VALUES ($1, $2, $3, $4, $5)`, id, string(from), string(to), actor.UserID, actor.Role); err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
		if o.Items, err = s.items(ctx, tx, id); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (s *pgStore) History(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	rows, err := s.pool.Query(ctx, `SELECT from_status, to_status, actor_id, actor_role, created_at
FROM order_status_history WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var (
			c        StatusChange
			from, to string
		)
		if err := rows.Scan(&from, &to, &c.ActorID, &c.ActorRole, &c.At); err != nil {
			return nil, err
		}
		c.From, c.To = Status(from), Status(to)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *pgStore) items(ctx context.Context, q db.Querier, id uuid.UUID) ([]pricing.LineItem, error) {
	rows, err := q.Query(ctx, `SELECT o.establishment_id, i.product_id, i.name, i.unit_price, i.quantity
FROM order_items i JOIN orders o ON o.id = i.order_id
WHERE i.order_id = $1 ORDER BY i.product_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []pricing.LineItem{}
	for rows.Next() {
		var it pricing.LineItem
		if err := rows.Scan(&it.EstablishmentID, &it.ProductID, &it.Name, &it.UnitPrice, &it.Quantity); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &o.EstablishmentID, &o.CityID, &o.NeighborhoodID, &status, &o.Currency,
		&o.Pricing.Subtotal, &o.CouponCode, &o.Pricing.CouponDiscount, &o.PromotionID, &o.Pricing.PromotionDiscount,
		&o.Pricing.DeliveryFee, &o.Pricing.FreeDelivery, &o.DistanceKm, &o.Pricing.FinalTotal,
		&o.DeliveryAddress, &o.Notes, &o.DriverID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}
