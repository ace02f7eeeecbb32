package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

var (
	// ErrNotFound indicates the cart does not exist or belongs to someone else.
	ErrNotFound        = errors.New("cart not found")
	ErrItemNotFound    = errors.New("cart item not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrEmpty           = errors.New("cart is empty")
	// ErrConflict is returned when concurrent writers keep racing on the same cart.
	ErrConflict = errors.New("cart was modified concurrently")
)

const maxWriteAttempts = 5

// CouponValidator checks a coupon against the cart before it is attached.
type CouponValidator interface {
	Validate(ctx context.Context, code string, subtotal pricing.Money, dc pricing.DeliveryContext) (coupon.Validation, error)
}

// DeliveryArea is the drop-off region and route for a cart.
type DeliveryArea struct {
	CityID         string
	NeighborhoodID string
	Address        string
	Pickup         delivery.Point
	Dropoff        delivery.Point
}

// Service stores carts as JSON documents in Redis. Every write refreshes the TTL.
type Service struct {
	R       *redis.Client
	TTL     time.Duration
	Coupons CouponValidator
	Now     func() time.Time
}

func (s *Service) ttl() time.Duration {
	if s.TTL <= 0 {
		return 72 * time.Hour
	}
	return s.TTL
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func stateKey(id string) string    { return "cart:" + id }
func ownerKey(userID string) string { return "cart:user:" + userID }

// Open returns the user's active cart, creating an empty one when none exists.
func (s *Service) Open(ctx context.Context, userID string) (State, error) {
	id, err := s.R.Get(ctx, ownerKey(userID)).Result()
	if err == nil {
		st, err := s.Get(ctx, userID, id)
		if err == nil {
			return st, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return State{}, err
		}
	} else if !errors.Is(err, redis.Nil) {
		return State{}, fmt.Errorf("load cart owner: %w", err)
	}

	st := State{ID: uuid.NewString(), UserID: userID, Items: []pricing.LineItem{}, UpdatedAt: s.now()}
	payload, err := json.Marshal(st)
	if err != nil {
		return State{}, err
	}
	_, err = s.R.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey(st.ID), payload, s.ttl())
		pipe.Set(ctx, ownerKey(userID), st.ID, s.ttl())
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("create cart: %w", err)
	}
	return st, nil
}

// Get loads a cart owned by userID.
func (s *Service) Get(ctx context.Context, userID, cartID string) (State, error) {
	raw, err := s.R.Get(ctx, stateKey(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, ErrNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("load cart: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode cart: %w", err)
	}
	if st.UserID != userID {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (s *Service) AddItem(ctx context.Context, userID, cartID string, item pricing.LineItem) (State, error) {
	return s.update(ctx, userID, cartID, func(st *State) error { return st.addItem(item) })
}

func (s *Service) UpdateQty(ctx context.Context, userID, cartID, productID string, qty int) (State, error) {
	return s.update(ctx, userID, cartID, func(st *State) error { return st.setQuantity(productID, qty) })
}

// RemoveItem drops a product; an emptied cart forgets its establishment.
func (s *Service) RemoveItem(ctx context.Context, userID, cartID, productID string) (State, error) {
	return s.update(ctx, userID, cartID, func(st *State) error { return st.removeItem(productID) })
}

func (s *Service) SetDeliveryArea(ctx context.Context, userID, cartID string, area DeliveryArea) (State, error) {
	return s.update(ctx, userID, cartID, func(st *State) error {
		st.CityID = area.CityID
		st.NeighborhoodID = area.NeighborhoodID
		st.Address = area.Address
		pickup, dropoff := area.Pickup, area.Dropoff
		st.Pickup, st.Dropoff = &pickup, &dropoff
		return nil
	})
}

// ApplyCoupon validates code against the current cart before attaching it.
func (s *Service) ApplyCoupon(ctx context.Context, userID, cartID, code string) (State, coupon.Validation, error) {
	var validation coupon.Validation
	st, err := s.update(ctx, userID, cartID, func(st *State) error {
		if len(st.Items) == 0 {
			return ErrEmpty
		}
		v, err := s.Coupons.Validate(ctx, code, st.Pricing().Subtotal(), st.Pricing().DeliveryContext())
		if err != nil {
			return err
		}
		validation = v
		st.CouponCode = v.Coupon.Code
		return nil
	})
	return st, validation, err
}

func (s *Service) RemoveCoupon(ctx context.Context, userID, cartID string) (State, error) {
	return s.update(ctx, userID, cartID, func(st *State) error {
		st.CouponCode = ""
		return nil
	})
}

// Clear deletes the cart. Missing carts are not an error.
func (s *Service) Clear(ctx context.Context, userID, cartID string) error {
	if _, err := s.Get(ctx, userID, cartID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.R.Del(ctx, stateKey(cartID), ownerKey(userID)).Err()
}

func (s *Service) update(ctx context.Context, userID, cartID string, fn func(*State) error) (State, error) {
	key := stateKey(cartID)
	var out State
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return fmt.Errorf("decode cart: %w", err)
		}
		if st.UserID != userID {
			return ErrNotFound
		}
		if err := fn(&st); err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		payload, err := json.Marshal(st)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl())
			pipe.Expire(ctx, ownerKey(userID), s.ttl())
			return nil
		})
		if err == nil {
			out = st
		}
		return err
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		err := s.R.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return State{}, ErrConflict
}
