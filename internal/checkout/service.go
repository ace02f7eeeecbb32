package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/backend-antar/internal/cart"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/events"
	"github.com/noah-isme/backend-antar/internal/obs"
	"github.com/noah-isme/backend-antar/internal/order"
	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/promotion"
)

// ErrTotalMismatch is returned when the client confirmed a total that no longer matches the quote.
var ErrTotalMismatch = errors.New("checkout: quoted total changed")

type Carts interface {
	Get(ctx context.Context, userID, cartID string) (cart.State, error)
	Clear(ctx context.Context, userID, cartID string) error
}

type Coupons interface {
	Validate(ctx context.Context, code string, subtotal pricing.Money, dc pricing.DeliveryContext) (coupon.Validation, error)
}

type Promotions interface {
	Applicable(ctx context.Context, subtotal pricing.Money, dc pricing.DeliveryContext, deliveryFee pricing.Money) (promotion.Selection, error)
}

type Orders interface {
	Create(ctx context.Context, o order.Order) (order.Order, error)
}

// Redemptions schedules usage accounting for the offers applied to an order.
type Redemptions interface {
	EnqueueCouponRedeem(ctx context.Context, code string, orderID uuid.UUID) error
	EnqueuePromotionRedeem(ctx context.Context, promotionID int64, orderID uuid.UUID) error
}

type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Quote is the priced view of a cart.
type Quote struct {
	CartID          string             `json:"cartId"`
	Currency        string             `json:"currency"`
	Pricing         pricing.Result     `json:"pricing"`
	DistanceKm      pricing.Money      `json:"distanceKm"`
	Coupon          *pricing.Coupon    `json:"coupon,omitempty"`
	CouponRejection *pricing.Rejection `json:"couponRejection,omitempty"`
	Promotion       *pricing.Promotion `json:"promotion,omitempty"`
}

// Input is the customer's checkout submission.
type Input struct {
	CartID string `json:"cartId" validate:"required"`
	// ExpectedTotal is the final total the customer saw. When set it must match the fresh quote.
	ExpectedTotal *pricing.Money `json:"expectedTotal"`
	Notes         *string        `json:"notes" validate:"omitempty,max=500"`
}

// CreatedPayload is the body of order.created events.
type CreatedPayload struct {
	OrderID         string        `json:"orderId"`
	CustomerID      string        `json:"customerId"`
	EstablishmentID string        `json:"establishmentId"`
	CityID          string        `json:"cityId"`
	FinalTotal      pricing.Money `json:"finalTotal"`
	Currency        string        `json:"currency"`
}

type Service struct {
	Carts       Carts
	Coupons     Coupons
	Promotions  Promotions
	Delivery    delivery.Provider
	Orders      Orders
	Redemptions Redemptions
	Events      Emitter
	Logger      zerolog.Logger

	Currency       string
	CurrencyPlaces int32
}

// Quote prices the cart. An ineligible coupon is reported on the quote and left out of the
// total instead of failing the request.
func (s *Service) Quote(ctx context.Context, userID, cartID string) (Quote, error) {
	st, err := s.Carts.Get(ctx, userID, cartID)
	if err != nil {
		return Quote{}, err
	}
	q, err := s.quote(ctx, st)
	if err != nil {
		obs.ObservePricingQuote("error")
		return Quote{}, err
	}
	obs.ObservePricingQuote("ok")
	return q, nil
}

func (s *Service) quote(ctx context.Context, st cart.State) (Quote, error) {
	if len(st.Items) == 0 {
		return Quote{}, cart.ErrEmpty
	}
	route, ok := st.Route()
	if !ok || !st.HasDeliveryArea() {
		return Quote{}, common.Unprocessable("DELIVERY_AREA_REQUIRED", "set a delivery area before requesting a quote")
	}
	pc := st.Pricing()
	if err := pc.Validate(); err != nil {
		return Quote{}, common.BadRequest("INVALID_CART", err.Error(), err)
	}
	subtotal := pc.Subtotal()
	dc := pc.DeliveryContext()

	var (
		validation *coupon.Validation
		rejection  *pricing.Rejection
		dq         pricing.DeliveryQuote
	)
	g, gctx := errgroup.WithContext(ctx)
	if st.CouponCode != "" {
		g.Go(func() error {
			v, err := s.Coupons.Validate(gctx, st.CouponCode, subtotal, dc)
			if rej, ok := pricing.AsRejection(err); ok {
				rejection = rej
				return nil
			}
			if err != nil {
				return err
			}
			validation = &v
			return nil
		})
	}
	g.Go(func() error {
		var err error
		dq, err = s.Delivery.Quote(gctx, route)
		if errors.Is(err, delivery.ErrUnavailable) {
			return common.Unavailable("DELIVERY_UNAVAILABLE", "delivery quote is temporarily unavailable", err)
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return Quote{}, err
	}

	// Free delivery is weighed against the quoted fee, so selection waits for it.
	sel, err := s.Promotions.Applicable(ctx, subtotal, dc, dq.Fee)
	if err != nil {
		return Quote{}, err
	}
	promo := sel.Promotion
	in := pricing.Input{Subtotal: subtotal, Promotion: promo, Delivery: dq}
	if validation != nil {
		in.Coupon = &validation.Coupon
	}
	result, err := pricing.Calculate(in)
	if err != nil {
		return Quote{}, fmt.Errorf("calculate: %w", err)
	}
	return Quote{
		CartID:          st.ID,
		Currency:        s.Currency,
		Pricing:         result.Round(s.CurrencyPlaces),
		DistanceKm:      dq.DistanceKm,
		Coupon:          in.Coupon,
		CouponRejection: rejection,
		Promotion:       promo,
	}, nil
}

// Checkout re-quotes the cart, persists the order as pending, schedules redemptions and
// clears the cart. A coupon on the cart that no longer qualifies fails the checkout with
// its rejection; the cart is left untouched.
func (s *Service) Checkout(ctx context.Context, p common.Principal, in Input) (order.Order, error) {
	st, err := s.Carts.Get(ctx, p.UserID, in.CartID)
	if err != nil {
		return order.Order{}, err
	}
	q, err := s.quote(ctx, st)
	if err != nil {
		obs.ObservePricingQuote("error")
		return order.Order{}, err
	}
	obs.ObservePricingQuote("ok")
	if q.CouponRejection != nil {
		return order.Order{}, q.CouponRejection
	}
	if in.ExpectedTotal != nil && !in.ExpectedTotal.Round(s.CurrencyPlaces).Equal(q.Pricing.FinalTotal) {
		return order.Order{}, fmt.Errorf("%w: expected %s, now %s", ErrTotalMismatch,
			in.ExpectedTotal.StringFixed(s.CurrencyPlaces), q.Pricing.FinalTotal.StringFixed(s.CurrencyPlaces))
	}

	o := order.Order{
		ID:              uuid.New(),
		CustomerID:      p.UserID,
		EstablishmentID: st.EstablishmentID,
		CityID:          st.CityID,
		NeighborhoodID:  st.NeighborhoodID,
		Status:          order.StatusPending,
		Currency:        s.Currency,
		Pricing:         q.Pricing,
		DistanceKm:      q.DistanceKm,
		DeliveryAddress: st.Address,
		Notes:           in.Notes,
		Items:           st.Items,
	}
	if q.Coupon != nil {
		code := q.Coupon.Code
		o.CouponCode = &code
	}
	if q.Promotion != nil {
		id := q.Promotion.ID
		o.PromotionID = &id
	}
	created, err := s.Orders.Create(ctx, o)
	if err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	log := s.Logger.With().Str("order_id", created.ID.String()).Logger()

	if s.Redemptions != nil {
		if created.CouponCode != nil {
			if err := s.Redemptions.EnqueueCouponRedeem(ctx, *created.CouponCode, created.ID); err != nil {
				log.Error().Err(err).Str("coupon", *created.CouponCode).Msg("enqueue coupon redemption")
			}
		}
		if created.PromotionID != nil {
			if err := s.Redemptions.EnqueuePromotionRedeem(ctx, *created.PromotionID, created.ID); err != nil {
				log.Error().Err(err).Int64("promotion_id", *created.PromotionID).Msg("enqueue promotion redemption")
			}
		}
	}
	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicOrderCreated, created.ID.String(), CreatedPayload{
			OrderID:         created.ID.String(),
			CustomerID:      created.CustomerID,
			EstablishmentID: created.EstablishmentID,
			CityID:          created.CityID,
			FinalTotal:      created.Pricing.FinalTotal,
			Currency:        created.Currency,
		}); err != nil {
			log.Warn().Err(err).Msg("emit order created")
		}
	}
	if err := s.Carts.Clear(ctx, p.UserID, in.CartID); err != nil {
		log.Warn().Err(err).Str("cart_id", in.CartID).Msg("clear cart after checkout")
	}
	log.Info().Str("total", created.Pricing.FinalTotal.String()).Msg("order placed")
	return created, nil
}
