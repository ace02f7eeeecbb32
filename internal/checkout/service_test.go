package checkout

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/cart"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/events"
	"github.com/noah-isme/backend-antar/internal/order"
	"github.com/noah-isme/backend-antar/internal/pricing"
	"github.com/noah-isme/backend-antar/internal/promotion"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type fakeCarts struct {
	states  map[string]cart.State
	cleared []string
}

func (f *fakeCarts) Get(_ context.Context, userID, cartID string) (cart.State, error) {
	st, ok := f.states[cartID]
	if !ok || st.UserID != userID {
		return cart.State{}, cart.ErrNotFound
	}
	return st, nil
}

func (f *fakeCarts) Clear(_ context.Context, _, cartID string) error {
	f.cleared = append(f.cleared, cartID)
	delete(f.states, cartID)
	return nil
}

type fakeCoupons map[string]pricing.Coupon

func (f fakeCoupons) Validate(_ context.Context, code string, subtotal pricing.Money, dc pricing.DeliveryContext) (coupon.Validation, error) {
	c, ok := f[code]
	if !ok {
		return coupon.Validation{}, pricing.Reject(pricing.ReasonNotFound, "coupon")
	}
	if rej := pricing.CheckCoupon(&c, subtotal, dc, testNow()); rej != nil {
		return coupon.Validation{}, rej
	}
	return coupon.Validation{Coupon: c, Discount: pricing.ComputeCouponDiscount(&c, subtotal)}, nil
}

type fakePromotions []pricing.Promotion

func (f fakePromotions) Applicable(_ context.Context, subtotal pricing.Money, dc pricing.DeliveryContext, fee pricing.Money) (promotion.Selection, error) {
	best, effect := pricing.BestPromotion(f, subtotal, dc, fee, testNow())
	return promotion.Selection{Promotion: best, Effect: effect}, nil
}

type fixedProvider struct {
	quote pricing.DeliveryQuote
	err   error
}

func (fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) Quote(context.Context, delivery.Route) (pricing.DeliveryQuote, error) {
	return p.quote, p.err
}

type fakeOrders struct{ created []order.Order }

func (f *fakeOrders) Create(_ context.Context, o order.Order) (order.Order, error) {
	f.created = append(f.created, o)
	return o, nil
}

type captureRedemptions struct {
	coupons    []string
	promotions []int64
}

func (c *captureRedemptions) EnqueueCouponRedeem(_ context.Context, code string, _ uuid.UUID) error {
	c.coupons = append(c.coupons, code)
	return nil
}

func (c *captureRedemptions) EnqueuePromotionRedeem(_ context.Context, id int64, _ uuid.UUID) error {
	c.promotions = append(c.promotions, id)
	return nil
}

type captureEmitter struct{ topics []string }

func (c *captureEmitter) Emit(_ context.Context, topic, id string, _ any) (events.Event, error) {
	c.topics = append(c.topics, topic)
	return events.Event{Topic: topic, AggregateID: id}, nil
}

type fixture struct {
	svc         *Service
	carts       *fakeCarts
	orders      *fakeOrders
	redemptions *captureRedemptions
	emitter     *captureEmitter
}

func newFixture(couponCode string) fixture {
	st := cart.State{
		ID:              "cart-1",
		UserID:          "cust-1",
		EstablishmentID: "est-1",
		CityID:          "city-1",
		NeighborhoodID:  "nb-1",
		Address:         "Rua A, 10",
		Pickup:          &delivery.Point{Lat: -23.55, Lng: -46.63},
		Dropoff:         &delivery.Point{Lat: -23.56, Lng: -46.64},
		CouponCode:      couponCode,
		Items: []pricing.LineItem{
			{ProductID: "p1", EstablishmentID: "est-1", UnitPrice: dec("50.00"), Quantity: 2},
		},
	}
	f := fixture{
		carts:       &fakeCarts{states: map[string]cart.State{st.ID: st}},
		orders:      &fakeOrders{},
		redemptions: &captureRedemptions{},
		emitter:     &captureEmitter{},
	}
	f.svc = &Service{
		Carts: f.carts,
		Coupons: fakeCoupons{
			"TENOFF": {ID: 1, Code: "TENOFF", DiscountType: pricing.DiscountPercentage, DiscountValue: dec("10"), Active: true},
			"BIGSPEND": {ID: 2, Code: "BIGSPEND", DiscountType: pricing.DiscountFixed, DiscountValue: dec("20"),
				MinOrderValue: ptr(dec("500")), Active: true},
		},
		Promotions: fakePromotions{
			{ID: 7, Name: "five off", DiscountType: pricing.DiscountFixed, DiscountValue: dec("5"), Active: true},
			{ID: 8, Name: "free ride", DiscountType: pricing.DiscountFreeDelivery, Active: true},
		},
		Delivery:       fixedProvider{quote: pricing.DeliveryQuote{DistanceKm: dec("2.5"), Fee: dec("7.50")}},
		Orders:         f.orders,
		Redemptions:    f.redemptions,
		Events:         f.emitter,
		Logger:         zerolog.Nop(),
		Currency:       "BRL",
		CurrencyPlaces: 2,
	}
	return f
}

func ptr[T any](v T) *T { return &v }

func TestQuoteAppliesCouponAndBestPromotion(t *testing.T) {
	f := newFixture("TENOFF")
	q, err := f.svc.Quote(context.Background(), "cust-1", "cart-1")
	require.NoError(t, err)

	require.True(t, q.Pricing.Subtotal.Equal(dec("100")))
	require.True(t, q.Pricing.CouponDiscount.Equal(dec("10")))
	require.True(t, q.Pricing.FreeDelivery, "free delivery is worth 7.50, more than 5 off")
	require.True(t, q.Pricing.FinalTotal.Equal(dec("90")))
	require.Equal(t, int64(8), q.Promotion.ID)
	require.Equal(t, "TENOFF", q.Coupon.Code)
	require.Nil(t, q.CouponRejection)
}

func TestQuoteReportsCouponRejection(t *testing.T) {
	f := newFixture("BIGSPEND")
	q, err := f.svc.Quote(context.Background(), "cust-1", "cart-1")
	require.NoError(t, err)
	require.NotNil(t, q.CouponRejection)
	require.Equal(t, pricing.ReasonBelowMinimumOrder, q.CouponRejection.Reason)
	require.Nil(t, q.Coupon)
	require.True(t, q.Pricing.CouponDiscount.IsZero())
	require.True(t, q.Pricing.FinalTotal.Equal(dec("100")))
}

func TestQuoteErrors(t *testing.T) {
	f := newFixture("")
	_, err := f.svc.Quote(context.Background(), "someone-else", "cart-1")
	require.ErrorIs(t, err, cart.ErrNotFound)

	st := f.carts.states["cart-1"]
	st.Dropoff = nil
	f.carts.states["cart-1"] = st
	_, err = f.svc.Quote(context.Background(), "cust-1", "cart-1")
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "DELIVERY_AREA_REQUIRED", appErr.Code)

	f = newFixture("")
	f.svc.Delivery = fixedProvider{err: delivery.ErrUnavailable}
	_, err = f.svc.Quote(context.Background(), "cust-1", "cart-1")
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)

	f = newFixture("")
	f.svc.Delivery = fixedProvider{err: errors.New("boom")}
	_, err = f.svc.Quote(context.Background(), "cust-1", "cart-1")
	require.Error(t, err)
}

func TestCheckoutPlacesOrder(t *testing.T) {
	f := newFixture("TENOFF")
	p := common.Principal{UserID: "cust-1", Role: auth.RoleCustomer}
	notes := "ring twice"

	o, err := f.svc.Checkout(context.Background(), p, Input{CartID: "cart-1", ExpectedTotal: ptr(dec("90.00")), Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, o.Status)
	require.Equal(t, "est-1", o.EstablishmentID)
	require.Equal(t, "TENOFF", *o.CouponCode)
	require.Equal(t, int64(8), *o.PromotionID)
	require.True(t, o.Pricing.FinalTotal.Equal(dec("90")))
	require.Len(t, o.Items, 1)

	require.Len(t, f.orders.created, 1)
	require.Equal(t, []string{"TENOFF"}, f.redemptions.coupons)
	require.Equal(t, []int64{8}, f.redemptions.promotions)
	require.Equal(t, []string{events.TopicOrderCreated}, f.emitter.topics)
	require.Equal(t, []string{"cart-1"}, f.carts.cleared)
}

func TestCheckoutRejectsStaleTotal(t *testing.T) {
	f := newFixture("TENOFF")
	p := common.Principal{UserID: "cust-1", Role: auth.RoleCustomer}

	_, err := f.svc.Checkout(context.Background(), p, Input{CartID: "cart-1", ExpectedTotal: ptr(dec("95"))})
	require.ErrorIs(t, err, ErrTotalMismatch)
	require.Empty(t, f.orders.created)
	require.Empty(t, f.carts.cleared)
}

func TestCheckoutRefusesRejectedCoupon(t *testing.T) {
	f := newFixture("BIGSPEND")
	p := common.Principal{UserID: "cust-1", Role: auth.RoleCustomer}

	_, err := f.svc.Checkout(context.Background(), p, Input{CartID: "cart-1"})
	rej, ok := pricing.AsRejection(err)
	require.True(t, ok)
	require.Equal(t, pricing.ReasonBelowMinimumOrder, rej.Reason)
	require.Empty(t, f.orders.created)
	require.Empty(t, f.carts.cleared)
	require.Empty(t, f.redemptions.coupons)
	require.Empty(t, f.emitter.topics)

	h := &Handler{Svc: f.svc}
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"cartId":"cart-1"}`))
	req = req.WithContext(common.WithPrincipal(req.Context(), p))
	rr := httptest.NewRecorder()
	h.Checkout(rr, req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), string(pricing.ReasonBelowMinimumOrder))
	require.Contains(t, f.carts.states, "cart-1")
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newFixture("")
	st := f.carts.states["cart-1"]
	st.Items = nil
	f.carts.states["cart-1"] = st

	h := &Handler{Svc: f.svc}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := common.WithPrincipal(req.Context(), common.Principal{UserID: "cust-1", Role: auth.RoleCustomer})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/checkout", h.Checkout)
	r.Get("/carts/{id}/quote", h.Quote)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"cartId":"cart-1"}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "CART_EMPTY")

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/carts/missing/quote", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
