package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func money(v string) Money {
	return decimal.RequireFromString(v)
}

func moneyPtr(v string) *Money {
	m := money(v)
	return &m
}

func requireMoney(t *testing.T, want string, got Money) {
	t.Helper()
	require.Truef(t, money(want).Equal(got), "expected %s, got %s", want, got.String())
}

func TestComputeCouponDiscount(t *testing.T) {
	cases := []struct {
		name     string
		coupon   *Coupon
		subtotal string
		want     string
	}{
		{name: "nil coupon", coupon: nil, subtotal: "100", want: "0"},
		{name: "percentage without cap", coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("10")}, subtotal: "100", want: "10"},
		{name: "percentage capped", coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("50"), MaxDiscount: moneyPtr("15")}, subtotal: "50", want: "15"},
		{name: "percentage under cap", coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("10"), MaxDiscount: moneyPtr("15")}, subtotal: "50", want: "5"},
		{name: "fixed capped to subtotal", coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: money("30")}, subtotal: "20", want: "20"},
		{name: "fixed below subtotal", coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: money("7.5")}, subtotal: "20", want: "7.5"},
		{name: "fractional percentage", coupon: &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("12.5")}, subtotal: "39.90", want: "4.9875"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			requireMoney(t, tc.want, ComputeCouponDiscount(tc.coupon, money(tc.subtotal)))
		})
	}
}

func TestFixedCouponNeverExceedsSubtotal(t *testing.T) {
	for _, subtotal := range []string{"0", "0.01", "5", "19.99", "250"} {
		c := &Coupon{DiscountType: DiscountFixed, DiscountValue: money(subtotal).Add(money("1"))}
		requireMoney(t, subtotal, ComputeCouponDiscount(c, money(subtotal)))
	}
}

func TestPercentageCouponRespectsMaxDiscount(t *testing.T) {
	maxDiscount := moneyPtr("12")
	for _, pct := range []string{"1", "10", "33.3", "50", "100"} {
		for _, subtotal := range []string{"0", "10", "99.99", "1000"} {
			c := &Coupon{DiscountType: DiscountPercentage, DiscountValue: money(pct), MaxDiscount: maxDiscount}
			got := ComputeCouponDiscount(c, money(subtotal))
			require.Truef(t, got.LessThanOrEqual(*maxDiscount), "pct=%s subtotal=%s got=%s", pct, subtotal, got)
		}
	}
}

func TestComputePromotionEffect(t *testing.T) {
	cases := []struct {
		name      string
		promotion *Promotion
		subtotal  string
		discount  string
		free      bool
	}{
		{name: "nil promotion", subtotal: "50", discount: "0"},
		{name: "below minimum", promotion: &Promotion{DiscountType: DiscountFixed, DiscountValue: money("5"), MinOrderValue: moneyPtr("60")}, subtotal: "50", discount: "0"},
		{name: "free delivery", promotion: &Promotion{DiscountType: DiscountFreeDelivery}, subtotal: "80", discount: "0", free: true},
		{name: "percentage", promotion: &Promotion{DiscountType: DiscountPercentage, DiscountValue: money("20")}, subtotal: "50", discount: "10"},
		{name: "fixed at minimum", promotion: &Promotion{DiscountType: DiscountFixed, DiscountValue: money("5"), MinOrderValue: moneyPtr("50")}, subtotal: "50", discount: "5"},
		{name: "fixed larger than subtotal is not capped", promotion: &Promotion{DiscountType: DiscountFixed, DiscountValue: money("40")}, subtotal: "25", discount: "40"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			effect := ComputePromotionEffect(tc.promotion, money(tc.subtotal))
			requireMoney(t, tc.discount, effect.Discount)
			require.Equal(t, tc.free, effect.FreeDelivery)
		})
	}
}

func TestComputeFinalTotal(t *testing.T) {
	requireMoney(t, "93", ComputeFinalTotal(money("100"), money("10"), money("5"), money("8"), false))
	requireMoney(t, "80", ComputeFinalTotal(money("80"), money("0"), money("0"), money("12"), true))
	requireMoney(t, "4.5", ComputeFinalTotal(money("20"), money("15"), money("40"), money("4.5"), false))
}

func TestFinalTotalMonotonicity(t *testing.T) {
	values := []string{"0", "1", "7.25", "20", "150"}
	for _, subtotal := range values {
		for _, discount := range values {
			prev := ComputeFinalTotal(money(subtotal), money(discount), decimal.Zero, money("0"), false)
			for _, fee := range values[1:] {
				next := ComputeFinalTotal(money(subtotal), money(discount), decimal.Zero, money(fee), false)
				require.True(t, next.GreaterThanOrEqual(prev), "total must not decrease as the fee grows")
				prev = next
			}
		}
	}
	for _, subtotal := range values {
		prevCoupon := ComputeFinalTotal(money(subtotal), decimal.Zero, money("3"), money("5"), false)
		prevPromo := ComputeFinalTotal(money(subtotal), money("3"), decimal.Zero, money("5"), false)
		for _, discount := range values[1:] {
			nextCoupon := ComputeFinalTotal(money(subtotal), money(discount), money("3"), money("5"), false)
			nextPromo := ComputeFinalTotal(money(subtotal), money("3"), money(discount), money("5"), false)
			require.True(t, nextCoupon.LessThanOrEqual(prevCoupon))
			require.True(t, nextPromo.LessThanOrEqual(prevPromo))
			prevCoupon, prevPromo = nextCoupon, nextPromo
		}
	}
}

func TestFreeDeliveryZeroesFee(t *testing.T) {
	for _, fee := range []string{"0", "0.99", "12", "1000"} {
		requireMoney(t, "30", ComputeFinalTotal(money("30"), decimal.Zero, decimal.Zero, money(fee), true))
	}
}

func TestCalculateScenarios(t *testing.T) {
	t.Run("free delivery promotion", func(t *testing.T) {
		res, err := Calculate(Input{
			Subtotal:  money("80"),
			Promotion: &Promotion{DiscountType: DiscountFreeDelivery},
			Delivery:  DeliveryQuote{DistanceKm: money("3.2"), Fee: money("12")},
		})
		require.NoError(t, err)
		require.True(t, res.FreeDelivery)
		requireMoney(t, "12", res.DeliveryFee)
		requireMoney(t, "80", res.FinalTotal)
	})

	t.Run("coupon and fixed promotion stack", func(t *testing.T) {
		in := Input{
			Subtotal:  money("100"),
			Coupon:    &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("10")},
			Promotion: &Promotion{DiscountType: DiscountFixed, DiscountValue: money("5")},
			Delivery:  DeliveryQuote{Fee: money("8")},
		}
		res, err := Calculate(in)
		require.NoError(t, err)
		requireMoney(t, "10", res.CouponDiscount)
		requireMoney(t, "5", res.PromotionDiscount)
		requireMoney(t, "93", res.FinalTotal)

		again, err := Calculate(in)
		require.NoError(t, err)
		require.Equal(t, res, again)
	})

	t.Run("rejects negative input", func(t *testing.T) {
		_, err := Calculate(Input{Subtotal: money("-1")})
		require.ErrorIs(t, err, ErrNegativeAmount)
		_, err = Calculate(Input{Subtotal: money("10"), Delivery: DeliveryQuote{Fee: money("-2")}})
		require.ErrorIs(t, err, ErrNegativeAmount)
		_, err = Calculate(Input{Subtotal: money("10"), Coupon: &Coupon{DiscountType: DiscountFixed, DiscountValue: money("-3")}})
		require.ErrorIs(t, err, ErrNegativeAmount)
	})
}

func TestResultRoundKeepsBreakdownConsistent(t *testing.T) {
	res, err := Calculate(Input{
		Subtotal: money("39.90"),
		Coupon:   &Coupon{DiscountType: DiscountPercentage, DiscountValue: money("12.5")},
		Delivery: DeliveryQuote{Fee: money("4.333")},
	})
	require.NoError(t, err)
	rounded := res.Round(2)
	requireMoney(t, "4.99", rounded.CouponDiscount)
	requireMoney(t, "4.33", rounded.DeliveryFee)
	requireMoney(t, "39.24", rounded.FinalTotal)
}

func TestCartSubtotalAndValidate(t *testing.T) {
	cart := Cart{
		EstablishmentID: "est-1",
		Items: []LineItem{
			{ProductID: "p1", EstablishmentID: "est-1", UnitPrice: money("12.50"), Quantity: 2},
			{ProductID: "p2", EstablishmentID: "est-1", UnitPrice: money("3.25"), Quantity: 1},
		},
	}
	requireMoney(t, "28.25", cart.Subtotal())
	require.NoError(t, cart.Validate())

	cart.Items = append(cart.Items, LineItem{ProductID: "p3", EstablishmentID: "est-2", UnitPrice: money("1"), Quantity: 1})
	require.ErrorIs(t, cart.Validate(), ErrMixedEstablishments)
}

func TestParseDiscountType(t *testing.T) {
	dt, err := ParseDiscountType(" Percentage ", false)
	require.NoError(t, err)
	require.Equal(t, DiscountPercentage, dt)

	_, err = ParseDiscountType("free_delivery", false)
	require.Error(t, err)

	dt, err = ParseDiscountType("free_delivery", true)
	require.NoError(t, err)
	require.Equal(t, DiscountFreeDelivery, dt)
}
