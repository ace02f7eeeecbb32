package pricing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCouponCheck(t *testing.T) {
	ok := Coupon{Code: "SAVE10", DiscountType: DiscountPercentage, DiscountValue: money("10"), MaxDiscount: moneyPtr("15")}
	require.NoError(t, ok.Check())

	cases := map[string]Coupon{
		"missing code":         {DiscountType: DiscountFixed, DiscountValue: money("1")},
		"free delivery coupon": {Code: "X", DiscountType: DiscountFreeDelivery},
		"over 100 percent":     {Code: "X", DiscountType: DiscountPercentage, DiscountValue: money("100.01")},
		"negative value":       {Code: "X", DiscountType: DiscountFixed, DiscountValue: money("-1")},
		"cap on fixed":         {Code: "X", DiscountType: DiscountFixed, DiscountValue: money("5"), MaxDiscount: moneyPtr("3")},
		"negative usage limit": {Code: "X", DiscountType: DiscountFixed, DiscountValue: money("5"), UsageLimit: intPtr(-1)},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, c.Check(), ErrInvalidOffer)
		})
	}
}

func TestPromotionCheck(t *testing.T) {
	require.NoError(t, Promotion{Name: "Free delivery Fridays", DiscountType: DiscountFreeDelivery}.Check())
	require.ErrorIs(t, Promotion{DiscountType: DiscountFixed}.Check(), ErrInvalidOffer)
	require.ErrorIs(t, Promotion{Name: "x", DiscountType: "bogo"}.Check(), ErrInvalidOffer)
}

func TestNormalizeCode(t *testing.T) {
	require.Equal(t, "SAVE10", NormalizeCode("  save10 "))
}
