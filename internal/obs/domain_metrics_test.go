package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-antar/internal/obs"
)

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("antar", registry)
	obs.MustRegisterDomainMetrics("antar", registry)

	obs.ObserveRejection("coupon", "EXPIRED")
	obs.ObserveRejection("coupon", "EXPIRED")
	obs.ObserveOrderTransition("pending", "confirmed")

	require.Equal(t, float64(2), testutil.ToFloat64(obs.CouponRejectionsTotal.WithLabelValues("coupon", "EXPIRED")))
	require.Equal(t, float64(1), testutil.ToFloat64(obs.OrderStatusTransitions.WithLabelValues("pending", "confirmed")))
}
