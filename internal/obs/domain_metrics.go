package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingQuotesTotal counts price quote computations by outcome.
	PricingQuotesTotal *prometheus.CounterVec
	// CouponRejectionsTotal counts coupon and promotion rejections by reason.
	CouponRejectionsTotal *prometheus.CounterVec
	// CouponRedemptionsTotal counts redemption attempts processed by workers.
	CouponRedemptionsTotal *prometheus.CounterVec
	// OrderStatusTransitions counts order lifecycle transitions.
	OrderStatusTransitions *prometheus.CounterVec
	// DeliveryQuoteLatency records delivery provider latency in milliseconds.
	DeliveryQuoteLatency *prometheus.HistogramVec
	// EventPublishTotal counts domain event fan-out outcomes per notifier.
	EventPublishTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingQuotesTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quotes_total",
			Help:      "Count of price quote computations by outcome.",
		}, []string{"result"}))
		CouponRejectionsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_rejections_total",
			Help:      "Count of rejected coupons and promotions by reason.",
		}, []string{"kind", "reason"}))
		CouponRedemptionsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemptions_total",
			Help:      "Count of coupon and promotion redemptions by outcome.",
		}, []string{"kind", "result"}))
		OrderStatusTransitions = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_status_transitions_total",
			Help:      "Count of order status transitions.",
		}, []string{"from", "to"}))
		DeliveryQuoteLatency = registerCollector(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_quote_duration_ms",
			Help:      "Latency for delivery fee quotes in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"provider", "result"}))
		EventPublishTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Count of domain event deliveries per notifier.",
		}, []string{"notifier", "result"}))
	})
}

// The helpers below tolerate unregistered collectors so packages stay usable in tests.

func ObservePricingQuote(result string) {
	if PricingQuotesTotal != nil {
		PricingQuotesTotal.WithLabelValues(result).Inc()
	}
}

func ObserveRejection(kind, reason string) {
	if CouponRejectionsTotal != nil {
		CouponRejectionsTotal.WithLabelValues(kind, reason).Inc()
	}
}

func ObserveRedemption(kind, result string) {
	if CouponRedemptionsTotal != nil {
		CouponRedemptionsTotal.WithLabelValues(kind, result).Inc()
	}
}

func ObserveOrderTransition(from, to string) {
	if OrderStatusTransitions != nil {
		OrderStatusTransitions.WithLabelValues(from, to).Inc()
	}
}

func ObserveDeliveryQuote(provider, result string, ms float64) {
	if DeliveryQuoteLatency != nil {
		DeliveryQuoteLatency.WithLabelValues(provider, result).Observe(ms)
	}
}

func ObserveEventPublish(notifier, result string) {
	if EventPublishTotal != nil {
		EventPublishTotal.WithLabelValues(notifier, result).Inc()
	}
}
