package delivery

import (
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-antar/internal/config"
	"github.com/noah-isme/backend-antar/internal/resilience"
)

// NewFromConfig builds the configured provider chain: measured, cached, then
// the flat-rate or HTTP routing provider.
func NewFromConfig(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) (Provider, error) {
	var base Provider
	switch cfg.DeliveryProvider {
	case "flat":
		base = FlatRateProvider{BaseFee: cfg.DeliveryBaseFee, PerKm: cfg.DeliveryPerKmFee, Places: cfg.CurrencyPlaces}
	case "http":
		breaker := resilience.NewBreaker(resilience.BreakerConfig{
			Target:       "delivery",
			MinRequests:  cfg.CircuitDeliveryMinReq,
			FailureRatio: cfg.CircuitDeliveryFailureRate,
			OpenFor:      cfg.CircuitDeliveryOpenFor,
			Logger:       logger,
		})
		base = HTTPProvider{
			BaseURL: cfg.DeliveryBaseURL,
			APIKey:  cfg.DeliveryAPIKey,
			Client: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     breaker,
				BaseBackoff: cfg.RetryBase,
				MaxAttempts: cfg.RetryMaxAttempts,
				Jitter:      cfg.RetryJitterPercent,
				Timeout:     cfg.DeliveryTimeout,
			},
		}
	default:
		return nil, fmt.Errorf("delivery: unsupported provider %q", cfg.DeliveryProvider)
	}
	return Measured{Next: CachedProvider{Next: base, R: rdb, TTL: cfg.QuoteCacheTTL, Logger: logger}}, nil
}
