package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/obs"
	"github.com/noah-isme/backend-antar/internal/pricing"
)

// CachedProvider memoises quotes in Redis keyed by coordinates rounded to
// roughly eleven metres.
type CachedProvider struct {
	Next   Provider
	R      *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

func (c CachedProvider) Name() string { return c.Next.Name() }

func (c CachedProvider) Quote(ctx context.Context, route Route) (pricing.DeliveryQuote, error) {
	key := c.key(route)
	if c.R != nil {
		raw, err := c.R.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var q pricing.DeliveryQuote
			if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil {
				return q, nil
			}
		case !errors.Is(err, redis.Nil):
			c.Logger.Warn().Err(err).Msg("delivery quote cache read failed")
		}
	}
	q, err := c.Next.Quote(ctx, route)
	if err != nil {
		return pricing.DeliveryQuote{}, err
	}
	if c.R != nil && c.TTL > 0 {
		if raw, err := json.Marshal(q); err == nil {
			if err := c.R.Set(ctx, key, raw, c.TTL).Err(); err != nil {
				c.Logger.Warn().Err(err).Msg("delivery quote cache write failed")
			}
		}
	}
	return q, nil
}

func (c CachedProvider) key(r Route) string {
	return fmt.Sprintf("delivery:quote:%s:%s:%.4f,%.4f:%.4f,%.4f",
		c.Next.Name(), r.EstablishmentID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng)
}

// Measured records quote latency and outcome.
type Measured struct {
	Next Provider
	Now  func() time.Time
}

func (m Measured) Name() string { return m.Next.Name() }

func (m Measured) Quote(ctx context.Context, route Route) (pricing.DeliveryQuote, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	start := now()
	q, err := m.Next.Quote(ctx, route)
	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrUnavailable) {
			result = "unavailable"
		}
	}
	obs.ObserveDeliveryQuote(m.Next.Name(), result, float64(now().Sub(start).Microseconds())/1000)
	return q, err
}
