package coupon

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-antar/internal/pricing"
)

const cachePrefix = "coupon:code:"

// Cache keeps recently looked-up coupons in Redis. Usage counts may lag by up
// to TTL; redemption re-reads the row under a lock.
type Cache struct {
	R   *redis.Client
	TTL time.Duration
}

func NewCache(r *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{R: r, TTL: ttl}
}

func (c *Cache) Get(ctx context.Context, code string) (pricing.Coupon, bool, error) {
	if c == nil || c.R == nil {
		return pricing.Coupon{}, false, nil
	}
	raw, err := c.R.Get(ctx, cachePrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return pricing.Coupon{}, false, nil
	}
	if err != nil {
		return pricing.Coupon{}, false, err
	}
	var out pricing.Coupon
	if err := json.Unmarshal(raw, &out); err != nil {
		_ = c.R.Del(ctx, cachePrefix+code).Err()
		return pricing.Coupon{}, false, nil
	}
	return out, true, nil
}

func (c *Cache) Set(ctx context.Context, coupon pricing.Coupon) error {
	if c == nil || c.R == nil {
		return nil
	}
	raw, err := json.Marshal(coupon)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, cachePrefix+coupon.Code, raw, c.TTL).Err()
}

func (c *Cache) Invalidate(ctx context.Context, codes ...string) error {
	if c == nil || c.R == nil || len(codes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(codes))
	for _, code := range codes {
		keys = append(keys, cachePrefix+code)
	}
	return c.R.Del(ctx, keys...).Err()
}
