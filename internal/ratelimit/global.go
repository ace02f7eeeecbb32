package ratelimit

import (
	"fmt"
	"net/http"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/backend-antar/internal/common"
)

// NewGlobal builds the coarse API-wide limiter from a formatted rate such as "300-M".
func NewGlobal(rdb *redis.Client, rate string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "antar:limiter"})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	mw := stdlib.NewMiddleware(
		limiter.New(store, parsed),
		stdlib.WithKeyGetter(PrincipalOrIP("global")),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		}),
	)
	return mw.Handler, nil
}
