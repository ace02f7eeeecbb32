package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-antar/internal/audit"
	"github.com/noah-isme/backend-antar/internal/auth"
	"github.com/noah-isme/backend-antar/internal/cart"
	"github.com/noah-isme/backend-antar/internal/checkout"
	"github.com/noah-isme/backend-antar/internal/common"
	"github.com/noah-isme/backend-antar/internal/config"
	"github.com/noah-isme/backend-antar/internal/coupon"
	"github.com/noah-isme/backend-antar/internal/db"
	"github.com/noah-isme/backend-antar/internal/delivery"
	"github.com/noah-isme/backend-antar/internal/events"
	"github.com/noah-isme/backend-antar/internal/health"
	"github.com/noah-isme/backend-antar/internal/lock"
	"github.com/noah-isme/backend-antar/internal/obs"
	"github.com/noah-isme/backend-antar/internal/order"
	"github.com/noah-isme/backend-antar/internal/promotion"
	"github.com/noah-isme/backend-antar/internal/ratelimit"
	"github.com/noah-isme/backend-antar/internal/security"
	"github.com/noah-isme/backend-antar/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Str("component", "api").Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingEnabled := cfg.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.ServiceName,
			Endpoint:      cfg.TracingEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrationsAuto {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	bootCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := db.Connect(bootCtx, cfg.DatabaseURL, cfg.ServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	redisClient := mustInitRedis(bootCtx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task client")
	}
	taskClient := asynq.NewClient(redisOpt)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		Audience:  cfg.JWTAudience,
		ClockSkew: cfg.JWTClockSkew,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise token verifier")
	}
	authMiddleware := auth.Middleware{Verifier: verifier}

	locker := lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockTTL}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	couponSvc := &coupon.Service{
		Store:   coupon.NewStore(pool),
		Cache:   coupon.NewCache(redisClient, cfg.CouponCacheTTL),
		Locker:  locker,
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("svc", "coupon").Logger(),
	}
	promotionSvc := &promotion.Service{
		Store:   promotion.NewStore(pool),
		Locker:  locker,
		LockTTL: cfg.LockTTL,
		Logger:  logger.With().Str("svc", "promotion").Logger(),
	}
	deliveryProvider, err := delivery.NewFromConfig(cfg, redisClient, logger.With().Str("svc", "delivery").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise delivery provider")
	}
	cartSvc := &cart.Service{R: redisClient, TTL: cfg.CartTTL, Coupons: couponSvc}

	eventStore := events.NewStore(pool)
	notifiers := []events.Notifier{events.RedisNotifier{R: redisClient}}
	if len(cfg.KafkaBrokers) > 0 {
		writer := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaOrderTopic)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error().Err(err).Msg("close kafka writer")
			}
		}()
		notifiers = append(notifiers, events.KafkaNotifier{Writer: writer})
	}
	bus := &events.Bus{Store: eventStore, Notifiers: notifiers}

	orderStore := order.NewStore(pool)
	orderSvc := &order.Service{Store: orderStore, Events: bus, Logger: logger.With().Str("svc", "order").Logger()}
	checkoutSvc := &checkout.Service{
		Carts:          cartSvc,
		Coupons:        couponSvc,
		Promotions:     promotionSvc,
		Delivery:       deliveryProvider,
		Orders:         orderStore,
		Redemptions:    tasks.Enqueuer{Client: taskClient, Queue: cfg.WorkerQueue, MaxRetry: cfg.TaskMaxRetry, TaskTimeout: cfg.TaskTimeout},
		Events:         bus,
		Logger:         logger.With().Str("svc", "checkout").Logger(),
		Currency:       cfg.CurrencyCode,
		CurrencyPlaces: cfg.CurrencyPlaces,
	}

	cartHandler := &cart.Handler{Svc: cartSvc}
	couponHandler := &coupon.Handler{Svc: couponSvc}
	promotionHandler := &promotion.Handler{Svc: promotionSvc}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc}
	orderHandler := &order.Handler{Svc: orderSvc}
	orderEvents := events.WSHandler{
		Stream:    events.Stream{R: redisClient, Logger: logger},
		History:   eventStore,
		Authorize: orderSvc.AuthorizeWatch,
		Upgrader:  websocket.Upgrader{CheckOrigin: originChecker(cfg.CORSAllowedOrigins)},
		Logger:    logger.With().Str("svc", "order-events").Logger(),
	}

	globalLimit, err := ratelimit.NewGlobal(redisClient, cfg.APIRateLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	validateLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl"},
		Config: ratelimit.Config{
			Key:    ratelimit.PrincipalOrIP("coupon-validate"),
			Window: cfg.CouponValidateRateWindow,
			Max:    cfg.CouponValidateRateMax,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("coupon validate limiter unavailable") },
	}

	auditStore := audit.NewStore(pool)
	auditRec := audit.HTTPRecorder{
		Service: &audit.Service{Store: auditStore, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate},
		OnError: func(err error) { logger.Warn().Err(err).Msg("audit record failed") },
	}
	audited := func(action, resource string) func(http.Handler) http.Handler {
		return auditRec.Middleware(audit.HTTPConfig{Action: action, ResourceType: resource, ResourceIDParam: "id"})
	}
	auditHandler := audit.Handler{Store: auditStore}

	var httpMetrics *obs.HTTPMetrics
	if cfg.MetricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.HTTPBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, SkipPaths: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.HSTSEnabled}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.PprofUser, cfg.PprofPass))
	}

	healthHandler := health.Handler{
		Checks: map[string]health.Check{
			"postgres": health.PostgresCheck(pool),
			"redis":    health.RedisCheck(redisClient),
		},
		Timeout: 500 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(authMiddleware.RequireAuth)
		v.Use(globalLimit)

		v.Route("/carts", func(c chi.Router) {
			c.Use(auth.RequireRole(auth.RoleCustomer))
			c.Post("/", cartHandler.Open)
			c.Get("/{id}", cartHandler.Get)
			c.Delete("/{id}", cartHandler.Clear)
			c.Get("/{id}/quote", checkoutHandler.Quote)
			c.Put("/{id}/delivery", cartHandler.SetDelivery)
			c.Delete("/{id}/coupon", cartHandler.RemoveCoupon)
			c.With(validateLimit.Middleware).Post("/{id}/coupon", cartHandler.ApplyCoupon)
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/{id}/items", cartHandler.AddItem)
				g.Patch("/{id}/items/{productId}", cartHandler.UpdateItem)
				g.Delete("/{id}/items/{productId}", cartHandler.RemoveItem)
			})
		})

		v.With(auth.RequireRole(auth.RoleCustomer), idem.Middleware).Post("/checkout", checkoutHandler.Checkout)
		v.With(validateLimit.Middleware).Post("/coupons/validate", couponHandler.Validate)

		v.Route("/orders", func(o chi.Router) {
			o.Get("/", orderHandler.List)
			o.Get("/{id}", orderHandler.Get)
			o.Get("/{id}/history", orderHandler.History)
			o.Get("/{id}/events", orderEvents.ServeHTTP)
			o.Patch("/{id}/status", orderHandler.PatchStatus)
		})

		v.Route("/admin", func(a chi.Router) {
			a.Use(auth.RequireRole(auth.RoleAdmin, auth.RoleEstablishment))
			a.Get("/coupons", couponHandler.List)
			a.With(audited("coupon.create", "coupon")).Post("/coupons", couponHandler.Create)
			a.With(audited("coupon.update", "coupon")).Put("/coupons/{id}", couponHandler.Update)
			a.With(audited("coupon.deactivate", "coupon")).Delete("/coupons/{id}", couponHandler.Deactivate)
			a.Get("/promotions", promotionHandler.List)
			a.With(audited("promotion.create", "promotion")).Post("/promotions", promotionHandler.Create)
			a.With(audited("promotion.update", "promotion")).Put("/promotions/{id}", promotionHandler.Update)
			a.With(audited("promotion.deactivate", "promotion")).Delete("/promotions/{id}", promotionHandler.Deactivate)
			a.With(auth.RequireRole(auth.RoleAdmin)).Get("/audit-logs", auditHandler.List)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// originChecker mirrors the CORS allowlist for WebSocket upgrades.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
