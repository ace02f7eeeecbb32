package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	JWTClockSkew       time.Duration
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
	BodyLimitBytes     int64
	SecurityHeaders    bool
	HSTSEnabled        bool
	PprofEnabled       bool
	PprofUser          string
	PprofPass          string

	CurrencyCode   string
	CurrencyPlaces int32

	CartTTL        time.Duration
	CouponCacheTTL time.Duration
	QuoteCacheTTL  time.Duration
	IdempotencyTTL time.Duration

	APIRateLimit             string
	CouponValidateRateMax    int
	CouponValidateRateWindow time.Duration

	DeliveryProvider string
	DeliveryBaseURL  string
	DeliveryAPIKey   string
	DeliveryBaseFee  decimal.Decimal
	DeliveryPerKmFee decimal.Decimal
	DeliveryTimeout  time.Duration

	CircuitDeliveryMinReq      int
	CircuitDeliveryFailureRate float64
	CircuitDeliveryOpenFor     time.Duration
	RetryBase                  time.Duration
	RetryMaxAttempts           int
	RetryJitterPercent         float64

	KafkaBrokers    []string
	KafkaOrderTopic string

	AuditEnabled      bool
	AuditSamplingRate float64

	MigrationsAuto   bool
	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	WorkerConcurrency int
	WorkerQueue       string
	WorkerMetricsAddr string
	TaskMaxRetry      int
	TaskTimeout       time.Duration

	LogFormat          string
	LogLevel           string
	ServiceName        string
	MetricsEnabled     bool
	MetricsNamespace   string
	HTTPBuckets        string
	TracingEnabled     bool
	TracingEndpoint    string
	TracingExporter    string
	TracingSampleRatio float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          valueOrDefault(k.String("JWT_ISSUER"), "antar-auth"),
		JWTAudience:        valueOrDefault(k.String("JWT_AUDIENCE"), "antar-app"),
		JWTClockSkew:       parseDuration(k.String("JWT_CLOCK_SKEW"), "30s"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		ShutdownTimeout:    parseDuration(k.String("SHUTDOWN_TIMEOUT"), "15s"),
		BodyLimitBytes:     int64(parseInt(k.String("SECURE_BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders:    parseBoolDefault(k.String("SECURE_HEADERS_ENABLED"), true),
		HSTSEnabled:        parseBool(k.String("SECURE_HSTS_ENABLED")),
		PprofEnabled:       parseBool(k.String("PPROF_ENABLED")),
		PprofUser:          k.String("PPROF_BASIC_AUTH_USER"),
		PprofPass:          k.String("PPROF_BASIC_AUTH_PASS"),

		CurrencyCode:   valueOrDefault(k.String("CURRENCY_CODE"), "BRL"),
		CurrencyPlaces: int32(parseInt(k.String("CURRENCY_PLACES"), 2)),

		CartTTL:        parseDuration(k.String("CART_TTL"), "72h"),
		CouponCacheTTL: parseDuration(k.String("COUPON_CACHE_TTL"), "1m"),
		QuoteCacheTTL:  parseDuration(k.String("DELIVERY_QUOTE_CACHE_TTL"), "10m"),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		APIRateLimit:             valueOrDefault(k.String("API_RATE_LIMIT"), "300-M"),
		CouponValidateRateMax:    parseInt(k.String("COUPON_VALIDATE_RATE_MAX"), 10),
		CouponValidateRateWindow: parseDuration(k.String("COUPON_VALIDATE_RATE_WINDOW"), "1m"),

		DeliveryProvider: strings.ToLower(valueOrDefault(k.String("DELIVERY_PROVIDER"), "flat")),
		DeliveryBaseURL:  strings.TrimSpace(k.String("DELIVERY_BASE_URL")),
		DeliveryAPIKey:   k.String("DELIVERY_API_KEY"),
		DeliveryBaseFee:  parseDecimal(k.String("DELIVERY_BASE_FEE"), "4.00"),
		DeliveryPerKmFee: parseDecimal(k.String("DELIVERY_PER_KM_FEE"), "1.50"),
		DeliveryTimeout:  parseDuration(k.String("DELIVERY_TIMEOUT"), "2s"),

		CircuitDeliveryMinReq:      parseInt(k.String("CIRCUIT_DELIVERY_MIN_REQUESTS"), 10),
		CircuitDeliveryFailureRate: parseFloat(k.String("CIRCUIT_DELIVERY_FAILURE_RATE"), 0.5),
		CircuitDeliveryOpenFor:     parseDuration(k.String("CIRCUIT_DELIVERY_OPEN_FOR"), "30s"),
		RetryBase:                  parseDuration(k.String("RETRY_BASE"), "100ms"),
		RetryMaxAttempts:           parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:         parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		KafkaBrokers:    splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaOrderTopic: valueOrDefault(k.String("KAFKA_ORDER_TOPIC"), "antar.orders"),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		MigrationsAuto:   parseBool(k.String("MIGRATIONS_AUTO")),
		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),
		WorkerQueue:       valueOrDefault(k.String("WORKER_QUEUE"), "default"),
		WorkerMetricsAddr: valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),
		TaskMaxRetry:      parseInt(k.String("TASK_MAX_RETRY"), 10),
		TaskTimeout:       parseDuration(k.String("TASK_TIMEOUT"), "30s"),

		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		ServiceName:        valueOrDefault(k.String("SERVICE_NAME"), "antar-api"),
		MetricsEnabled:     parseBoolDefault(k.String("METRICS_ENABLED"), true),
		MetricsNamespace:   valueOrDefault(k.String("METRICS_NAMESPACE"), "antar"),
		HTTPBuckets:        k.String("METRICS_HTTP_BUCKETS_MS"),
		TracingEnabled:     parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint:    k.String("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TracingExporter:    valueOrDefault(k.String("TRACING_EXPORTER"), "otlp"),
		TracingSampleRatio: parseFloat(k.String("TRACING_SAMPLE_RATIO"), 1),
	}

	if cfg.CurrencyPlaces < 0 {
		cfg.CurrencyPlaces = 2
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.DeliveryProvider {
	case "flat":
	case "http":
		if cfg.DeliveryBaseURL == "" {
			return nil, errors.New("DELIVERY_BASE_URL is required for the http delivery provider")
		}
	default:
		return nil, fmt.Errorf("unsupported DELIVERY_PROVIDER %q", cfg.DeliveryProvider)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDecimal(value, fallback string) decimal.Decimal {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil || parsed.IsNegative() {
		return decimal.RequireFromString(fallback)
	}
	return parsed
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
