package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/raisan/backend-ads/internal/auth"
	"github.com/raisan/backend-ads/internal/common"
	"github.com/raisan/backend-ads/internal/config"
	"github.com/raisan/backend-ads/internal/health"
	"github.com/raisan/backend-ads/internal/obs"
	"github.com/raisan/backend-ads/internal/payment"
	"github.com/raisan/backend-ads/internal/pricing"
	"github.com/raisan/backend-ads/internal/ratelimit"
	"github.com/raisan/backend-ads/internal/settlement"
	"github.com/raisan/backend-ads/internal/store"
	"github.com/raisan/backend-ads/internal/transaction"
	"github.com/raisan/backend-ads/internal/voucher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "ads")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "ads-billing-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cfg.MigrateOnStart {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "ads-billing-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	queries := store.New(pool)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	authService, err := auth.NewService(cfg.JWTSecret)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth")
	}
	authMiddleware := auth.Middleware{Service: authService}
	validate := validator.New()

	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	limiter := ratelimit.NewLimiter()
	limiterCtx, limiterCancel := context.WithCancel(context.Background())
	defer limiterCancel()
	limiter.StartSweeper(limiterCtx, cfg.RateLimitSweepEach, cfg.RateLimitWindow)
	limiterSettings := &ratelimit.Settings{
		Q:              queries,
		CacheTTL:       cfg.RateLimitCacheTTL,
		FallbackMax:    cfg.RateLimitMax,
		FallbackWindow: cfg.RateLimitWindow,
	}
	purchaseLimit := ratelimit.Handler{
		Limiter:  limiter,
		Settings: limiterSettings,
		Config: ratelimit.Config{
			Scope: "purchase",
			Key: func(r *http.Request) string {
				if userID, ok := common.UserID(r.Context()); ok && userID != "" {
					return "user:" + userID
				}
				return "ip:" + r.RemoteAddr
			},
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable, failing open")
		},
	}

	voucherSvc := &voucher.Service{Q: queries}
	pricer := &pricing.Service{
		Q:        queries,
		MinDays:  cfg.ProRataMinDays,
		BaseDays: cfg.ProRataBaseDays,
		QtyMin:   cfg.AddonQtyMin,
		QtyMax:   cfg.AddonQtyMax,
	}
	codes := &settlement.Generator{
		Q:           queries,
		Min:         int32(cfg.SettlementMin),
		Max:         int32(cfg.SettlementMax),
		MaxAttempts: cfg.SettlementTries,
	}
	txSvc := &transaction.Service{
		Q:            queries,
		Pricer:       pricer,
		Vouchers:     voucherSvc,
		Codes:        codes,
		TaxBps:       cfg.TaxRateBPS,
		Currency:     cfg.CurrencyCode,
		SubTTL:       cfg.SubscriptionTTL,
		AddonTTL:     cfg.AddonTTL,
		InsertTries:  cfg.InsertRetryLimit,
		Instructions: payment.ManualTransfer(cfg.BankName, cfg.BankAccountNumber, cfg.BankAccountHolder),
		Log:          logger,
	}
	txHandler := &transaction.Handler{Svc: txSvc, Validate: validate}
	voucherHandler := &voucher.Handler{Svc: voucherSvc, Validate: validate, MapError: transaction.MapError}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/purchases", func(p chi.Router) {
			p.Use(authMiddleware.RequireAuth)
			p.Use(purchaseLimit.Middleware)
			p.Use(idem.Middleware)
			p.Post("/subscription", txHandler.PurchaseSubscription)
			p.Post("/addon", txHandler.PurchaseAddon)
		})

		v.With(authMiddleware.RequireAuth).Post("/vouchers/preview", voucherHandler.Preview)
		v.With(authMiddleware.RequireAuth).Get("/transactions/{id}", txHandler.Get)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}
