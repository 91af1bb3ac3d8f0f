package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/beautyon-app/beautyon/libs/config"
	"github.com/beautyon-app/beautyon/libs/db"
	"github.com/beautyon-app/beautyon/libs/httpx"
	otelx "github.com/beautyon-app/beautyon/libs/otel"
	"github.com/beautyon-app/beautyon/libs/runtime"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/geocode"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/handlers"
	"github.com/beautyon-app/beautyon/services/discovery-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "discovery-service")
	port, err := config.Port("PORT", "8086")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("redis url parse failed", "err", err)
			panic(err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	repo := storage.NewRepository(pool)
	geocoder := geocode.New(rdb, logger, geocode.Config{
		BaseURL:  config.String("GEOCODE_API_BASE_URL", ""),
		CacheTTL: config.Duration("GEOCODE_CACHE_TTL", 24*time.Hour),
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
	)
	h := handlers.New(repo, geocoder, logger)
	h.Register(mux)

	rateLimitRequests := config.Int("RATE_LIMIT_REQUESTS", 300)
	rateLimitWindow := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	var rateLimitMW httpx.Middleware
	if rdb != nil {
		limiter := httpx.NewRedisRateLimiter(rdb, rateLimitRequests, rateLimitWindow, service)
		rateLimitMW = limiter.Middleware(logger, true)
		logger.Info("rate limiting enabled (redis)", "requests", rateLimitRequests, "window", rateLimitWindow)
	} else {
		rateLimitMW = httpx.NewRateLimiter(rateLimitRequests, rateLimitWindow).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "requests", rateLimitRequests, "window", rateLimitWindow)
	}

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithPermissiveCORS,
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "discovery")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
