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
	"github.com/beautyon-app/beautyon/libs/kafkax"
	otelx "github.com/beautyon-app/beautyon/libs/otel"
	"github.com/beautyon-app/beautyon/libs/runtime"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/email"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/handlers"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/outbox"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/payments"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/plan"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/storage"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/subscriptions"
	"github.com/beautyon-app/beautyon/services/billing-service/internal/sweep"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
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

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	prices := plan.PriceTable{
		StarterisPriceID: config.String("STRIPE_PRICE_STARTERIS", ""),
		ProPriceID:       config.String("STRIPE_PRICE_PRO", ""),
		BiznessPriceID:   config.String("STRIPE_PRICE_BIZNESS", ""),
	}
	processor := payments.NewStripeProcessor(config.String("STRIPE_SECRET_KEY", ""))
	subSvc := subscriptions.New(repo, processor, prices, outboxRepo, logger)
	resolver := subscriptions.NewResolver(processor, prices, logger)

	sweeper := sweep.New(repo, outboxRepo, logger, sweep.Config{
		BatchSize:   config.Int("SWEEP_BATCH_SIZE", 200),
		Concurrency: config.Int("SWEEP_CONCURRENCY", 4),
	})
	if config.Bool("SWEEP_ENABLED", true) {
		go sweeper.Run(ctx, config.Duration("SWEEP_INTERVAL", time.Hour))
	}

	sender := email.NewProviderSender(email.ProviderConfig{
		BaseURL:   config.String("EMAIL_API_BASE_URL", ""),
		APIKey:    config.String("EMAIL_API_KEY", ""),
		FromEmail: config.String("EMAIL_FROM_ADDRESS", ""),
		FromName:  config.String("EMAIL_FROM_NAME", "BeautyOn"),
	})
	gate := email.NewGate(repo, sender, outboxRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	h := handlers.New(repo, repo, subSvc, resolver, gate, sweeper, logger, handlers.Config{
		JWTSecret:              config.String("JWT_SECRET", ""),
		InternalToken:          config.String("INTERNAL_API_TOKEN", ""),
		StripeWebhookSecret:    config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookTolerance: config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		DefaultSuccessURL:      config.String("CHECKOUT_SUCCESS_URL", ""),
		DefaultCancelURL:       config.String("CHECKOUT_CANCEL_URL", ""),
		Prices:                 prices,
	})
	h.Register(mux)

	rateLimitRequests := config.Int("RATE_LIMIT_REQUESTS", 120)
	rateLimitWindow := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	var rateLimitMW httpx.Middleware
	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("redis url parse failed", "err", err)
			panic(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
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
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 30*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "billing")
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
