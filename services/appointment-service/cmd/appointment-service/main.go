package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/meetsync/libs/clock"
	"github.com/md-rashed-zaman/meetsync/libs/config"
	"github.com/md-rashed-zaman/meetsync/libs/db"
	"github.com/md-rashed-zaman/meetsync/libs/httpx"
	"github.com/md-rashed-zaman/meetsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/meetsync/libs/otel"
	"github.com/md-rashed-zaman/meetsync/libs/runtime"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/coordinator"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/handlers"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/monitor"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/notify"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/outbox"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/signaling"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/storage"
	"github.com/md-rashed-zaman/meetsync/services/appointment-service/internal/watch"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
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

	repo := storage.NewAppointmentRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	dispatcher := notify.NewOutboxDispatcher(pool, outboxRepo, logger)

	provider, err := signaling.NewProvider(config.String("SIGNALING_GRPC_ADDR", ""))
	if err != nil {
		logger.Error("signaling provider init failed; rooms disabled", "err", err)
		provider = nil
	}

	hub := watch.NewHub()
	clk := clock.NewSystem()
	coord := coordinator.New(repo, dispatcher, provider, clk, logger, hub.Publish)

	grace := time.Duration(config.Int("GRACE_WINDOW_SECONDS", 120)) * time.Second
	tickInterval := time.Duration(config.Int("TICK_INTERVAL_MS", 1000)) * time.Millisecond

	// Server-side sweep catches appointments nobody has a view open on.
	sweeper := monitor.NewWorker(repo, coord, clk, logger, monitor.Config{
		Interval:  time.Duration(config.Int("MONITOR_INTERVAL_MS", 1000)) * time.Millisecond,
		Grace:     grace,
		BatchSize: config.Int("MONITOR_BATCH_SIZE", 50),
	})
	go sweeper.Run(ctx)

	handler := handlers.NewAppointmentHandler(
		repo, outboxRepo, coord, hub, clk, logger,
		tickInterval,
		config.Bool("AUTO_CONFIRM", true),
	)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)

	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 60)
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	// Only the unauthenticated booking surface is rate limited.
	public := func(h http.HandlerFunc) http.Handler {
		return rateLimitMW(h)
	}
	mux.Handle("/api/v1/public/slots", public(handler.Slots))
	mux.Handle("/api/v1/public/book", public(handler.Book))
	mux.HandleFunc("/api/v1/appointments", handler.List)
	mux.HandleFunc("/api/v1/appointments/get", handler.Get)
	mux.HandleFunc("/api/v1/appointments/confirm", handler.Confirm)
	mux.HandleFunc("/api/v1/appointments/join", handler.Join)
	mux.HandleFunc("/api/v1/appointments/decline", handler.Decline)
	mux.HandleFunc("/api/v1/appointments/watch", handler.Watch)

	bodyLimit := int64(config.Int("MAX_BODY_BYTES", 1<<20))

	// The booking form and the watch stream are browser clients, so the
	// service answers CORS itself. Request timeouts stay off this chain:
	// a blanket timeout would cut every open watch stream.
	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,Idempotency-Key")),
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(bodyLimit),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "appointment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
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
