// Command api serves the health probe consumed at the edge and
// the Prometheus scrape endpoint, the only HTTP surface this core owns —
// the messaging/payment webhook receivers and the admin console sit in
// front of it and are explicitly out of scope.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/pepeccz/atrevete-orchestrator/internal/apihealth"
	"github.com/pepeccz/atrevete-orchestrator/internal/config"
	"github.com/pepeccz/atrevete-orchestrator/pkg/logging"
)

// redisPingAdapter adapts go-redis's Ping, which returns a *redis.StatusCmd,
// to the narrower interface apihealth.Handler expects.
type redisPingAdapter struct {
	client *redis.Client
}

func (a *redisPingAdapter) Ping(ctx context.Context) interface{ Err() error } {
	return a.client.Ping(ctx)
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel).Component("api")
	logger.Info("starting atrevete-orchestrator api", "env", cfg.Env, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		p, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect postgres", "error", err)
			os.Exit(1)
		}
		pool = p
		defer pool.Close()
	} else {
		logger.Warn("DATABASE_URL not set; /health will report postgres as not configured")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	} else {
		logger.Warn("REDIS_URL not set; /health will report redis as not configured")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	var redisPing *redisPingAdapter
	if redisClient != nil {
		redisPing = &redisPingAdapter{redisClient}
	}
	r.Get("/health", apihealth.Handler(pool, redisPing))
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("api server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", "error", err)
	}
	cancel()
}
