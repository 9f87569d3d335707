package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/rxsync/internal/alerts"
	"github.com/lalithlochan/rxsync/internal/api"
	"github.com/lalithlochan/rxsync/internal/circuitbreaker"
	"github.com/lalithlochan/rxsync/internal/metrics"
	"github.com/lalithlochan/rxsync/internal/notify"
	"github.com/lalithlochan/rxsync/internal/redis"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the marketplace and serve the local API",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			return runServe(cmd, role)
		},
	}
	cmd.Flags().String("role", "patient", "Role for the API_TOKEN session (patient, pharmacy, admin)")
	return cmd
}

func runServe(cmd *cobra.Command, role string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting rxsync",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("api_base_url", cfg.APIBaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs the snapshot cache, selection idempotency and the refresh limiter.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, snapshot cache and idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var (
		store       notify.SnapshotStore
		idempotency *redis.IdempotencyService
		limiter     *redis.RateLimiter
	)
	if redisClient != nil {
		defer redisClient.Close()
		store = redis.NewSnapshotCache(redisClient, cfg.SnapshotTTL, logger)
		idempotency = redis.NewIdempotencyService(redisClient, logger)
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RefreshLimit,
			Window: cfg.RefreshWindow,
		})
	}

	c, err := newCore(cfg, logger, store)
	if err != nil {
		return err
	}

	sender, routes, breakers := alertSenders(ctx, cfg, logger)
	dispatcher := alerts.NewDispatcher(sender, routes, alerts.Config{}, logger)
	watcher := alerts.NewWatcher(dispatcher, logger)
	c.prescriptions.Subscribe(watcher.OnTransition)

	c.bindSession(ctx, func() {
		c.aggregator.Subscribe(watcher.OnSnapshot)
	}, watcher.Reset)

	go dispatcher.Start(ctx)
	c.aggregator.Start(ctx)

	if cfg.APIToken != "" {
		if err := c.login(cfg.APIToken, role); err != nil {
			return err
		}
	} else {
		logger.Info("no API_TOKEN set, waiting for POST /v1/session")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, c.session, c.aggregator, c.tracker, c.prescriptions).
		WithBreakers(append([]*circuitbreaker.CircuitBreaker{c.breaker}, breakers...)...)
	if idempotency != nil {
		handler.WithIdempotency(idempotency)
	}
	handler.Mount(r, limiter)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")

		c.aggregator.Stop()

		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		if done := c.aggregator.Done(); done != nil {
			select {
			case <-done:
			case <-shutdownCtx.Done():
			}
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
