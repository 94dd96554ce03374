package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/ai"
	"github.com/lalithlochan/slotwise/internal/api"
	"github.com/lalithlochan/slotwise/internal/app"
	"github.com/lalithlochan/slotwise/internal/config"
	"github.com/lalithlochan/slotwise/internal/metrics"
	"github.com/lalithlochan/slotwise/internal/observ"
	"github.com/lalithlochan/slotwise/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, "server")
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting slotwise server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("scan_trigger", cfg.ScanTrigger),
		zap.Bool("ai_enabled", cfg.AIEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(routerConfig(a)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	if err := startScans(ctx, a, &wg); err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reportPoolSize(ctx, a)
	}()

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = srv.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	// In-flight scans finish their current business before returning.
	wg.Wait()
	logger.Info("server stopped gracefully")
	return nil
}

func routerConfig(a *app.App) api.RouterConfig {
	deps := api.Deps{
		Bookings:      a.Bookings,
		Notifications: a.Repo,
		Transitions:   a.Lifecycle,
		Scanner:       a.Pipeline,
	}
	if a.Producer != nil {
		deps.Enqueuer = a.Producer
	}
	if a.Idempotency != nil {
		deps.Idempotency = a.Idempotency
	}

	checks := []api.Check{{Name: "postgres", Critical: true, Probe: a.DB.Health}}
	if a.Redis != nil {
		checks = append(checks, api.Check{Name: "redis", Probe: a.Redis.Ping})
	} else {
		checks = append(checks, api.Check{Name: "redis", Probe: func(context.Context) error {
			return errors.New("not connected")
		}})
	}

	rc := api.RouterConfig{
		Handler:     api.NewHandler(a.Logger, deps),
		Health:      api.NewHealthHandler(checks, a.Breakers...),
		CORSOrigins: a.Config.CORSOrigins,
		Logger:      a.Logger,
	}
	if a.RateLimiter != nil {
		rc.Limiter = a.RateLimiter
	}
	if a.Estimator != nil {
		rc.Estimate = ai.NewHandler(a.Estimator, a.Logger).HandleEstimate
	}
	return rc
}

// startScans launches the configured scan trigger.
func startScans(ctx context.Context, a *app.App, wg *sync.WaitGroup) error {
	cfg := a.Config
	switch cfg.ScanTrigger {
	case config.TriggerTicker:
		w := worker.New(a.Repo, a.Pipeline, worker.Config{
			Interval:      cfg.ScanInterval,
			RatePerSecond: cfg.ScanRatePerSecond,
		}, a.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	case config.TriggerSQS:
		consumer, err := a.NewConsumer(ctx)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Start(ctx)
		}()
	default:
		a.Logger.Info("background scans disabled")
	}
	return nil
}

func reportPoolSize(ctx context.Context, a *app.App) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		metrics.SetDBConnections(a.DB.Stats())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
