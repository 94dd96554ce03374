package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BusinessLister enumerates the businesses a periodic sweep visits.
type BusinessLister interface {
	ListBusinessIDs(ctx context.Context) ([]uuid.UUID, error)
}

// Scanner is what the worker and queue consumer drive. *Pipeline implements it.
type Scanner interface {
	ScanBusiness(ctx context.Context, businessID uuid.UUID) (*Report, error)
}

// Worker scans every business on a fixed interval.
type Worker struct {
	lister  BusinessLister
	scanner Scanner
	limiter *rate.Limiter
	config  Config
	logger  *zap.Logger
}

type Config struct {
	Interval      time.Duration
	RatePerSecond float64 // business scans started per second
	Burst         int
}

func New(lister BusinessLister, scanner Scanner, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Minute
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	return &Worker{
		lister:  lister,
		scanner: scanner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		config:  cfg,
		logger:  logger,
	}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Sweep counts one pass over all businesses.
type Sweep struct {
	Scanned int
	Skipped int
	Failed  int
}

// RunOnce scans every business once. One business failing never stops the
// sweep; cancellation does.
func (w *Worker) RunOnce(ctx context.Context) Sweep {
	var sweep Sweep

	ids, err := w.lister.ListBusinessIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list businesses", zap.Error(err))
		return sweep
	}

	start := time.Now()
	for _, id := range ids {
		if err := w.limiter.Wait(ctx); err != nil {
			w.logger.Info("sweep interrupted", zap.Int("scanned", sweep.Scanned))
			return sweep
		}

		report, err := w.scanner.ScanBusiness(ctx, id)
		switch {
		case err != nil:
			sweep.Failed++
			w.logger.Error("business scan failed",
				zap.String("business_id", id.String()),
				zap.Error(err),
			)
		case report.Skipped:
			sweep.Skipped++
		default:
			sweep.Scanned++
		}
	}

	w.logger.Info("sweep finished",
		zap.Int("businesses", len(ids)),
		zap.Int("scanned", sweep.Scanned),
		zap.Int("skipped", sweep.Skipped),
		zap.Int("failed", sweep.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return sweep
}
