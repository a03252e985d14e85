// Package worker runs background maintenance loops.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper ends responses whose editing period has passed
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// ExpiryWorker calls the sweeper once at start and then on every tick
type ExpiryWorker struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func NewExpiryWorker(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExpiryWorker{sweeper: sweeper, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled
func (w *ExpiryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("expiry worker started", "interval", w.interval.String())
	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("expiry worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and logs its outcome
func (w *ExpiryWorker) RunOnce(ctx context.Context) {
	n, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("expired stale responses", "count", n)
	} else {
		w.logger.Debug("expiry sweep found nothing")
	}
}
