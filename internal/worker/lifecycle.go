// Package worker runs scheduled background jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/lock"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
)

const sweepLockKey = "lifecycle-sweep"

// Sweeper is implemented by booking.Lifecycle.
type Sweeper interface {
	SweepCompletions(ctx context.Context) (int, error)
	SweepExpiredPending(ctx context.Context, maxAge time.Duration) (int, error)
}

type LifecycleConfig struct {
	Schedule      string
	PendingExpiry time.Duration
	// LockTTL bounds a single run. It is also the run's deadline so the
	// lock cannot expire under a job that is still writing.
	LockTTL time.Duration
}

// LifecycleCron runs the lifecycle sweeps on a schedule. With a lock manager
// only one instance sweeps per tick.
type LifecycleCron struct {
	cron    *cron.Cron
	sweeper Sweeper
	locks   *lock.Manager
	cfg     LifecycleConfig
}

// NewLifecycleCron creates the scheduler. locks may be nil.
func NewLifecycleCron(sweeper Sweeper, locks *lock.Manager, cfg LifecycleConfig) *LifecycleCron {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	return &LifecycleCron{
		cron:    cron.New(),
		sweeper: sweeper,
		locks:   locks,
		cfg:     cfg,
	}
}

// Start registers the sweep job and starts the scheduler.
func (w *LifecycleCron) Start() error {
	_, err := w.cron.AddFunc(w.cfg.Schedule, func() {
		w.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule lifecycle sweep %q: %w", w.cfg.Schedule, err)
	}

	w.cron.Start()
	logger.Info("lifecycle sweep scheduled", zap.String("schedule", w.cfg.Schedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (w *LifecycleCron) Stop() {
	<-w.cron.Stop().Done()
	logger.Info("lifecycle sweep stopped")
}

// RunOnce runs both sweeps unless another instance holds the lock.
// It reports whether the sweeps ran.
func (w *LifecycleCron) RunOnce(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.LockTTL)
	defer cancel()

	if w.locks != nil {
		l, err := w.locks.Acquire(ctx, sweepLockKey, w.cfg.LockTTL)
		if errors.Is(err, lock.ErrNotAcquired) {
			logger.Debug("lifecycle sweep skipped, held elsewhere")
			return false
		}
		if err != nil {
			logger.Error("lifecycle sweep lock failed", zap.Error(err))
			return false
		}
		defer func() {
			if err := l.Release(context.Background()); err != nil && !errors.Is(err, lock.ErrNotOwned) {
				logger.Warn("lifecycle sweep unlock failed", zap.Error(err))
			}
		}()
	}

	started := time.Now()

	completed, err := w.sweeper.SweepCompletions(ctx)
	if err != nil {
		logger.Error("completion sweep failed", zap.Error(err))
	}

	expired, err := w.sweeper.SweepExpiredPending(ctx, w.cfg.PendingExpiry)
	if err != nil {
		logger.Error("pending expiry sweep failed", zap.Error(err))
	}

	logger.Info("lifecycle sweep finished",
		zap.Int("completed", completed),
		zap.Int("expired", expired),
		zap.Duration("took", time.Since(started)),
	)
	return true
}
