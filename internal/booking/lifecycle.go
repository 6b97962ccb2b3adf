package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
)

const sweepBatchSize = 200

// Lifecycle advances bookings whose status follows from the calendar.
// It is the only writer of completed and of expiry cancellations. Every
// transition is a compare-and-set, so overlapping sweeps are harmless.
type Lifecycle struct {
	repo     Repository
	notifier notification.Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewLifecycle(repo Repository, notifier notification.Notifier, m *metrics.Metrics, now func() time.Time) *Lifecycle {
	if m == nil {
		m = metrics.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{repo: repo, notifier: notifier, metrics: m, now: now}
}

// SweepCompletions completes confirmed stays whose checkout day has passed.
func (l *Lifecycle) SweepCompletions(ctx context.Context) (int, error) {
	today := DateOf(l.now())
	return l.sweep(ctx, "completions", Filter{
		Status:    StatusConfirmed,
		EndBefore: &today,
	}, StatusCompleted, notification.BookingCompleted, "")
}

// SweepExpiredPending cancels pending bookings created more than maxAge ago.
func (l *Lifecycle) SweepExpiredPending(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("pending expiry must be positive, got %s", maxAge)
	}
	cutoff := l.now().Add(-maxAge)
	return l.sweep(ctx, "expired_pending", Filter{
		Status:        StatusPending,
		CreatedBefore: &cutoff,
	}, StatusCancelled, notification.BookingCancelled, "expired")
}

func (l *Lifecycle) sweep(ctx context.Context, name string, filter Filter, to Status, event notification.EventType, reason string) (int, error) {
	filter.Page = 1
	filter.PageSize = sweepBatchSize
	filter.SortOrder = "ASC"

	log := logger.With(zap.String("sweep", name))
	total := 0

	// Transitioned rows leave the filter, so each pass re-reads the first page.
	// Rows that failed to move stay in it; Offset steps past them.
	for {
		items, _, err := l.repo.List(ctx, filter)
		if err != nil {
			return total, fmt.Errorf("list bookings for %s sweep: %w", name, err)
		}

		moved := 0
		for _, b := range items {
			if err := ctx.Err(); err != nil {
				return total + moved, err
			}

			updated, err := l.repo.UpdateStatus(ctx, b.ID, b.Status, to)
			if err != nil {
				if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrNotFound) {
					log.Debug("booking changed during sweep", zap.String("booking_id", b.ID))
					continue
				}
				log.Error("sweep transition failed", zap.String("booking_id", b.ID), zap.Error(err))
				filter.Offset++
				continue
			}

			moved++
			l.metrics.LifecycleTransitionsTotal.WithLabelValues(string(to)).Inc()
			notify(ctx, l.notifier, newEvent(event, updated, reason, l.now()))
		}
		total += moved

		if len(items) < filter.PageSize {
			break
		}
	}

	if total > 0 {
		log.Info("sweep finished", zap.Int("transitioned", total))
	}
	return total, nil
}
