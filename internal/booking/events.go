package booking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
)

func newEvent(t notification.EventType, b *Booking, reason string, at time.Time) notification.Event {
	return notification.Event{
		Type:       t,
		Version:    1,
		BookingID:  b.ID,
		SpotID:     b.SpotID,
		RenterID:   b.RenterID,
		StartDate:  FormatDate(b.StartDate),
		EndDate:    FormatDate(b.EndDate),
		Status:     string(b.Status),
		Reason:     reason,
		OccurredAt: at.UTC(),
	}
}

// notify publishes e and only logs on failure; the booking change is already committed.
func notify(ctx context.Context, n notification.Notifier, e notification.Event) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, e); err != nil {
		logger.Warn("notification failed",
			zap.String("event", string(e.Type)),
			zap.String("booking_id", e.BookingID),
			zap.Error(err),
		)
	}
}

func eventFor(s Status) (notification.EventType, bool) {
	switch s {
	case StatusConfirmed:
		return notification.BookingConfirmed, true
	case StatusCancelled:
		return notification.BookingCancelled, true
	case StatusCompleted:
		return notification.BookingCompleted, true
	}
	return "", false
}
