package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
)

// LogNotifier writes events to the application log. Used when no broker is configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	logger.Info("notification",
		zap.String("event", string(e.Type)),
		zap.String("booking_id", e.BookingID),
		zap.String("renter_id", e.RenterID),
		zap.String("start_date", e.StartDate),
		zap.String("end_date", e.EndDate),
	)
	return nil
}
