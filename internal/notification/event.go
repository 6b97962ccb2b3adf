// Package notification delivers booking lifecycle events to the external
// notifier (transactional email, review requests).
package notification

import (
	"context"
	"time"
)

type EventType string

// Event types double as AMQP routing keys.
const (
	BookingConfirmed EventType = "booking.confirmed"
	BookingCancelled EventType = "booking.cancelled"
	BookingCompleted EventType = "booking.completed"
)

// Event carries enough booking detail for the notifier to render a message
// without calling back into this service.
type Event struct {
	Type       EventType `json:"event"`
	Version    int       `json:"version"`
	BookingID  string    `json:"booking_id"`
	SpotID     string    `json:"spot_id"`
	RenterID   string    `json:"renter_id"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier publishes events. Callers treat failures as non-fatal.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}
