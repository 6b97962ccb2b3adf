// Package payment wraps the hosted checkout provider. Only the operations the
// booking flow needs are exposed; provider types do not leak past this package.
package payment

import (
	"context"
	"net/http"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/apperror"
)

var (
	ErrInvalidSignature   = apperror.New(http.StatusBadRequest, "invalid webhook signature")
	ErrSessionNotFound    = apperror.New(http.StatusNotFound, "checkout session not found")
	ErrGatewayUnavailable = apperror.New(http.StatusServiceUnavailable, "payment gateway unavailable, please retry")
)

// CheckoutRequest describes a single-line-item payment session.
type CheckoutRequest struct {
	// IdempotencyKey makes retried creates return the same session.
	IdempotencyKey string
	Reference      string
	Description    string
	Amount         int64
	Currency       string
	Metadata       map[string]string
}

type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// Session is the provider's view of a checkout session at read time.
type Session struct {
	ID          string
	Paid        bool
	AmountTotal int64
	Currency    string
	Metadata    map[string]string
}

type EventType string

const (
	EventCheckoutCompleted      EventType = "checkout.session.completed"
	EventAsyncPaymentSucceeded  EventType = "checkout.session.async_payment_succeeded"
	EventCheckoutSessionExpired EventType = "checkout.session.expired"
)

// WebhookEvent is a verified provider notification. Session is nil for
// events that do not carry a checkout session.
type WebhookEvent struct {
	ID      string
	Type    EventType
	Session *Session
}

// SettlesPayment reports whether the event means money was captured.
func (e *WebhookEvent) SettlesPayment() bool {
	if e.Session == nil {
		return false
	}
	switch e.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded:
		return e.Session.Paid
	}
	return false
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	// VerifyWebhook verifies the signature header before decoding the payload.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
