package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
)

// sessionAPI is the slice of the Stripe checkout session client in use.
type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// Timeout bounds a single attempt, not the whole retried call.
	Timeout    time.Duration
	MaxRetries uint64
	RetryBase  time.Duration
}

type StripeGateway struct {
	sessions      sessionAPI
	webhookSecret string
	successURL    string
	cancelURL     string
	timeout       time.Duration
	maxRetries    uint64
	retryBase     time.Duration
	metrics       *metrics.Metrics
}

func NewStripeGateway(cfg StripeConfig, m *metrics.Metrics) *StripeGateway {
	// Retries are driven here so that every attempt is bounded and observed.
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	return newStripeGateway(&session.Client{B: backend, Key: cfg.SecretKey}, cfg, m)
}

func newStripeGateway(api sessionAPI, cfg StripeConfig, m *metrics.Metrics) *StripeGateway {
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &StripeGateway{
		sessions:      api,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		timeout:       cfg.Timeout,
		maxRetries:    cfg.MaxRetries,
		retryBase:     cfg.RetryBase,
		metrics:       m,
	}
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Metadata = make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		params.Metadata[k] = v
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	var s *stripe.CheckoutSession
	err := g.call(ctx, "create_session", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		s, err = g.sessions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{ID: s.ID, RedirectURL: s.URL}, nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}

	var s *stripe.CheckoutSession
	err := g.call(ctx, "retrieve_session", func(ctx context.Context) error {
		params.Context = ctx
		var err error
		s, err = g.sessions.Get(sessionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toSession(s), nil
}

func (g *StripeGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, ErrInvalidSignature.WithCause(err)
	}

	out := &WebhookEvent{ID: event.ID, Type: EventType(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventAsyncPaymentSucceeded, EventCheckoutSessionExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session from event %s: %w", event.ID, err)
		}
		out.Session = toSession(&s)
	}
	return out, nil
}

// call runs fn with a per-attempt timeout, retrying transient failures with
// exponential backoff. Exhausted transient failures surface as ErrGatewayUnavailable.
func (g *StripeGateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	attempts := 0

	backoff := retry.WithMaxRetries(g.maxRetries, retry.NewExponential(g.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		err := fn(attemptCtx)
		if err != nil && isTransient(err) {
			logger.Warn("payment gateway call failed",
				zap.String("operation", op), zap.Int("attempt", attempts), zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	g.metrics.GatewayCallDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())

	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return ErrSessionNotFound.WithCause(err)
	}
	if isTransient(err) {
		return ErrGatewayUnavailable.WithCause(err)
	}
	return fmt.Errorf("payment gateway %s: %w", op, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError
	}
	// Anything else comes from the transport: timeouts, resets, DNS.
	return true
}

func isNotFound(err error) bool {
	var se *stripe.Error
	return errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound
}

func toSession(s *stripe.CheckoutSession) *Session {
	return &Session{
		ID: s.ID,
		Paid: s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
			s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		AmountTotal: s.AmountTotal,
		Currency:    string(s.Currency),
		Metadata:    s.Metadata,
	}
}
