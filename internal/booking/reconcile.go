package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/payment"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
)

// Reconciliation outcomes, as recorded in metrics.
const (
	outcomeCreated    = "created"
	outcomeDuplicate  = "duplicate"
	outcomeConflict   = "conflict"
	outcomeIncomplete = "incomplete"
	outcomeInvalid    = "invalid"
	outcomeError      = "error"
)

type CoordinatorConfig struct {
	Currency   string
	FeePercent int64
}

type CheckoutRequest struct {
	SpotID    string
	RenterID  string
	StartDate time.Time
	EndDate   time.Time
	Guests    int
}

type CheckoutResult struct {
	SessionID   string
	RedirectURL string
	Intent      *Intent
}

// Coordinator turns paid checkout sessions into confirmed bookings. The
// webhook and the success redirect share one code path; whichever arrives
// first creates the booking and the other observes it.
type Coordinator struct {
	repo     Repository
	checker  *AvailabilityChecker
	gateway  payment.Gateway
	spots    spotReader
	notifier notification.Notifier
	metrics  *metrics.Metrics
	cfg      CoordinatorConfig
	now      func() time.Time
}

func NewCoordinator(
	repo Repository,
	checker *AvailabilityChecker,
	gateway payment.Gateway,
	spots spotReader,
	notifier notification.Notifier,
	m *metrics.Metrics,
	cfg CoordinatorConfig,
) *Coordinator {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Coordinator{
		repo:     repo,
		checker:  checker,
		gateway:  gateway,
		spots:    spots,
		notifier: notifier,
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Checkout prices the stay and opens a payment session carrying the booking intent.
// No booking row exists until the payment is reconciled.
func (c *Coordinator) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	sp, err := getSpot(ctx, c.spots, req.SpotID)
	if err != nil {
		return nil, err
	}
	if err := validateStay(sp, req.StartDate, req.EndDate, req.Guests, c.now()); err != nil {
		return nil, err
	}

	available, err := c.checker.IsAvailable(ctx, req.SpotID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrConflict
	}

	nights := Nights(req.StartDate, req.EndDate)
	cost, fee, total := Price(sp.PricePerNight, nights, c.cfg.FeePercent)
	intent := &Intent{
		SpotID:    req.SpotID,
		RenterID:  req.RenterID,
		StartDate: DateOf(req.StartDate),
		EndDate:   DateOf(req.EndDate),
		Guests:    req.Guests,
		Cost:      cost,
		Fee:       fee,
		Total:     total,
	}

	return c.openSession(ctx, sp.Name, intent)
}

// CheckoutBooking opens a payment session for the renter's own pending
// booking. The booking is confirmed when that payment is reconciled.
func (c *Coordinator) CheckoutBooking(ctx context.Context, bookingID, renterID string) (*CheckoutResult, error) {
	b, err := c.repo.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.RenterID != renterID {
		return nil, ErrPermissionDenied
	}
	if b.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	sp, err := getSpot(ctx, c.spots, b.SpotID)
	if err != nil {
		return nil, err
	}
	if err := validateStay(sp, b.StartDate, b.EndDate, b.Guests, c.now()); err != nil {
		return nil, err
	}

	available, err := c.checker.IsAvailable(ctx, b.SpotID, b.StartDate, b.EndDate)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrConflict
	}

	// The price was fixed when the request was made.
	cost, fee, total := WithFee(b.Cost, c.cfg.FeePercent)
	intent := &Intent{
		BookingID: b.ID,
		SpotID:    b.SpotID,
		RenterID:  b.RenterID,
		StartDate: b.StartDate,
		EndDate:   b.EndDate,
		Guests:    b.Guests,
		Cost:      cost,
		Fee:       fee,
		Total:     total,
	}
	return c.openSession(ctx, sp.Name, intent)
}

func (c *Coordinator) openSession(ctx context.Context, spotName string, intent *Intent) (*CheckoutResult, error) {
	nights := Nights(intent.StartDate, intent.EndDate)
	sess, err := c.gateway.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		IdempotencyKey: uuid.NewString(),
		Reference:      intent.RenterID,
		Description:    fmt.Sprintf("%s, %d night(s) from %s", spotName, nights, FormatDate(intent.StartDate)),
		Amount:         intent.Total,
		Currency:       c.cfg.Currency,
		Metadata:       intent.Metadata(),
	})
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{SessionID: sess.ID, RedirectURL: sess.RedirectURL, Intent: intent}, nil
}

// ReconcileSession is the success-redirect path. The bool reports whether
// this call created the booking.
func (c *Coordinator) ReconcileSession(ctx context.Context, sessionID string) (*Booking, bool, error) {
	sess, err := c.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, false, err
	}
	return c.reconcile(ctx, sess)
}

// HandleWebhook verifies and reconciles a provider event. Events that do not
// settle a payment are acknowledged with a nil booking.
func (c *Coordinator) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Booking, bool, error) {
	ev, err := c.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return nil, false, err
	}

	if !ev.SettlesPayment() {
		logger.Debug("ignoring webhook event", zap.String("event_id", ev.ID), zap.String("type", string(ev.Type)))
		return nil, false, nil
	}
	return c.reconcile(ctx, ev.Session)
}

func (c *Coordinator) reconcile(ctx context.Context, sess *payment.Session) (*Booking, bool, error) {
	log := logger.With(zap.String("session_id", sess.ID))

	if !sess.Paid {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeIncomplete).Inc()
		return nil, false, ErrPaymentIncomplete
	}

	intent, err := DecodeIntent(sess.Metadata)
	if err != nil {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeInvalid).Inc()
		log.Warn("paid session without a usable booking intent", zap.Error(err))
		return nil, false, err
	}

	if existing, err := c.repo.GetByPaymentRef(ctx, sess.ID); err == nil {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeDuplicate).Inc()
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, false, err
	}

	available, err := c.checker.IsAvailable(ctx, intent.SpotID, intent.StartDate, intent.EndDate)
	if err != nil {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, false, err
	}
	if !available {
		return c.resolveConflict(ctx, log, sess.ID, intent)
	}

	currency := sess.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	// The ledger records what was charged.
	amount := intent.Total
	if sess.AmountTotal != 0 && sess.AmountTotal != intent.Total {
		log.Warn("charged amount differs from the quoted total",
			zap.Int64("charged", sess.AmountTotal),
			zap.Int64("quoted", intent.Total),
		)
		amount = sess.AmountTotal
	}
	txn := &Transaction{
		Amount:     amount,
		Currency:   currency,
		Status:     TransactionPaid,
		PaymentRef: sess.ID,
	}

	var b *Booking
	if intent.BookingID != "" {
		b, err = c.repo.ConfirmWithTransaction(ctx, intent.BookingID, txn)
	} else {
		b = intent.Booking(StatusConfirmed)
		err = c.repo.CreateWithTransaction(ctx, b, txn)
	}
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		existing, err := c.repo.GetByPaymentRef(ctx, sess.ID)
		if err != nil {
			c.metrics.ReconciliationsTotal.WithLabelValues(outcomeError).Inc()
			return nil, false, err
		}
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeDuplicate).Inc()
		return existing, false, nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStatusChanged), errors.Is(err, ErrNotFound):
		// A pending booking that expired or was cancelled mid-payment is
		// as unbookable as taken dates.
		return c.resolveConflict(ctx, log, sess.ID, intent)
	case err != nil:
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeError).Inc()
		return nil, false, err
	}

	c.metrics.ReconciliationsTotal.WithLabelValues(outcomeCreated).Inc()
	log.Info("booking confirmed", zap.String("booking_id", b.ID), zap.Int64("amount", txn.Amount))
	notify(ctx, c.notifier, newEvent(notification.BookingConfirmed, b, "", c.now()))
	return b, true, nil
}

// resolveConflict handles dates found taken. A concurrent reconciliation of
// the same session may have taken them, which is a duplicate, not a conflict.
// Anything else is a paid session whose dates could not be booked; it needs
// an operator decision, so it is logged at error level.
func (c *Coordinator) resolveConflict(ctx context.Context, log *zap.Logger, sessionID string, in *Intent) (*Booking, bool, error) {
	if existing, err := c.repo.GetByPaymentRef(ctx, sessionID); err == nil {
		c.metrics.ReconciliationsTotal.WithLabelValues(outcomeDuplicate).Inc()
		return existing, false, nil
	}

	c.metrics.ReconciliationsTotal.WithLabelValues(outcomeConflict).Inc()
	c.metrics.PaymentConflictsTotal.Inc()
	log.Error("paid checkout conflicts with existing bookings",
		zap.String("spot_id", in.SpotID),
		zap.String("renter_id", in.RenterID),
		zap.String("start_date", FormatDate(in.StartDate)),
		zap.String("end_date", FormatDate(in.EndDate)),
		zap.Int64("total", in.Total),
	)
	return nil, false, ErrBookingConflict
}
