package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/payment"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/metrics"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
)

type reconcileFixture struct {
	repo     *memRepo
	gateway  *fakeGateway
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	spot     *spot.Spot
	coord    *Coordinator
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		repo:     newMemRepo(),
		gateway:  newFakeGateway(),
		notifier: &recordingNotifier{},
		metrics:  metrics.NewNop(),
		spot: &spot.Spot{
			ID:            uuid.NewString(),
			OwnerID:       uuid.NewString(),
			Name:          "Lakeside pitch",
			PricePerNight: 50,
			Capacity:      4,
		},
	}
	f.coord = NewCoordinator(
		f.repo,
		NewAvailabilityChecker(f.repo),
		f.gateway,
		memSpots{f.spot.ID: f.spot},
		f.notifier,
		f.metrics,
		CoordinatorConfig{Currency: "usd", FeePercent: 10},
	)
	f.coord.now = fixedClock("2025-05-01T12:00:00Z")
	return f
}

func (f *reconcileFixture) intent(renterID, start, end string) *Intent {
	cost, fee, total := Price(f.spot.PricePerNight, Nights(date(start), date(end)), 10)
	return &Intent{
		SpotID:    f.spot.ID,
		RenterID:  renterID,
		StartDate: date(start),
		EndDate:   date(end),
		Guests:    2,
		Cost:      cost,
		Fee:       fee,
		Total:     total,
	}
}

func (f *reconcileFixture) outcome(name string) float64 {
	return testutil.ToFloat64(f.metrics.ReconciliationsTotal.WithLabelValues(name))
}

func TestReconcileHappyPath(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()
	renterID := uuid.NewString()

	res, err := f.coord.Checkout(ctx, CheckoutRequest{
		SpotID:    f.spot.ID,
		RenterID:  renterID,
		StartDate: date("2025-06-01"),
		EndDate:   date("2025-06-05"),
		Guests:    2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(200), res.Intent.Cost)
	assert.Equal(t, int64(220), res.Intent.Total)
	assert.NotEmpty(t, res.RedirectURL)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, int64(220), req.Amount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, f.spot.ID, req.Metadata["spot_id"])
	assert.NotEmpty(t, req.IdempotencyKey)

	bookings, _ := f.repo.count()
	assert.Zero(t, bookings, "checkout must not hold dates")

	f.gateway.pay(res.SessionID)

	b, created, err := f.coord.HandleWebhook(ctx, []byte(res.SessionID), validSignature)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, int64(200), b.Cost)
	assert.Equal(t, renterID, b.RenterID)

	txn, err := f.repo.GetTransaction(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(220), txn.Amount)
	assert.Equal(t, TransactionPaid, txn.Status)
	assert.Equal(t, res.SessionID, txn.PaymentRef)
	assert.Equal(t, "usd", txn.Currency)

	// Redelivered webhook and the success redirect both see the same booking.
	again, created, err := f.coord.HandleWebhook(ctx, []byte(res.SessionID), validSignature)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, b.ID, again.ID)

	viaRedirect, created, err := f.coord.ReconcileSession(ctx, res.SessionID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, b.ID, viaRedirect.ID)

	bookings, txns := f.repo.count()
	assert.Equal(t, 1, bookings)
	assert.Equal(t, 1, txns)

	confirmed := f.notifier.ofType(notification.BookingConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, b.ID, confirmed[0].BookingID)
	assert.Equal(t, "2025-06-01", confirmed[0].StartDate)

	assert.Equal(t, 1.0, f.outcome("created"))
	assert.Equal(t, 2.0, f.outcome("duplicate"))
}

func TestReconcileConcurrentSameSession(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	in := f.intent(uuid.NewString(), "2025-06-01", "2025-06-05")
	f.gateway.addSession("cs_race", in)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				b   *Booking
				c   bool
				err error
			)
			if i%2 == 0 {
				b, c, err = f.coord.HandleWebhook(ctx, []byte("cs_race"), validSignature)
			} else {
				b, c, err = f.coord.ReconcileSession(ctx, "cs_race")
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[b.ID]++
			if c {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1, "every caller must see the same booking")

	bookings, txns := f.repo.count()
	assert.Equal(t, 1, bookings)
	assert.Equal(t, 1, txns)
	assert.Len(t, f.notifier.ofType(notification.BookingConfirmed), 1)
}

func TestReconcileNoDoubleBooking(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	const renters = 10
	for i := 0; i < renters; i++ {
		// Every range covers the night of 2025-06-03.
		in := f.intent(uuid.NewString(), fmt.Sprintf("2025-06-%02d", 1+i%3), "2025-06-06")
		f.gateway.addSession(fmt.Sprintf("cs_%d", i), in)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		other     []error
	)
	for i := 0; i < renters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := f.coord.ReconcileSession(ctx, fmt.Sprintf("cs_%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrBookingConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, renters-1, conflicts)
	assert.Equal(t, float64(renters-1), testutil.ToFloat64(f.metrics.PaymentConflictsTotal))

	bookings, txns := f.repo.count()
	assert.Equal(t, 1, bookings)
	assert.Equal(t, 1, txns)
}

func TestReconcileConflictWithOwnerBlock(t *testing.T) {
	f := newReconcileFixture(t)
	ctx := context.Background()

	in := f.intent(uuid.NewString(), "2025-06-01", "2025-06-05")
	f.gateway.addSession("cs_late", in)

	// The owner blocked the dates after checkout but before payment landed.
	f.repo.insert(Booking{SpotID: f.spot.ID, RenterID: f.spot.OwnerID, StartDate: date("2025-06-04"), EndDate: date("2025-06-10"), Status: StatusBlocked})

	_, _, err := f.coord.ReconcileSession(ctx, "cs_late")
	assert.ErrorIs(t, err, ErrBookingConflict)

	_, err = f.repo.GetByPaymentRef(ctx, "cs_late")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PaymentConflictsTotal))
	assert.Empty(t, f.notifier.ofType(notification.BookingConfirmed))
}

func TestReconcileRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unpaid session", func(t *testing.T) {
		f := newReconcileFixture(t)
		res, err := f.coord.Checkout(ctx, CheckoutRequest{
			SpotID: f.spot.ID, RenterID: uuid.NewString(),
			StartDate: date("2025-06-01"), EndDate: date("2025-06-02"), Guests: 1,
		})
		require.NoError(t, err)

		_, _, err = f.coord.ReconcileSession(ctx, res.SessionID)
		assert.ErrorIs(t, err, ErrPaymentIncomplete)
		bookings, _ := f.repo.count()
		assert.Zero(t, bookings)
	})

	t.Run("metadata without an intent", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.gateway.sessions["cs_foreign"] = &payment.Session{ID: "cs_foreign", Paid: true, Metadata: map[string]string{"order": "42"}}

		_, _, err := f.coord.ReconcileSession(ctx, "cs_foreign")
		assert.ErrorIs(t, err, ErrInvalidMetadata)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newReconcileFixture(t)
		_, _, err := f.coord.ReconcileSession(ctx, "cs_missing")
		assert.ErrorIs(t, err, payment.ErrSessionNotFound)
	})

	t.Run("gateway down", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.gateway.retrieveErr = payment.ErrGatewayUnavailable
		_, _, err := f.coord.ReconcileSession(ctx, "cs_any")
		assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	})

	t.Run("bad signature", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.gateway.addSession("cs_sig", f.intent(uuid.NewString(), "2025-06-01", "2025-06-02"))
		_, _, err := f.coord.HandleWebhook(ctx, []byte("cs_sig"), "t=1,v1=forged")
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
		bookings, _ := f.repo.count()
		assert.Zero(t, bookings)
	})

	t.Run("unpaid completion is acknowledged", func(t *testing.T) {
		f := newReconcileFixture(t)
		res, err := f.coord.Checkout(ctx, CheckoutRequest{
			SpotID: f.spot.ID, RenterID: uuid.NewString(),
			StartDate: date("2025-06-01"), EndDate: date("2025-06-02"), Guests: 1,
		})
		require.NoError(t, err)

		b, created, err := f.coord.HandleWebhook(ctx, []byte(res.SessionID), validSignature)
		require.NoError(t, err)
		assert.Nil(t, b)
		assert.False(t, created)
		bookings, _ := f.repo.count()
		assert.Zero(t, bookings)
	})

	t.Run("other event types are acknowledged", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.gateway.eventType = payment.EventCheckoutSessionExpired
		f.gateway.addSession("cs_expired", f.intent(uuid.NewString(), "2025-06-01", "2025-06-02"))

		b, created, err := f.coord.HandleWebhook(ctx, []byte("cs_expired"), validSignature)
		require.NoError(t, err)
		assert.Nil(t, b)
		assert.False(t, created)
		bookings, _ := f.repo.count()
		assert.Zero(t, bookings)
	})
}

func TestReconcileSurvivesNotifierFailure(t *testing.T) {
	f := newReconcileFixture(t)
	f.notifier.err = errors.New("broker unreachable")
	f.gateway.addSession("cs_ok", f.intent(uuid.NewString(), "2025-06-01", "2025-06-03"))

	b, created, err := f.coord.ReconcileSession(context.Background(), "cs_ok")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusConfirmed, b.Status)
}

func TestCheckoutValidation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(f *reconcileFixture, r *CheckoutRequest)
		wantErr error
	}{
		{"unknown spot", func(_ *reconcileFixture, r *CheckoutRequest) { r.SpotID = uuid.NewString() }, ErrSpotNotFound},
		{"empty range", func(_ *reconcileFixture, r *CheckoutRequest) { r.EndDate = r.StartDate }, ErrInvalidDateRange},
		{"past dates", func(_ *reconcileFixture, r *CheckoutRequest) {
			r.StartDate, r.EndDate = date("2025-04-01"), date("2025-04-03")
		}, ErrStartDatePast},
		{"no guests", func(_ *reconcileFixture, r *CheckoutRequest) { r.Guests = 0 }, ErrInvalidGuests},
		{"over capacity", func(_ *reconcileFixture, r *CheckoutRequest) { r.Guests = 5 }, ErrTooManyGuests},
		{"dates taken", func(f *reconcileFixture, _ *CheckoutRequest) {
			f.repo.insert(Booking{SpotID: f.spot.ID, StartDate: date("2025-06-02"), EndDate: date("2025-06-03"), Status: StatusConfirmed})
		}, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t)
			req := CheckoutRequest{
				SpotID:    f.spot.ID,
				RenterID:  uuid.NewString(),
				StartDate: date("2025-06-01"),
				EndDate:   date("2025-06-05"),
				Guests:    2,
			}
			tt.mutate(f, &req)

			_, err := f.coord.Checkout(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.gateway.requests, "no session may be opened")
		})
	}
}

func TestReconcileRecordsChargedAmount(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.Get()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(prev) })

	f := newReconcileFixture(t)
	in := f.intent(uuid.NewString(), "2025-06-01", "2025-06-03")
	f.gateway.sessions["cs_discount"] = &payment.Session{ID: "cs_discount", Paid: true, AmountTotal: 99, Currency: "usd", Metadata: in.Metadata()}

	b, created, err := f.coord.ReconcileSession(context.Background(), "cs_discount")
	require.NoError(t, err)
	assert.True(t, created)

	txn, err := f.repo.GetTransaction(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), txn.Amount)
	assert.Equal(t, in.Cost, b.Cost)

	warned := logs.FilterMessage("charged amount differs from the quoted total").All()
	require.Len(t, warned, 1)
	fields := warned[0].ContextMap()
	assert.Equal(t, int64(99), fields["charged"])
	assert.Equal(t, in.Total, fields["quoted"])
	assert.Equal(t, "cs_discount", fields["session_id"])
}

func TestPayForPendingRequest(t *testing.T) {
	ctx := context.Background()
	renterID := uuid.NewString()

	seed := func(f *reconcileFixture) *Booking {
		return f.repo.insert(Booking{
			SpotID:    f.spot.ID,
			RenterID:  renterID,
			StartDate: date("2025-06-01"),
			EndDate:   date("2025-06-05"),
			Guests:    2,
			Cost:      200,
			Status:    StatusPending,
		})
	}

	t.Run("payment confirms the request", func(t *testing.T) {
		f := newReconcileFixture(t)
		pending := seed(f)

		res, err := f.coord.CheckoutBooking(ctx, pending.ID, renterID)
		require.NoError(t, err)
		assert.Equal(t, int64(220), res.Intent.Total)
		require.Len(t, f.gateway.requests, 1)
		assert.Equal(t, pending.ID, f.gateway.requests[0].Metadata["booking_id"])
		assert.Equal(t, int64(220), f.gateway.requests[0].Amount)

		f.gateway.pay(res.SessionID)
		b, created, err := f.coord.HandleWebhook(ctx, []byte(res.SessionID), validSignature)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, pending.ID, b.ID)
		assert.Equal(t, StatusConfirmed, b.Status)

		txn, err := f.repo.GetTransaction(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(220), txn.Amount)
		assert.Equal(t, res.SessionID, txn.PaymentRef)

		again, created, err := f.coord.ReconcileSession(ctx, res.SessionID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, pending.ID, again.ID)

		bookings, txns := f.repo.count()
		assert.Equal(t, 1, bookings)
		assert.Equal(t, 1, txns)
		assert.Len(t, f.notifier.ofType(notification.BookingConfirmed), 1)
	})

	t.Run("only the renter pays", func(t *testing.T) {
		f := newReconcileFixture(t)
		pending := seed(f)
		_, err := f.coord.CheckoutBooking(ctx, pending.ID, uuid.NewString())
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.Empty(t, f.gateway.requests)
	})

	t.Run("only pending requests are payable", func(t *testing.T) {
		f := newReconcileFixture(t)
		b := seed(f)
		_, err := f.repo.UpdateStatus(ctx, b.ID, StatusPending, StatusCancelled)
		require.NoError(t, err)

		_, err = f.coord.CheckoutBooking(ctx, b.ID, renterID)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, f.gateway.requests)
	})

	t.Run("dates taken since the request", func(t *testing.T) {
		f := newReconcileFixture(t)
		pending := seed(f)
		f.repo.insert(Booking{SpotID: f.spot.ID, StartDate: date("2025-06-04"), EndDate: date("2025-06-06"), Status: StatusConfirmed})

		_, err := f.coord.CheckoutBooking(ctx, pending.ID, renterID)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("request cancelled while paying", func(t *testing.T) {
		f := newReconcileFixture(t)
		pending := seed(f)
		res, err := f.coord.CheckoutBooking(ctx, pending.ID, renterID)
		require.NoError(t, err)

		_, err = f.repo.UpdateStatus(ctx, pending.ID, StatusPending, StatusCancelled)
		require.NoError(t, err)
		f.gateway.pay(res.SessionID)

		_, _, err = f.coord.ReconcileSession(ctx, res.SessionID)
		assert.ErrorIs(t, err, ErrBookingConflict)
		got, err := f.repo.GetByID(ctx, pending.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		_, txns := f.repo.count()
		assert.Zero(t, txns)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PaymentConflictsTotal))
	})
}
