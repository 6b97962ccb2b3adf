package booking

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound          = apperror.New(http.StatusNotFound, "booking not found")
	ErrSpotNotFound      = apperror.New(http.StatusNotFound, "spot not found")
	ErrTxnNotFound       = apperror.New(http.StatusNotFound, "transaction not found")
	ErrRenterNotFound    = apperror.New(http.StatusNotFound, "renter not found")
	ErrInvalidDateRange  = apperror.New(http.StatusBadRequest, "start_date must be before end_date")
	ErrStartDatePast     = apperror.New(http.StatusBadRequest, "cannot book dates in the past")
	ErrInvalidGuests     = apperror.New(http.StatusBadRequest, "guests must be at least 1")
	ErrTooManyGuests     = apperror.New(http.StatusBadRequest, "guests exceed the spot capacity")
	ErrInvalidStatus     = apperror.New(http.StatusBadRequest, "invalid booking status")
	ErrInvalidMetadata   = apperror.New(http.StatusBadRequest, "payment session does not describe a booking")
	ErrPaymentIncomplete = apperror.New(http.StatusBadRequest, "payment has not been completed")
	ErrPermissionDenied  = apperror.New(http.StatusForbidden, "permission denied")
	ErrConflict          = apperror.New(http.StatusConflict, "dates are not available")
	ErrInvalidTransition = apperror.New(http.StatusConflict, "booking status cannot change that way")
	ErrStatusChanged     = apperror.New(http.StatusConflict, "booking status was changed by another request")
	ErrBookingConflict   = apperror.New(http.StatusConflict, "payment received but the dates are no longer available; an operator will follow up")

	// ErrAlreadyProcessed means a booking already exists for the payment reference.
	// Reconciliation treats it as success.
	ErrAlreadyProcessed = errors.New("payment already processed")
)

// DateLayout is the wire format of booking dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	// StatusBlocked is an owner hold; it has no renter payment.
	StatusBlocked Status = "blocked"
)

// BlockingStatuses occupy a spot's dates. Pending requests never do.
var BlockingStatuses = []Status{StatusConfirmed, StatusCompleted, StatusBlocked}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
	StatusBlocked:   {StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusBlocked:
		return st, nil
	}
	return "", ErrInvalidStatus
}

func (s Status) IsBlocking() bool {
	return s == StatusConfirmed || s == StatusCompleted || s == StatusBlocked
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Booking reserves a spot for the half-open date range [StartDate, EndDate).
// Dates are UTC midnights; Cost is in the currency's minor unit.
type Booking struct {
	ID        string
	SpotID    string
	RenterID  string
	StartDate time.Time
	EndDate   time.Time
	Guests    int
	Cost      int64
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *Booking) Nights() int {
	return Nights(b.StartDate, b.EndDate)
}

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionPaid    TransactionStatus = "paid"
	TransactionSettled TransactionStatus = "settled"
	TransactionVoid    TransactionStatus = "void"
)

// TransactionStatusFor returns the ledger status that mirrors a booking status.
func TransactionStatusFor(s Status) TransactionStatus {
	switch s {
	case StatusConfirmed:
		return TransactionPaid
	case StatusCompleted:
		return TransactionSettled
	case StatusCancelled:
		return TransactionVoid
	default:
		return TransactionPending
	}
}

// Transaction is the ledger entry for a booking's payment.
// PaymentRef is the checkout session id and is unique across transactions.
type Transaction struct {
	ID         string
	BookingID  string
	Amount     int64
	Currency   string
	Status     TransactionStatus
	PaymentRef string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Availability is the derived view of a spot over a date range.
type Availability struct {
	SpotID    string
	StartDate time.Time
	EndDate   time.Time
	Available bool
	Blocking  []*Booking
}

// Filter defines parameters for listing bookings.
type Filter struct {
	RenterID string
	SpotID   string
	// OwnerID restricts to bookings on spots owned by this user.
	OwnerID string
	Status  Status
	// From and To select bookings intersecting [From, To).
	From *time.Time
	To   *time.Time
	// EndBefore and CreatedBefore drive the lifecycle sweeps.
	EndBefore     *time.Time
	CreatedBefore *time.Time
	Page          int
	PageSize      int
	// Offset skips rows ahead of the page.
	Offset    int
	SortOrder string
}

// ParseDate parses a YYYY-MM-DD calendar date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// DateOf truncates t to its UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Nights counts the nights in [start, end).
func Nights(start, end time.Time) int {
	return int(DateOf(end).Sub(DateOf(start)) / (24 * time.Hour))
}

// ValidateRange checks that [start, end) covers at least one night.
func ValidateRange(start, end time.Time) error {
	if !DateOf(start).Before(DateOf(end)) {
		return ErrInvalidDateRange
	}
	return nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share a night.
// A stay ending on the day another begins does not overlap it.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
