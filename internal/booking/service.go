package booking

import (
	"context"
	"errors"
	"time"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
)

type CreateRequest struct {
	SpotID    string
	RenterID  string
	StartDate time.Time
	EndDate   time.Time
	Guests    int
}

type BlockRequest struct {
	SpotID    string
	OwnerID   string
	StartDate time.Time
	EndDate   time.Time
}

type Service interface {
	// Create records a pending request-to-book. Pending bookings hold no dates.
	Create(ctx context.Context, req CreateRequest) (*Booking, error)
	// Block places an owner hold on a spot's dates.
	Block(ctx context.Context, req BlockRequest) (*Booking, error)
	// GetByID returns the booking and its ledger entry, if any.
	GetByID(ctx context.Context, id string, userID string, isSysAdmin bool) (*Booking, *Transaction, error)
	List(ctx context.Context, filter Filter) ([]*Booking, int, error)
	UpdateStatus(ctx context.Context, id string, to Status, userID string, isSysAdmin bool) (*Booking, error)
	Cancel(ctx context.Context, id string, userID string, isSysAdmin bool) (*Booking, error)
	Availability(ctx context.Context, spotID string, start, end time.Time) (*Availability, error)
}

type spotReader interface {
	GetByID(ctx context.Context, id string) (*spot.Spot, error)
}

type service struct {
	repo     Repository
	checker  *AvailabilityChecker
	spots    spotReader
	notifier notification.Notifier
	now      func() time.Time
}

func NewService(repo Repository, checker *AvailabilityChecker, spots spotReader, notifier notification.Notifier) Service {
	return &service{
		repo:     repo,
		checker:  checker,
		spots:    spots,
		notifier: notifier,
		now:      time.Now,
	}
}

func (s *service) getSpot(ctx context.Context, id string) (*spot.Spot, error) {
	return getSpot(ctx, s.spots, id)
}

func getSpot(ctx context.Context, spots spotReader, id string) (*spot.Spot, error) {
	sp, err := spots.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, spot.ErrNotFound) {
			return nil, ErrSpotNotFound
		}
		return nil, err
	}
	return sp, nil
}

// validateStay checks the range, start date and party size against the spot.
func validateStay(sp *spot.Spot, start, end time.Time, guests int, today time.Time) error {
	if err := ValidateRange(start, end); err != nil {
		return err
	}
	if DateOf(start).Before(DateOf(today)) {
		return ErrStartDatePast
	}
	if guests < 1 {
		return ErrInvalidGuests
	}
	if guests > sp.Capacity {
		return ErrTooManyGuests
	}
	return nil
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	if err := ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	sp, err := s.getSpot(ctx, req.SpotID)
	if err != nil {
		return nil, err
	}
	if err := validateStay(sp, req.StartDate, req.EndDate, req.Guests, s.now()); err != nil {
		return nil, err
	}

	// A request for taken dates could never be confirmed.
	available, err := s.checker.IsAvailable(ctx, req.SpotID, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, ErrConflict
	}

	cost, _, _ := Price(sp.PricePerNight, Nights(req.StartDate, req.EndDate), 0)
	b := &Booking{
		SpotID:    req.SpotID,
		RenterID:  req.RenterID,
		StartDate: DateOf(req.StartDate),
		EndDate:   DateOf(req.EndDate),
		Guests:    req.Guests,
		Cost:      cost,
		Status:    StatusPending,
	}
	if err := s.repo.CreateWithTransaction(ctx, b, nil); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) Block(ctx context.Context, req BlockRequest) (*Booking, error) {
	if err := ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	sp, err := s.getSpot(ctx, req.SpotID)
	if err != nil {
		return nil, err
	}
	if sp.OwnerID != req.OwnerID {
		return nil, ErrPermissionDenied
	}

	b := &Booking{
		SpotID:    req.SpotID,
		RenterID:  req.OwnerID,
		StartDate: DateOf(req.StartDate),
		EndDate:   DateOf(req.EndDate),
		Status:    StatusBlocked,
	}
	if err := s.repo.CreateWithTransaction(ctx, b, nil); err != nil {
		return nil, err
	}
	return b, nil
}

// roles reports whether userID is the booking's renter and whether they own its spot.
func (s *service) roles(ctx context.Context, b *Booking, userID string) (isRenter, isOwner bool, err error) {
	isRenter = b.RenterID == userID
	sp, err := s.getSpot(ctx, b.SpotID)
	if err != nil {
		return false, false, err
	}
	return isRenter, sp.OwnerID == userID, nil
}

func (s *service) GetByID(ctx context.Context, id string, userID string, isSysAdmin bool) (*Booking, *Transaction, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if !isSysAdmin {
		isRenter, isOwner, err := s.roles(ctx, b, userID)
		if err != nil {
			return nil, nil, err
		}
		if !isRenter && !isOwner {
			return nil, nil, ErrPermissionDenied
		}
	}

	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			return b, nil, nil
		}
		return nil, nil, err
	}
	return b, txn, nil
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Booking, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) UpdateStatus(ctx context.Context, id string, to Status, userID string, isSysAdmin bool) (*Booking, error) {
	if _, err := ParseStatus(string(to)); err != nil {
		return nil, err
	}
	// Confirmation follows a reconciled payment and completion follows the
	// calendar. Neither can be requested.
	if to == StatusConfirmed || to == StatusCompleted {
		return nil, ErrInvalidTransition
	}

	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Permission Check Logic:
	// System Admin, spot owner or renter
	isRenter, isOwner, err := s.roles(ctx, b, userID)
	if err != nil {
		return nil, err
	}
	if !isSysAdmin && !isRenter && !isOwner {
		return nil, ErrPermissionDenied
	}

	if !b.Status.CanTransitionTo(to) {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, id, b.Status, to)
	if err != nil {
		return nil, err
	}

	if et, ok := eventFor(to); ok && b.Status != StatusBlocked {
		reason := ""
		if to == StatusCancelled {
			reason = cancelReason(isRenter, isOwner)
		}
		notify(ctx, s.notifier, newEvent(et, updated, reason, s.now()))
	}
	return updated, nil
}

func (s *service) Cancel(ctx context.Context, id string, userID string, isSysAdmin bool) (*Booking, error) {
	return s.UpdateStatus(ctx, id, StatusCancelled, userID, isSysAdmin)
}

func (s *service) Availability(ctx context.Context, spotID string, start, end time.Time) (*Availability, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	if _, err := s.getSpot(ctx, spotID); err != nil {
		return nil, err
	}

	blocking, err := s.checker.FindBlockingBookings(ctx, spotID, start, end)
	if err != nil {
		return nil, err
	}
	return &Availability{
		SpotID:    spotID,
		StartDate: DateOf(start),
		EndDate:   DateOf(end),
		Available: len(blocking) == 0,
		Blocking:  blocking,
	}, nil
}

func cancelReason(isRenter, isOwner bool) string {
	switch {
	case isRenter:
		return "cancelled_by_renter"
	case isOwner:
		return "cancelled_by_owner"
	default:
		return "cancelled_by_admin"
	}
}
