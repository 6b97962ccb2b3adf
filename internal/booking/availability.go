package booking

import (
	"context"
	"time"
)

// overlapFinder is the read side of the Repository the checker needs.
type overlapFinder interface {
	ListOverlapping(ctx context.Context, spotID string, start, end time.Time, statuses []Status) ([]*Booking, error)
}

// AvailabilityChecker answers whether a spot is free for a date range.
// It takes no locks; writers re-check inside their transaction.
type AvailabilityChecker struct {
	repo overlapFinder
}

func NewAvailabilityChecker(repo overlapFinder) *AvailabilityChecker {
	return &AvailabilityChecker{repo: repo}
}

// FindBlockingBookings returns the bookings that occupy any night of [start, end).
func (a *AvailabilityChecker) FindBlockingBookings(ctx context.Context, spotID string, start, end time.Time) ([]*Booking, error) {
	if err := ValidateRange(start, end); err != nil {
		return nil, err
	}
	start, end = DateOf(start), DateOf(end)

	candidates, err := a.repo.ListOverlapping(ctx, spotID, start, end, BlockingStatuses)
	if err != nil {
		return nil, err
	}

	blocking := make([]*Booking, 0, len(candidates))
	for _, b := range candidates {
		if b.SpotID == spotID && b.Status.IsBlocking() && Overlaps(start, end, b.StartDate, b.EndDate) {
			blocking = append(blocking, b)
		}
	}
	return blocking, nil
}

func (a *AvailabilityChecker) IsAvailable(ctx context.Context, spotID string, start, end time.Time) (bool, error) {
	blocking, err := a.FindBlockingBookings(ctx, spotID, start, end)
	if err != nil {
		return false, err
	}
	return len(blocking) == 0, nil
}
