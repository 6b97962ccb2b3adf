package spot

import (
	"net/http"
	"time"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/apperror"
)

var (
	ErrNotFound         = apperror.New(http.StatusNotFound, "spot not found")
	ErrEmptyName        = apperror.New(http.StatusBadRequest, "name cannot be empty")
	ErrInvalidPrice     = apperror.New(http.StatusBadRequest, "price_per_night cannot be negative")
	ErrInvalidCapacity  = apperror.New(http.StatusBadRequest, "capacity must be positive")
	ErrOwnerNotFound    = apperror.New(http.StatusNotFound, "owner not found")
	ErrPermissionDenied = apperror.New(http.StatusForbidden, "permission denied")
)

// Spot is a bookable camping spot listed by its owner.
// PricePerNight is in the currency's minor unit.
type Spot struct {
	ID            string
	OwnerID       string
	Name          string
	Description   string
	PricePerNight int64
	Capacity      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filter defines parameters for listing spots.
type Filter struct {
	OwnerID   string
	Page      int
	PageSize  int
	SortOrder string
}
