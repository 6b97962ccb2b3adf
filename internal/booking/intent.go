package booking

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Metadata keys written into the checkout session.
const (
	metaSpotID    = "spot_id"
	metaRenterID  = "renter_id"
	metaStartDate = "start_date"
	metaEndDate   = "end_date"
	metaGuests    = "guests"
	metaCost      = "cost"
	metaFee       = "fee"
	metaTotal     = "total"
	// Only set when paying for an existing pending booking.
	metaBookingID = "booking_id"
)

// Intent is the booking a renter is paying for. It travels inside the payment
// session so that reconciliation never depends on state that may have changed
// since checkout (spot price, fee policy).
type Intent struct {
	// BookingID is the pending booking being paid for. Empty means the
	// booking is created when the payment is reconciled.
	BookingID string
	SpotID    string
	RenterID  string
	StartDate time.Time
	EndDate   time.Time
	Guests    int
	Cost      int64
	Fee       int64
	Total     int64
}

// Price returns the base cost, service fee and total for a stay.
// The fee is rounded down to the minor unit.
func Price(pricePerNight int64, nights int, feePercent int64) (cost, fee, total int64) {
	return WithFee(pricePerNight*int64(nights), feePercent)
}

// WithFee adds the service fee to an already priced stay.
func WithFee(cost, feePercent int64) (int64, int64, int64) {
	fee := cost * feePercent / 100
	return cost, fee, cost + fee
}

func (i *Intent) Metadata() map[string]string {
	md := map[string]string{
		metaSpotID:    i.SpotID,
		metaRenterID:  i.RenterID,
		metaStartDate: FormatDate(i.StartDate),
		metaEndDate:   FormatDate(i.EndDate),
		metaGuests:    strconv.Itoa(i.Guests),
		metaCost:      strconv.FormatInt(i.Cost, 10),
		metaFee:       strconv.FormatInt(i.Fee, 10),
		metaTotal:     strconv.FormatInt(i.Total, 10),
	}
	if i.BookingID != "" {
		md[metaBookingID] = i.BookingID
	}
	return md
}

func (i *Intent) Booking(status Status) *Booking {
	return &Booking{
		SpotID:    i.SpotID,
		RenterID:  i.RenterID,
		StartDate: i.StartDate,
		EndDate:   i.EndDate,
		Guests:    i.Guests,
		Cost:      i.Cost,
		Status:    status,
	}
}

// DecodeIntent rebuilds an Intent from session metadata. Any missing or
// malformed field yields ErrInvalidMetadata.
func DecodeIntent(md map[string]string) (*Intent, error) {
	invalid := func(format string, args ...any) error {
		return ErrInvalidMetadata.WithCause(fmt.Errorf(format, args...))
	}

	for _, k := range []string{metaSpotID, metaRenterID, metaStartDate, metaEndDate, metaGuests, metaCost, metaTotal} {
		if md[k] == "" {
			return nil, invalid("missing %s", k)
		}
	}

	var (
		in  Intent
		err error
	)
	if _, err := uuid.Parse(md[metaSpotID]); err != nil {
		return nil, invalid("spot_id: %w", err)
	}
	if _, err := uuid.Parse(md[metaRenterID]); err != nil {
		return nil, invalid("renter_id: %w", err)
	}
	in.SpotID = md[metaSpotID]
	in.RenterID = md[metaRenterID]
	if v := md[metaBookingID]; v != "" {
		if _, err := uuid.Parse(v); err != nil {
			return nil, invalid("booking_id: %w", err)
		}
		in.BookingID = v
	}

	if in.StartDate, err = ParseDate(md[metaStartDate]); err != nil {
		return nil, invalid("start_date: %w", err)
	}
	if in.EndDate, err = ParseDate(md[metaEndDate]); err != nil {
		return nil, invalid("end_date: %w", err)
	}
	if err := ValidateRange(in.StartDate, in.EndDate); err != nil {
		return nil, invalid("date range %s..%s", md[metaStartDate], md[metaEndDate])
	}

	if in.Guests, err = strconv.Atoi(md[metaGuests]); err != nil || in.Guests < 1 {
		return nil, invalid("guests %q", md[metaGuests])
	}
	if in.Cost, err = strconv.ParseInt(md[metaCost], 10, 64); err != nil || in.Cost < 0 {
		return nil, invalid("cost %q", md[metaCost])
	}
	if in.Total, err = strconv.ParseInt(md[metaTotal], 10, 64); err != nil || in.Total < in.Cost {
		return nil, invalid("total %q", md[metaTotal])
	}
	if v := md[metaFee]; v != "" {
		if in.Fee, err = strconv.ParseInt(v, 10, 64); err != nil || in.Fee != in.Total-in.Cost {
			return nil, invalid("fee %q", v)
		}
	} else {
		in.Fee = in.Total - in.Cost
	}

	return &in, nil
}
