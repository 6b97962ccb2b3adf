package http

import (
	"time"

	"github.com/nekogravitycat/campsite-booking-backend/internal/booking"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/request"
)

// StayRequest is the shared body of checkout and request-to-book.
type StayRequest struct {
	SpotID    string `json:"spot_id" binding:"required,uuid"`
	StartDate string `json:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" binding:"required,datetime=2006-01-02"`
	Guests    int    `json:"guests" binding:"required,min=1"`
}

// DateRangeRequest is a half-open [start_date, end_date) range.
type DateRangeRequest struct {
	StartDate string `json:"start_date" form:"start_date" binding:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" form:"end_date" binding:"required,datetime=2006-01-02"`
}

// Parse converts the range to dates and checks that it covers a night.
func (r *DateRangeRequest) Parse() (time.Time, time.Time, error) {
	start, err := booking.ParseDate(r.StartDate)
	if err != nil {
		return time.Time{}, time.Time{}, booking.ErrInvalidDateRange.WithCause(err)
	}
	end, err := booking.ParseDate(r.EndDate)
	if err != nil {
		return time.Time{}, time.Time{}, booking.ErrInvalidDateRange.WithCause(err)
	}
	if err := booking.ValidateRange(start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func (r *StayRequest) Range() DateRangeRequest {
	return DateRangeRequest{StartDate: r.StartDate, EndDate: r.EndDate}
}

// ListBookingsRequest defines query parameters for listing bookings.
type ListBookingsRequest struct {
	request.ListParams
	// Role selects bookings made by the caller (renter) or on the caller's spots (owner).
	Role   string `form:"role" binding:"omitempty,oneof=renter owner"`
	SpotID string `form:"spot_id" binding:"omitempty,uuid"`
	Status string `form:"status" binding:"omitempty,oneof=pending confirmed cancelled completed blocked"`
	// UserID is honoured for system admins only.
	UserID string `form:"user_id" binding:"omitempty,uuid"`
	From   string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To     string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending confirmed cancelled completed blocked"`
}

type SuccessQuery struct {
	SessionID string `form:"session_id" binding:"required"`
}

type BookingResponse struct {
	ID        string    `json:"id"`
	SpotID    string    `json:"spot_id"`
	RenterID  string    `json:"renter_id"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	Nights    int       `json:"nights"`
	Guests    int       `json:"guests"`
	Cost      int64     `json:"cost"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewBookingResponse(b *booking.Booking) BookingResponse {
	return BookingResponse{
		ID:        b.ID,
		SpotID:    b.SpotID,
		RenterID:  b.RenterID,
		StartDate: booking.FormatDate(b.StartDate),
		EndDate:   booking.FormatDate(b.EndDate),
		Nights:    b.Nights(),
		Guests:    b.Guests,
		Cost:      b.Cost,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

type TransactionResponse struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

type BookingDetailResponse struct {
	BookingResponse
	Transaction *TransactionResponse `json:"transaction"`
}

func NewBookingDetailResponse(b *booking.Booking, t *booking.Transaction) BookingDetailResponse {
	resp := BookingDetailResponse{BookingResponse: NewBookingResponse(b)}
	if t != nil {
		resp.Transaction = &TransactionResponse{
			ID:         t.ID,
			Amount:     t.Amount,
			Currency:   t.Currency,
			Status:     string(t.Status),
			PaymentRef: t.PaymentRef,
		}
	}
	return resp
}

// BookingSummaryResponse is returned to the success redirect and the webhook.
type BookingSummaryResponse struct {
	BookingID string `json:"booking_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Cost      int64  `json:"cost"`
	Status    string `json:"status"`
}

func NewBookingSummaryResponse(b *booking.Booking) BookingSummaryResponse {
	return BookingSummaryResponse{
		BookingID: b.ID,
		StartDate: booking.FormatDate(b.StartDate),
		EndDate:   booking.FormatDate(b.EndDate),
		Cost:      b.Cost,
		Status:    string(b.Status),
	}
}

type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
	Cost        int64  `json:"cost"`
	Fee         int64  `json:"fee"`
	Total       int64  `json:"total"`
}

func NewCheckoutResponse(res *booking.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		SessionID:   res.SessionID,
		RedirectURL: res.RedirectURL,
		Cost:        res.Intent.Cost,
		Fee:         res.Intent.Fee,
		Total:       res.Intent.Total,
	}
}

type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// AvailabilityResponse lists taken ranges without exposing who holds them.
type AvailabilityResponse struct {
	SpotID    string      `json:"spot_id"`
	StartDate string      `json:"start_date"`
	EndDate   string      `json:"end_date"`
	Available bool        `json:"available"`
	Taken     []DateRange `json:"taken"`
}

func NewAvailabilityResponse(a *booking.Availability) AvailabilityResponse {
	taken := make([]DateRange, len(a.Blocking))
	for i, b := range a.Blocking {
		taken[i] = DateRange{StartDate: booking.FormatDate(b.StartDate), EndDate: booking.FormatDate(b.EndDate)}
	}
	return AvailabilityResponse{
		SpotID:    a.SpotID,
		StartDate: booking.FormatDate(a.StartDate),
		EndDate:   booking.FormatDate(a.EndDate),
		Available: a.Available,
		Taken:     taken,
	}
}

type SweepResponse struct {
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
}
