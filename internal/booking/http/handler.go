package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nekogravitycat/campsite-booking-backend/internal/auth"
	"github.com/nekogravitycat/campsite-booking-backend/internal/booking"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/logger"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/response"
)

const maxWebhookBytes = 64 << 10

// Reconciler is the payment side of the booking flow.
type Reconciler interface {
	Checkout(ctx context.Context, req booking.CheckoutRequest) (*booking.CheckoutResult, error)
	CheckoutBooking(ctx context.Context, bookingID, renterID string) (*booking.CheckoutResult, error)
	ReconcileSession(ctx context.Context, sessionID string) (*booking.Booking, bool, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*booking.Booking, bool, error)
}

type Sweeper interface {
	SweepCompletions(ctx context.Context) (int, error)
	SweepExpiredPending(ctx context.Context, maxAge time.Duration) (int, error)
}

type AdminChecker interface {
	IsSystemAdmin(ctx context.Context, userID string) (bool, error)
}

type Handler struct {
	service       booking.Service
	reconciler    Reconciler
	sweeper       Sweeper
	admins        AdminChecker
	pendingExpiry time.Duration
}

func NewHandler(service booking.Service, reconciler Reconciler, sweeper Sweeper, admins AdminChecker, pendingExpiry time.Duration) *Handler {
	return &Handler{
		service:       service,
		reconciler:    reconciler,
		sweeper:       sweeper,
		admins:        admins,
		pendingExpiry: pendingExpiry,
	}
}

// checkIsSysAdmin reports whether the current user is a system admin.
// Lookup failures count as not admin.
func (h *Handler) checkIsSysAdmin(c *gin.Context, userID string) bool {
	ok, err := h.admins.IsSystemAdmin(c.Request.Context(), userID)
	if err != nil {
		logger.Warn("admin lookup failed", zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return ok
}

func (h *Handler) Checkout(c *gin.Context) {
	var body StayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	rng := body.Range()
	start, end, err := rng.Parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.reconciler.Checkout(c.Request.Context(), booking.CheckoutRequest{
		SpotID:    body.SpotID,
		RenterID:  auth.GetUserID(c),
		StartDate: start,
		EndDate:   end,
		Guests:    body.Guests,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewCheckoutResponse(res))
}

// CheckoutBooking opens a payment session for the caller's pending request.
func (h *Handler) CheckoutBooking(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	res, err := h.reconciler.CheckoutBooking(c.Request.Context(), uri.ID, auth.GetUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewCheckoutResponse(res))
}

func (h *Handler) Create(c *gin.Context) {
	var body StayRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	rng := body.Range()
	start, end, err := rng.Parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	b, err := h.service.Create(c.Request.Context(), booking.CreateRequest{
		SpotID:    body.SpotID,
		RenterID:  auth.GetUserID(c),
		StartDate: start,
		EndDate:   end,
		Guests:    body.Guests,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewBookingResponse(b))
}

func (h *Handler) List(c *gin.Context) {
	var req ListBookingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	req.Normalize()

	filter := booking.Filter{
		SpotID:    req.SpotID,
		Status:    booking.Status(req.Status),
		Page:      req.Page,
		PageSize:  req.PageSize,
		SortOrder: strings.ToUpper(req.SortOrder),
	}
	if req.From != "" {
		from, _ := booking.ParseDate(req.From)
		filter.From = &from
	}
	if req.To != "" {
		to, _ := booking.ParseDate(req.To)
		filter.To = &to
	}

	// Access Control Logic
	currentUserID := auth.GetUserID(c)
	switch {
	case h.checkIsSysAdmin(c, currentUserID):
		filter.RenterID = req.UserID // can be empty to show all
	case req.Role == "owner":
		filter.OwnerID = currentUserID
	default:
		filter.RenterID = currentUserID
	}

	bookings, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]BookingResponse, len(bookings))
	for i, b := range bookings {
		items[i] = NewBookingResponse(b)
	}

	c.JSON(http.StatusOK, response.NewPageResponse(items, req.Page, req.PageSize, total))
}

func (h *Handler) Get(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	userID := auth.GetUserID(c)
	b, txn, err := h.service.GetByID(c.Request.Context(), uri.ID, userID, h.checkIsSysAdmin(c, userID))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingDetailResponse(b, txn))
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	var body UpdateStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	userID := auth.GetUserID(c)
	b, err := h.service.UpdateStatus(c.Request.Context(), uri.ID, booking.Status(body.Status), userID, h.checkIsSysAdmin(c, userID))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

func (h *Handler) Cancel(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	userID := auth.GetUserID(c)
	b, err := h.service.Cancel(c.Request.Context(), uri.ID, userID, h.checkIsSysAdmin(c, userID))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewBookingResponse(b))
}

// Webhook receives signed payment provider events.
func (h *Handler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	b, created, err := h.reconciler.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}
	// Events that settle nothing, such as an unpaid async checkout.
	if b == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	c.JSON(reconcileStatus(created), NewBookingSummaryResponse(b))
}

// Success is the checkout success redirect target.
func (h *Handler) Success(c *gin.Context) {
	var q SuccessQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	b, created, err := h.reconciler.ReconcileSession(c.Request.Context(), q.SessionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(reconcileStatus(created), NewBookingSummaryResponse(b))
}

func (h *Handler) Availability(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	var q DateRangeRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	start, end, err := q.Parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	a, err := h.service.Availability(c.Request.Context(), uri.ID, start, end)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewAvailabilityResponse(a))
}

func (h *Handler) Block(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	var body DateRangeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	start, end, err := body.Parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	b, err := h.service.Block(c.Request.Context(), booking.BlockRequest{
		SpotID:    uri.ID,
		OwnerID:   auth.GetUserID(c),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewBookingResponse(b))
}

// Sweep runs both lifecycle sweeps immediately.
func (h *Handler) Sweep(c *gin.Context) {
	ctx := c.Request.Context()

	completed, err := h.sweeper.SweepCompletions(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	expired, err := h.sweeper.SweepExpiredPending(ctx, h.pendingExpiry)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, SweepResponse{Completed: completed, Expired: expired})
}

func reconcileStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}
