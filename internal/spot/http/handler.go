package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/campsite-booking-backend/internal/auth"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/response"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
)

type Handler struct {
	service spot.Service
}

func NewHandler(service spot.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(c *gin.Context) {
	var req ListSpotsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query parameters", "details": err.Error()})
		return
	}
	req.Normalize()

	filter := spot.Filter{
		OwnerID:   req.OwnerID,
		Page:      req.Page,
		PageSize:  req.PageSize,
		SortOrder: strings.ToUpper(req.SortOrder),
	}

	spots, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]SpotResponse, len(spots))
	for i, s := range spots {
		items[i] = NewSpotResponse(s)
	}

	c.JSON(http.StatusOK, response.NewPageResponse(items, req.Page, req.PageSize, total))
}

func (h *Handler) Get(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid UUID"})
		return
	}

	s, err := h.service.GetByID(c.Request.Context(), uri.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, NewSpotResponse(s))
}

func (h *Handler) Create(c *gin.Context) {
	var body CreateSpotRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	userID := auth.GetUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	s, err := h.service.Create(c.Request.Context(), spot.CreateRequest{
		OwnerID:       userID,
		Name:          body.Name,
		Description:   body.Description,
		PricePerNight: body.PricePerNight,
		Capacity:      body.Capacity,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewSpotResponse(s))
}
