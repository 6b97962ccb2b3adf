package http

import (
	"time"

	"github.com/nekogravitycat/campsite-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
)

type SpotResponse struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	PricePerNight int64     `json:"price_per_night"`
	Capacity      int       `json:"capacity"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewSpotResponse(s *spot.Spot) SpotResponse {
	return SpotResponse{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		Name:          s.Name,
		Description:   s.Description,
		PricePerNight: s.PricePerNight,
		Capacity:      s.Capacity,
		CreatedAt:     s.CreatedAt,
	}
}

type ListSpotsRequest struct {
	request.ListParams
	OwnerID string `form:"owner_id" binding:"omitempty,uuid"`
}

type CreateSpotRequest struct {
	Name          string `json:"name" binding:"required"`
	Description   string `json:"description"`
	PricePerNight int64  `json:"price_per_night" binding:"min=0"`
	Capacity      int    `json:"capacity" binding:"required,min=1"`
}
