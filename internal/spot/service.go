package spot

import (
	"context"
	"strings"
)

type CreateRequest struct {
	OwnerID       string
	Name          string
	Description   string
	PricePerNight int64
	Capacity      int
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Spot, error)
	GetByID(ctx context.Context, id string) (*Spot, error)
	List(ctx context.Context, filter Filter) ([]*Spot, int, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Spot, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrEmptyName
	}
	if req.PricePerNight < 0 {
		return nil, ErrInvalidPrice
	}
	if req.Capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	sp := &Spot{
		OwnerID:       req.OwnerID,
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		PricePerNight: req.PricePerNight,
		Capacity:      req.Capacity,
	}
	if err := s.repo.Create(ctx, sp); err != nil {
		return nil, err
	}
	return sp, nil
}

func (s *service) GetByID(ctx context.Context, id string) (*Spot, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, filter Filter) ([]*Spot, int, error) {
	return s.repo.List(ctx, filter)
}
