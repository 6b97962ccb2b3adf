package user

import (
	"context"
	"errors"
)

// Service defines business logic related to users.
type Service interface {
	// IsSystemAdmin reports whether the user exists, is active and holds the admin flag.
	IsSystemAdmin(ctx context.Context, id string) (bool, error)
}

type service struct {
	repo Repository
}

// NewService creates a new user Service.
func NewService(repo Repository) Service {
	return &service{repo: repo}
}

func (s *service) IsSystemAdmin(ctx context.Context, id string) (bool, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return u.IsActive && u.IsSystemAdmin, nil
}
