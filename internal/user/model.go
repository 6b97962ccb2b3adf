package user

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("user not found")
)

// User is an account that can rent spots, own spots, or both.
// Credentials live with the external auth provider.
type User struct {
	ID            string // UUID
	Email         string
	DisplayName   *string
	CreatedAt     time.Time
	IsActive      bool
	IsSystemAdmin bool
}
