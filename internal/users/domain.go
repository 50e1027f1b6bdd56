package users

import (
	"time"

	"github.com/innledger/innledger/internal/authz"
)

// User represents a user account for management.
type User struct {
	ID         int64      `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Role       authz.Role `json:"role"`
	Department string     `json:"department,omitempty"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
