package properties

import (
	"time"

	"github.com/innledger/innledger/internal/authz"
)

// Property is a hotel property in the portfolio. Parent links form the
// tree that property-level access inherits along.
type Property struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	ManagerID *int64    `json:"manager_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Access is an explicit per-property access record.
type Access struct {
	UserID     int64             `json:"user_id"`
	PropertyID int64             `json:"property_id"`
	Level      authz.AccessLevel `json:"level"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	GrantedAt  time.Time         `json:"granted_at"`
}
