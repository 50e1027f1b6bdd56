package authz

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUserNotFound is the only engine error that propagates to the
	// caller of Compute; every other failure degrades.
	ErrUserNotFound = errors.New("authz: user not found")
	// ErrUserInactive indicates the subject exists but is deactivated.
	ErrUserInactive = errors.New("authz: user inactive")
	// ErrPolicyNotFound indicates the requested policy does not exist.
	ErrPolicyNotFound = errors.New("authz: policy not found")
)

// Store is the durable backend the engine reads from and records
// violations/audit entries into. Implemented by Repository (pgx) in
// production and by fakes in tests.
type Store interface {
	// FindUserWithGrants loads the user and all of their direct grants,
	// including expired and denial rows; filtering happens in the engine.
	FindUserWithGrants(ctx context.Context, id int64) (*User, error)
	FindPermissionByName(ctx context.Context, name string) (string, error)

	// FindProperty resolves ownership, management and the parent link.
	FindProperty(ctx context.Context, id int64) (*Property, error)
	// FindPropertyAccess returns access rows for the user. A nil
	// propertyID returns the rows across all properties.
	FindPropertyAccess(ctx context.Context, userID int64, propertyID *int64) ([]PropertyAccess, error)
	// FindActiveDelegations returns delegations targeting the user,
	// optionally filtered to a property.
	FindActiveDelegations(ctx context.Context, userID int64, propertyID *int64) ([]Delegation, error)

	ListActivePolicies(ctx context.Context) ([]CompliancePolicy, error)
	ListUserIDsByRole(ctx context.Context, role Role) ([]int64, error)
	ListActiveUsers(ctx context.Context) ([]User, error)

	CreateViolation(ctx context.Context, v *ComplianceViolation) error
	ViolationSummary(ctx context.Context) (ViolationStats, error)
	AppendAuditLog(ctx context.Context, entry AuditEntry) error
}

// AuditEntry is the engine's best-effort audit record. Persistence
// failures never block an authorization decision.
type AuditEntry struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// ViolationStats aggregates violation counts for the compliance
// dashboard.
type ViolationStats struct {
	Open          int `json:"open"`
	Investigating int `json:"investigating"`
	Resolved      int `json:"resolved"`
	FalsePositive int `json:"false_positive"`
	Critical      int `json:"critical"`
	High          int `json:"high"`
	Medium        int `json:"medium"`
	Low           int `json:"low"`
}

// Source is an optional plug-in contributor to the inheritance merge.
// A failing source is logged and omitted; it can never fail a
// computation.
type Source interface {
	// Name labels the provenance entry.
	Name() string
	// Contribute returns the permissions this source adds for the user
	// in the given property scope (nil for global).
	Contribute(ctx context.Context, user *User, propertyID *int64) ([]string, error)
}
