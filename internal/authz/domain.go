package authz

import (
	"time"
)

// Role is one of the fixed set of roles a user can hold.
type Role string

// Roles, ordered from most junior to most senior. The canonical order
// lives in roleOrder (roles.go); these constants are the only valid values.
const (
	RoleReadOnly        Role = "read_only"
	RoleStaff           Role = "staff"
	RoleSupervisor      Role = "supervisor"
	RoleDepartmentHead  Role = "department_head"
	RolePropertyManager Role = "property_manager"
	RoleGeneralManager  Role = "general_manager"
	RoleAdmin           Role = "admin"
	RoleSuperAdmin      Role = "super_admin"
)

// AccessLevel scopes what a user may do within a specific property.
type AccessLevel string

// Access levels, ordered. Each level's permission set contains the
// previous level's set (see levels.go).
const (
	LevelReadOnly    AccessLevel = "read_only"
	LevelDataEntry   AccessLevel = "data_entry"
	LevelManagement  AccessLevel = "management"
	LevelFullControl AccessLevel = "full_control"
	LevelOwner       AccessLevel = "owner"
)

// User is the acting subject of every authorization decision.
type User struct {
	ID         int64
	Email      string
	Name       string
	Role       Role
	Department string
	IsActive   bool
	Grants     []Grant
}

// Grant is a direct user permission. Granted=false represents an
// explicit denial; the merge is additive-only so denial rows are
// currently ignored rather than masking other sources.
type Grant struct {
	UserID     int64
	Permission string
	Granted    bool
	ExpiresAt  *time.Time
	GrantedBy  int64
}

// Active reports whether the grant contributes at the given instant.
func (g Grant) Active(now time.Time) bool {
	if !g.Granted {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// PropertyAccess ties a user to a property at a given access level.
type PropertyAccess struct {
	UserID     int64
	PropertyID int64
	Level      AccessLevel
	ExpiresAt  *time.Time
}

// Active reports whether the access record contributes at the given instant.
func (a PropertyAccess) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Property carries the fields the engine needs: ownership, management
// and the optional parent used for inherited access.
type Property struct {
	ID        int64
	Name      string
	ParentID  *int64
	OwnerID   *int64
	ManagerID *int64
}

// Delegation is a time-bounded, revocable transfer of specific
// permissions from one user to another, optionally scoped to a property.
type Delegation struct {
	ID          int64
	FromUserID  int64
	ToUserID    int64
	Permissions []string
	PropertyID  *int64
	ExpiresAt   *time.Time
	IsActive    bool
}

// Active reports whether the delegation contributes at the given instant.
func (d Delegation) Active(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	return d.ExpiresAt == nil || d.ExpiresAt.After(now)
}

// SourceType classifies a contributor to a computed permission set.
type SourceType string

const (
	SourceRole       SourceType = "role"
	SourceGrant      SourceType = "grant"
	SourceProperty   SourceType = "property"
	SourceHierarchy  SourceType = "hierarchy"
	SourceDelegation SourceType = "delegation"
	SourcePlugin     SourceType = "plugin"
)

// ProvenanceEntry records which source contributed which permissions.
// Entries are kept in merge order and never collapsed, so the trail
// shows every contributing source even when permissions overlap.
type ProvenanceEntry struct {
	Source      string     `json:"source"`
	Type        SourceType `json:"type"`
	Permissions []string   `json:"permissions"`
}

// ComputedPermissions is the derived result of a full inheritance merge
// for one (user, property|global) pair. It is cached, never a durable
// source of truth.
type ComputedPermissions struct {
	UserID        int64             `json:"user_id"`
	PropertyID    *int64            `json:"property_id,omitempty"`
	Permissions   []string          `json:"permissions"`
	Provenance    []ProvenanceEntry `json:"provenance"`
	EffectiveRole Role              `json:"effective_role"`
	ComputedAt    time.Time         `json:"computed_at"`
}

// Has reports whether the computed set contains the named permission.
func (c *ComputedPermissions) Has(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// ComputeOptions tunes a single Compute call. The zero value enables
// caching, excludes inactive users and uses the default traversal depth.
type ComputeOptions struct {
	IncludeInactive bool
	MaxDepth        int
	SkipCache       bool
}

// Event identifies a domain change that requires cache invalidation.
type Event string

const (
	EventUserRoleChanged          Event = "user_role_changed"
	EventUserPermissionsChanged   Event = "user_permissions_changed"
	EventPropertyAccessGranted    Event = "property_access_granted"
	EventPropertyAccessRevoked    Event = "property_access_revoked"
	EventPropertyCreated          Event = "property_created"
	EventPropertyDeleted          Event = "property_deleted"
	EventUserCreated              Event = "user_created"
	EventUserDeleted              Event = "user_deleted"
	EventRolePermissionsUpdated   Event = "role_permissions_updated"
	EventSystemPermissionsUpdated Event = "system_permissions_updated"
)

// EventContext carries the identifiers an invalidation event refers to.
// Zero-valued fields are treated as absent.
type EventContext struct {
	UserID        int64
	PropertyID    int64
	Role          Role
	AffectedUsers []int64
}
