package authz

import (
	"context"
	"log/slog"
)

// InvalidationService translates domain change events into precise
// cache invalidation calls. It sits on the far side of the
// write-then-invalidate contract: callers must fire events only after
// the store mutation has committed.
//
// Every failure here is logged and swallowed. A cache problem must
// never block the mutating operation that triggered it; the worst case
// is staleness bounded by one cache TTL.
type InvalidationService struct {
	cache  *PermissionCache
	logger *slog.Logger
}

// NewInvalidationService builds the service.
func NewInvalidationService(cache *PermissionCache, logger *slog.Logger) *InvalidationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvalidationService{cache: cache, logger: logger}
}

// Invalidate applies the event's invalidation scope. It never returns
// an error.
func (s *InvalidationService) Invalidate(ctx context.Context, event Event, ec EventContext) {
	if s == nil || s.cache == nil {
		return
	}
	switch event {
	case EventUserRoleChanged:
		s.user(ctx, event, ec.UserID)
		if ec.Role != "" {
			s.role(ctx, event, ec.Role)
		}

	case EventUserPermissionsChanged:
		s.user(ctx, event, ec.UserID)

	case EventPropertyAccessGranted, EventPropertyAccessRevoked:
		s.property(ctx, event, ec.PropertyID)
		s.user(ctx, event, ec.UserID)
		for _, id := range ec.AffectedUsers {
			s.user(ctx, event, id)
		}

	case EventPropertyCreated, EventPropertyDeleted:
		s.property(ctx, event, ec.PropertyID)
		// Users with implicit access, e.g. super admins picking up a
		// newly created property.
		for _, id := range ec.AffectedUsers {
			s.user(ctx, event, id)
		}

	case EventUserCreated, EventUserDeleted:
		s.user(ctx, event, ec.UserID)

	case EventRolePermissionsUpdated:
		s.role(ctx, event, ec.Role)
		userIDs, err := s.cache.store.ListUserIDsByRole(ctx, ec.Role)
		if err != nil {
			s.logger.Error("invalidation: list users by role failed",
				slog.String("event", string(event)), slog.String("role", string(ec.Role)), slog.Any("error", err))
			return
		}
		for _, id := range userIDs {
			s.user(ctx, event, id)
		}

	case EventSystemPermissionsUpdated:
		if err := s.cache.ClearAll(ctx); err != nil {
			s.logger.Error("invalidation: clear all failed", slog.String("event", string(event)), slog.Any("error", err))
		}

	default:
		s.logger.Warn("invalidation: unknown event ignored", slog.String("event", string(event)))
	}
}

// FieldChange is an old/new value pair from a diffed mutation.
type FieldChange struct {
	Old any
	New any
}

// SmartInvalidate infers the invalidation event from a field diff of a
// committed mutation and dispatches it through the same table as
// Invalidate.
func (s *InvalidationService) SmartInvalidate(ctx context.Context, resourceType string, resourceID int64, changeType string, changes map[string]FieldChange) {
	if s == nil {
		return
	}
	switch resourceType {
	case "user":
		switch changeType {
		case "created":
			s.Invalidate(ctx, EventUserCreated, EventContext{UserID: resourceID})
		case "deleted":
			s.Invalidate(ctx, EventUserDeleted, EventContext{UserID: resourceID})
		default:
			if change, ok := changes["role"]; ok {
				ec := EventContext{UserID: resourceID}
				if role, ok := change.New.(Role); ok {
					ec.Role = role
				} else if role, ok := change.New.(string); ok {
					ec.Role = Role(role)
				}
				s.Invalidate(ctx, EventUserRoleChanged, ec)
				return
			}
			s.Invalidate(ctx, EventUserPermissionsChanged, EventContext{UserID: resourceID})
		}

	case "property":
		switch changeType {
		case "created":
			s.Invalidate(ctx, EventPropertyCreated, EventContext{PropertyID: resourceID})
		case "deleted":
			s.Invalidate(ctx, EventPropertyDeleted, EventContext{PropertyID: resourceID})
		default:
			s.Invalidate(ctx, EventPropertyAccessGranted, EventContext{PropertyID: resourceID})
		}

	case "role":
		// Role resources are identified by name, not ID.
		var role Role
		if change, ok := changes["name"]; ok {
			switch v := change.New.(type) {
			case Role:
				role = v
			case string:
				role = Role(v)
			}
		}
		if role == "" {
			s.logger.Warn("smart invalidation: role change without role name ignored")
			return
		}
		s.Invalidate(ctx, EventRolePermissionsUpdated, EventContext{Role: role})

	case "system":
		s.Invalidate(ctx, EventSystemPermissionsUpdated, EventContext{})

	default:
		s.logger.Warn("smart invalidation: unknown resource type ignored",
			slog.String("resource_type", resourceType), slog.Int64("resource_id", resourceID))
	}
}

func (s *InvalidationService) user(ctx context.Context, event Event, userID int64) {
	if userID == 0 {
		return
	}
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logger.Error("invalidation: user scope failed",
			slog.String("event", string(event)), slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (s *InvalidationService) role(ctx context.Context, event Event, role Role) {
	if role == "" {
		return
	}
	if err := s.cache.InvalidateRole(ctx, role); err != nil {
		s.logger.Error("invalidation: role scope failed",
			slog.String("event", string(event)), slog.String("role", string(role)), slog.Any("error", err))
	}
}

func (s *InvalidationService) property(ctx context.Context, event Event, propertyID int64) {
	if propertyID == 0 {
		return
	}
	if err := s.cache.InvalidateProperty(ctx, propertyID); err != nil {
		s.logger.Error("invalidation: property scope failed",
			slog.String("event", string(event)), slog.Int64("property_id", propertyID), slog.Any("error", err))
	}
}
