package properties

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/innledger/innledger/internal/audit"
	"github.com/innledger/innledger/internal/authz"
)

// ErrUnknownLevel rejects access grants outside the defined levels.
var ErrUnknownLevel = errors.New("properties: unknown access level")

// RepositoryPort defines data access methods for properties.
type RepositoryPort interface {
	ListProperties(ctx context.Context) ([]Property, error)
	GetProperty(ctx context.Context, id int64) (*Property, error)
	CreateProperty(ctx context.Context, p Property) (Property, error)
	DeleteProperty(ctx context.Context, id int64) ([]int64, error)
	UpsertAccess(ctx context.Context, a Access) error
	DeleteAccess(ctx context.Context, userID, propertyID int64) error
	TransferOwnership(ctx context.Context, id int64, newOwnerID int64) (*int64, error)
}

// Invalidator dispatches permission invalidation events. Satisfied by
// authz.InvalidationService.
type Invalidator interface {
	Invalidate(ctx context.Context, event authz.Event, ec authz.EventContext)
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles property and property-access management. Every
// mutation commits first, then fires the matching invalidation event.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	auditor     AuditRecorder
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, auditor AuditRecorder) *Service {
	return &Service{repo: repo, invalidator: invalidator, auditor: auditor}
}

// ListProperties returns the portfolio.
func (s *Service) ListProperties(ctx context.Context) ([]Property, error) {
	return s.repo.ListProperties(ctx)
}

// GetProperty returns one property.
func (s *Service) GetProperty(ctx context.Context, id int64) (*Property, error) {
	return s.repo.GetProperty(ctx, id)
}

// CreateProperty inserts the property and invalidates the owner's and
// manager's cached permissions: both gain implicit access immediately.
func (s *Service) CreateProperty(ctx context.Context, actorID int64, p Property) (Property, error) {
	created, err := s.repo.CreateProperty(ctx, p)
	if err != nil {
		return Property{}, err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, authz.EventPropertyCreated, authz.EventContext{
			PropertyID:    created.ID,
			AffectedUsers: collectUsers(created.OwnerID, created.ManagerID),
		})
	}
	s.recordAudit(ctx, actorID, "property.created", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// DeleteProperty removes the property and clears cached permissions for
// everyone who held explicit access on it.
func (s *Service) DeleteProperty(ctx context.Context, actorID, id int64) error {
	affected, err := s.repo.DeleteProperty(ctx, id)
	if err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, authz.EventPropertyDeleted, authz.EventContext{
			PropertyID:    id,
			AffectedUsers: affected,
		})
	}
	s.recordAudit(ctx, actorID, "property.deleted", id, nil)
	return nil
}

// GrantAccess grants or updates a user's access level on a property.
func (s *Service) GrantAccess(ctx context.Context, actorID int64, a Access) error {
	if !authz.ValidAccessLevel(a.Level) {
		return fmt.Errorf("%w: %s", ErrUnknownLevel, a.Level)
	}
	if err := s.repo.UpsertAccess(ctx, a); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, authz.EventPropertyAccessGranted, authz.EventContext{
			UserID:     a.UserID,
			PropertyID: a.PropertyID,
		})
	}
	s.recordAudit(ctx, actorID, "property.access_granted", a.PropertyID, map[string]any{
		"user_id": a.UserID,
		"level":   string(a.Level),
	})
	return nil
}

// RevokeAccess removes a user's access to a property.
func (s *Service) RevokeAccess(ctx context.Context, actorID, userID, propertyID int64) error {
	if err := s.repo.DeleteAccess(ctx, userID, propertyID); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, authz.EventPropertyAccessRevoked, authz.EventContext{
			UserID:     userID,
			PropertyID: propertyID,
		})
	}
	s.recordAudit(ctx, actorID, "property.access_revoked", propertyID, map[string]any{"user_id": userID})
	return nil
}

// TransferOwnership reassigns the property owner. Both the old and the
// new owner lose their cached computations.
func (s *Service) TransferOwnership(ctx context.Context, actorID, propertyID, newOwnerID int64) error {
	oldOwner, err := s.repo.TransferOwnership(ctx, propertyID, newOwnerID)
	if err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, authz.EventPropertyAccessGranted, authz.EventContext{
			UserID:        newOwnerID,
			PropertyID:    propertyID,
			AffectedUsers: collectUsers(oldOwner),
		})
	}
	s.recordAudit(ctx, actorID, "property.transferred", propertyID, map[string]any{
		"new_owner_id": newOwnerID,
	})
	return nil
}

func collectUsers(ids ...*int64) []int64 {
	var out []int64
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, propertyID int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	_ = s.auditor.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "property",
		EntityID: strconv.FormatInt(propertyID, 10),
		Meta:     meta,
	})
}
