package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/innledger/innledger/internal/audit"
	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/shared"
)

// ErrUnknownRole rejects role updates outside the defined hierarchy.
var ErrUnknownRole = errors.New("users: unknown role")

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (*User, error)
	UpdateRole(ctx context.Context, id int64, role authz.Role) (authz.Role, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

// Invalidator clears cached permission computations after mutations.
// Satisfied by authz.InvalidationService.
type Invalidator interface {
	SmartInvalidate(ctx context.Context, resourceType string, resourceID int64, changeType string, changes map[string]authz.FieldChange)
}

// AuditRecorder persists audit trail entries. Satisfied by the audit
// service.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service handles user management. Mutations follow write-then-
// invalidate: the row is committed first, then cached permissions for
// the affected scope are dropped.
type Service struct {
	repo        RepositoryPort
	invalidator Invalidator
	auditor     AuditRecorder
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, invalidator Invalidator, auditor AuditRecorder) *Service {
	return &Service{repo: repo, invalidator: invalidator, auditor: auditor}
}

// ListUsers returns one page of users with pagination metadata.
func (s *Service) ListUsers(ctx context.Context, page, perPage int) ([]User, shared.Pagination, error) {
	pagination := shared.NewPagination(page, perPage, 0)
	users, total, err := s.repo.ListUsers(ctx, pagination.PerPage, (pagination.Page-1)*pagination.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(pagination.Page, pagination.PerPage, total), nil
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ChangeRole updates a user's role and invalidates cached permissions
// for the user and every holder of the new role.
func (s *Service) ChangeRole(ctx context.Context, actorID, userID int64, role authz.Role) error {
	if !authz.ValidRole(role) {
		return fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	old, err := s.repo.UpdateRole(ctx, userID, role)
	if err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.SmartInvalidate(ctx, "user", userID, "updated", map[string]authz.FieldChange{
			"role": {Old: old, New: role},
		})
	}
	s.recordAudit(ctx, actorID, "user.role_changed", userID, map[string]any{
		"old_role": string(old),
		"new_role": string(role),
	})
	return nil
}

// SetActive enables or disables an account. Deactivation drops the
// user's cached permissions so the engine's inactive check takes effect
// on the next request.
func (s *Service) SetActive(ctx context.Context, actorID, userID int64, active bool) error {
	if err := s.repo.SetActive(ctx, userID, active); err != nil {
		return err
	}
	if s.invalidator != nil {
		s.invalidator.SmartInvalidate(ctx, "user", userID, "updated", map[string]authz.FieldChange{
			"is_active": {Old: !active, New: active},
		})
	}
	action := "user.deactivated"
	if active {
		action = "user.activated"
	}
	s.recordAudit(ctx, actorID, action, userID, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, userID int64, meta map[string]any) {
	if s.auditor == nil {
		return
	}
	// Audit persistence is best effort for user management flows.
	_ = s.auditor.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     meta,
	})
}
