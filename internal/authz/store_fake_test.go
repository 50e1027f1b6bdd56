package authz

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var errFakePropertyMissing = errors.New("property not found")

// fakeStore is the in-memory Store used across the engine tests.
type fakeStore struct {
	mu sync.Mutex

	users       map[int64]*User
	properties  map[int64]*Property
	access      map[int64][]PropertyAccess
	delegations map[int64][]Delegation
	policies    []CompliancePolicy

	userErr       error
	propertyErr   error
	accessErr     error
	delegationErr error
	policiesErr   error
	violationErr  error

	violations []ComplianceViolation
	auditLog   []AuditEntry

	findUserCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[int64]*User),
		properties:  make(map[int64]*Property),
		access:      make(map[int64][]PropertyAccess),
		delegations: make(map[int64][]Delegation),
	}
}

func (s *fakeStore) FindUserWithGrants(ctx context.Context, id int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findUserCalls++
	if s.userErr != nil {
		return nil, s.userErr
	}
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *user
	clone.Grants = append([]Grant(nil), user.Grants...)
	return &clone, nil
}

func (s *fakeStore) FindPermissionByName(ctx context.Context, name string) (string, error) {
	return name, nil
}

func (s *fakeStore) FindProperty(ctx context.Context, id int64) (*Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.propertyErr != nil {
		return nil, s.propertyErr
	}
	prop, ok := s.properties[id]
	if !ok {
		return nil, errFakePropertyMissing
	}
	clone := *prop
	return &clone, nil
}

func (s *fakeStore) FindPropertyAccess(ctx context.Context, userID int64, propertyID *int64) ([]PropertyAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessErr != nil {
		return nil, s.accessErr
	}
	var out []PropertyAccess
	for _, row := range s.access[userID] {
		if propertyID == nil || row.PropertyID == *propertyID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeStore) FindActiveDelegations(ctx context.Context, userID int64, propertyID *int64) ([]Delegation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delegationErr != nil {
		return nil, s.delegationErr
	}
	var out []Delegation
	for _, d := range s.delegations[userID] {
		if !d.IsActive {
			continue
		}
		if propertyID != nil && d.PropertyID != nil && *d.PropertyID != *propertyID {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) ListActivePolicies(ctx context.Context) ([]CompliancePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policiesErr != nil {
		return nil, s.policiesErr
	}
	var out []CompliancePolicy
	for _, p := range s.policies {
		if p.Status == PolicyActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUserIDsByRole(ctx context.Context, role Role) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, user := range s.users {
		if user.Role == role {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fakeStore) ListActiveUsers(ctx context.Context) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []User
	for _, user := range s.users {
		if user.IsActive {
			users = append(users, *user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *fakeStore) CreateViolation(ctx context.Context, v *ComplianceViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.violationErr != nil {
		return s.violationErr
	}
	v.ID = int64(len(s.violations) + 1)
	s.violations = append(s.violations, *v)
	return nil
}

func (s *fakeStore) ViolationSummary(ctx context.Context) (ViolationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats ViolationStats
	for _, v := range s.violations {
		switch v.Status {
		case ViolationOpen:
			stats.Open++
		case ViolationInvestigating:
			stats.Investigating++
		case ViolationResolved:
			stats.Resolved++
		case ViolationFalsePositive:
			stats.FalsePositive++
		}
		switch v.Severity {
		case "critical":
			stats.Critical++
		case "high":
			stats.High++
		case "medium":
			stats.Medium++
		case "low":
			stats.Low++
		}
	}
	return stats, nil
}

func (s *fakeStore) AppendAuditLog(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLog = append(s.auditLog, entry)
	return nil
}

func (s *fakeStore) violationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.violations)
}

func ptr[T any](v T) *T {
	return &v
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
