package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the PostgreSQL-backed PermissionStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindUserWithGrants loads the user row plus every direct grant,
// including expired and denial rows. Filtering is the engine's job.
func (r *Repository) FindUserWithGrants(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, role, department, is_active FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.Department, &user.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("authz: find user: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, permission, granted, expires_at, granted_by FROM user_permissions WHERE user_id = $1 ORDER BY permission`, id)
	if err != nil {
		return nil, fmt.Errorf("authz: load grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserID, &g.Permission, &g.Granted, &g.ExpiresAt, &g.GrantedBy); err != nil {
			return nil, fmt.Errorf("authz: scan grant: %w", err)
		}
		user.Grants = append(user.Grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate grants: %w", err)
	}
	return &user, nil
}

// FindPermissionByName resolves a permission by its unique name.
func (r *Repository) FindPermissionByName(ctx context.Context, name string) (string, error) {
	var found string
	err := r.pool.QueryRow(ctx, `SELECT name FROM permissions WHERE name = $1`, name).Scan(&found)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("authz: permission %q: %w", name, pgx.ErrNoRows)
		}
		return "", fmt.Errorf("authz: find permission: %w", err)
	}
	return found, nil
}

// FindProperty loads ownership, management and the parent link.
func (r *Repository) FindProperty(ctx context.Context, id int64) (*Property, error) {
	var p Property
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_id, owner_id, manager_id FROM properties WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.ParentID, &p.OwnerID, &p.ManagerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("authz: property %d: %w", id, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("authz: find property: %w", err)
	}
	return &p, nil
}

// FindPropertyAccess returns the user's access rows, optionally scoped
// to one property.
func (r *Repository) FindPropertyAccess(ctx context.Context, userID int64, propertyID *int64) ([]PropertyAccess, error) {
	query := `SELECT user_id, property_id, access_level, expires_at FROM property_access WHERE user_id = $1`
	args := []any{userID}
	if propertyID != nil {
		query += ` AND property_id = $2`
		args = append(args, *propertyID)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY property_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("authz: property access: %w", err)
	}
	defer rows.Close()
	var access []PropertyAccess
	for rows.Next() {
		var a PropertyAccess
		if err := rows.Scan(&a.UserID, &a.PropertyID, &a.Level, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("authz: scan property access: %w", err)
		}
		access = append(access, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate property access: %w", err)
	}
	return access, nil
}

// FindActiveDelegations returns active delegations targeting the user.
// Expiry is re-checked in the engine against its own clock.
func (r *Repository) FindActiveDelegations(ctx context.Context, userID int64, propertyID *int64) ([]Delegation, error) {
	query := `SELECT id, from_user_id, to_user_id, permissions, property_id, expires_at, is_active
	          FROM delegations WHERE to_user_id = $1 AND is_active`
	args := []any{userID}
	if propertyID != nil {
		query += ` AND (property_id IS NULL OR property_id = $2)`
		args = append(args, *propertyID)
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("authz: delegations: %w", err)
	}
	defer rows.Close()
	var delegations []Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.FromUserID, &d.ToUserID, &d.Permissions, &d.PropertyID, &d.ExpiresAt, &d.IsActive); err != nil {
			return nil, fmt.Errorf("authz: scan delegation: %w", err)
		}
		delegations = append(delegations, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate delegations: %w", err)
	}
	return delegations, nil
}

// ListActivePolicies returns active policies; rules are stored as JSONB.
func (r *Repository) ListActivePolicies(ctx context.Context) ([]CompliancePolicy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, type, status, rules, enforcement, priority, on_error
		 FROM compliance_policies WHERE status = 'active' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("authz: list policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// ListPolicies returns every policy regardless of status.
func (r *Repository) ListPolicies(ctx context.Context) ([]CompliancePolicy, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, type, status, rules, enforcement, priority, on_error
		 FROM compliance_policies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("authz: list policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicies(rows pgx.Rows) ([]CompliancePolicy, error) {
	var policies []CompliancePolicy
	for rows.Next() {
		var (
			p        CompliancePolicy
			rulesRaw []byte
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Status, &rulesRaw, &p.Enforcement, &p.Priority, &p.OnError); err != nil {
			return nil, fmt.Errorf("authz: scan policy: %w", err)
		}
		if len(rulesRaw) > 0 {
			if err := json.Unmarshal(rulesRaw, &p.Rules); err != nil {
				return nil, fmt.Errorf("authz: decode rules for policy %d: %w", p.ID, err)
			}
		}
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate policies: %w", err)
	}
	return policies, nil
}

// CreatePolicy inserts a policy and returns it with its assigned ID.
func (r *Repository) CreatePolicy(ctx context.Context, p CompliancePolicy) (CompliancePolicy, error) {
	rulesRaw, err := json.Marshal(p.Rules)
	if err != nil {
		return CompliancePolicy{}, fmt.Errorf("authz: encode rules: %w", err)
	}
	if p.OnError == "" {
		p.OnError = FailOpen
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO compliance_policies (name, type, status, rules, enforcement, priority, on_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		p.Name, p.Type, p.Status, rulesRaw, p.Enforcement, p.Priority, p.OnError,
	).Scan(&p.ID)
	if err != nil {
		return CompliancePolicy{}, fmt.Errorf("authz: create policy: %w", err)
	}
	return p, nil
}

// ListUserIDsByRole returns IDs of users currently holding the role.
func (r *Repository) ListUserIDsByRole(ctx context.Context, role Role) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role = $1 ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("authz: users by role: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("authz: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate user ids: %w", err)
	}
	return ids, nil
}

// ListActiveUsers returns active users without their grants; the scan
// loads grants lazily through the policy engine when needed.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, role, department, is_active FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("authz: list active users: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Department, &u.IsActive); err != nil {
			return nil, fmt.Errorf("authz: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("authz: iterate users: %w", err)
	}
	return users, nil
}

// CreateViolation persists a violation and backfills the generated ID.
func (r *Repository) CreateViolation(ctx context.Context, v *ComplianceViolation) error {
	evidence, err := json.Marshal(v.Evidence)
	if err != nil {
		return fmt.Errorf("authz: encode evidence: %w", err)
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO compliance_violations (reference, policy_id, policy_name, user_id, severity, status, evidence, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		v.Reference, v.PolicyID, v.PolicyName, v.UserID, v.Severity, v.Status, evidence, v.DetectedAt,
	).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("authz: create violation: %w", err)
	}
	return nil
}

// ViolationSummary aggregates violation counts by status and severity.
func (r *Repository) ViolationSummary(ctx context.Context) (ViolationStats, error) {
	var stats ViolationStats
	err := r.pool.QueryRow(ctx, `SELECT
		COUNT(*) FILTER (WHERE status = 'open'),
		COUNT(*) FILTER (WHERE status = 'investigating'),
		COUNT(*) FILTER (WHERE status = 'resolved'),
		COUNT(*) FILTER (WHERE status = 'false_positive'),
		COUNT(*) FILTER (WHERE severity = 'critical'),
		COUNT(*) FILTER (WHERE severity = 'high'),
		COUNT(*) FILTER (WHERE severity = 'medium'),
		COUNT(*) FILTER (WHERE severity = 'low')
		FROM compliance_violations`,
	).Scan(&stats.Open, &stats.Investigating, &stats.Resolved, &stats.FalsePositive,
		&stats.Critical, &stats.High, &stats.Medium, &stats.Low)
	if err != nil {
		return ViolationStats{}, fmt.Errorf("authz: violation summary: %w", err)
	}
	return stats, nil
}

// AppendAuditLog writes a best-effort audit record.
func (r *Repository) AppendAuditLog(ctx context.Context, entry AuditEntry) error {
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("authz: encode audit meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, meta, at)
	if err != nil {
		return fmt.Errorf("authz: append audit log: %w", err)
	}
	return nil
}
