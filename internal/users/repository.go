package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/innledger/innledger/internal/authz"
	"github.com/innledger/innledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUsers returns one page of users ordered by id.
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, email, name, role, COALESCE(department, ''), is_active, created_at, updated_at
		 FROM users ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("users: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// GetUser loads one user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, role, COALESCE(department, ''), is_active, created_at, updated_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Department, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: get: %w", err)
	}
	return &u, nil
}

// UpdateRole writes the new role and returns the previous one.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role authz.Role) (authz.Role, error) {
	var old authz.Role
	err := r.pool.QueryRow(ctx,
		`UPDATE users u SET role = $2, updated_at = NOW()
		 FROM (SELECT role FROM users WHERE id = $1 FOR UPDATE) prev
		 WHERE u.id = $1
		 RETURNING prev.role`, id, role).Scan(&old)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", shared.ErrNotFound
		}
		return "", fmt.Errorf("users: update role: %w", err)
	}
	return old, nil
}

// SetActive toggles the account's active flag.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("users: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
