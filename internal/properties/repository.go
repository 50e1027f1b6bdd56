package properties

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/innledger/innledger/internal/shared"
)

// ErrDuplicateName indicates a property name collision.
var ErrDuplicateName = errors.New("properties: name already exists")

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListProperties returns every property ordered by id.
func (r *Repository) ListProperties(ctx context.Context) ([]Property, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, parent_id, owner_id, manager_id, created_at, updated_at
		 FROM properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("properties: list: %w", err)
	}
	defer rows.Close()

	var out []Property
	for rows.Next() {
		var p Property
		if err := rows.Scan(&p.ID, &p.Name, &p.ParentID, &p.OwnerID, &p.ManagerID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("properties: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProperty loads one property by id.
func (r *Repository) GetProperty(ctx context.Context, id int64) (*Property, error) {
	var p Property
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, parent_id, owner_id, manager_id, created_at, updated_at
		 FROM properties WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.ParentID, &p.OwnerID, &p.ManagerID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("properties: get: %w", err)
	}
	return &p, nil
}

// CreateProperty inserts a property and returns it.
func (r *Repository) CreateProperty(ctx context.Context, p Property) (Property, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO properties (name, parent_id, owner_id, manager_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		p.Name, p.ParentID, p.OwnerID, p.ManagerID).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Property{}, ErrDuplicateName
		}
		return Property{}, fmt.Errorf("properties: create: %w", err)
	}
	return p, nil
}

// DeleteProperty removes a property and its access rows, returning the
// user ids that held explicit access.
func (r *Repository) DeleteProperty(ctx context.Context, id int64) ([]int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("properties: begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM property_access WHERE property_id = $1 RETURNING user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("properties: delete access: %w", err)
	}
	var affected []int64
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("properties: scan access: %w", err)
		}
		affected = append(affected, userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM properties WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("properties: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, shared.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("properties: commit delete: %w", err)
	}
	return affected, nil
}

// UpsertAccess grants or updates a user's access to a property.
func (r *Repository) UpsertAccess(ctx context.Context, a Access) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO property_access (user_id, property_id, level, expires_at, granted_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id, property_id)
		 DO UPDATE SET level = EXCLUDED.level, expires_at = EXCLUDED.expires_at, granted_at = NOW()`,
		a.UserID, a.PropertyID, a.Level, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("properties: upsert access: %w", err)
	}
	return nil
}

// DeleteAccess revokes a user's access to a property.
func (r *Repository) DeleteAccess(ctx context.Context, userID, propertyID int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM property_access WHERE user_id = $1 AND property_id = $2`, userID, propertyID)
	if err != nil {
		return fmt.Errorf("properties: delete access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// TransferOwnership assigns a new owner and returns the previous one.
func (r *Repository) TransferOwnership(ctx context.Context, id int64, newOwnerID int64) (*int64, error) {
	var old *int64
	err := r.pool.QueryRow(ctx,
		`UPDATE properties p SET owner_id = $2, updated_at = NOW()
		 FROM (SELECT owner_id FROM properties WHERE id = $1 FOR UPDATE) prev
		 WHERE p.id = $1
		 RETURNING prev.owner_id`, id, newOwnerID).Scan(&old)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("properties: transfer ownership: %w", err)
	}
	return old, nil
}
