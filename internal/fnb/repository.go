package fnb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/innledger/innledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for cost entries
// and daily summaries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEntry stores a new cost entry and returns it with its id.
func (r *Repository) InsertEntry(ctx context.Context, e CostEntry) (CostEntry, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO fnb_cost_entries (property_id, day, category, description, amount_minor, status, entered_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		e.PropertyID, e.Day, e.Category, e.Description, e.AmountMinor, e.Status, e.EnteredBy).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return CostEntry{}, fmt.Errorf("fnb: insert entry: %w", err)
	}
	return e, nil
}

// GetEntry loads one cost entry scoped to a property.
func (r *Repository) GetEntry(ctx context.Context, propertyID, entryID int64) (*CostEntry, error) {
	var e CostEntry
	err := r.pool.QueryRow(ctx,
		`SELECT id, property_id, day::text, category, description, amount_minor, status, entered_by, approved_by, created_at, updated_at
		 FROM fnb_cost_entries WHERE id = $1 AND property_id = $2`, entryID, propertyID).
		Scan(&e.ID, &e.PropertyID, &e.Day, &e.Category, &e.Description, &e.AmountMinor, &e.Status, &e.EnteredBy, &e.ApprovedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("fnb: get entry: %w", err)
	}
	return &e, nil
}

// ListEntries returns entries for a property and day ordered by id.
func (r *Repository) ListEntries(ctx context.Context, propertyID int64, day string) ([]CostEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, property_id, day::text, category, description, amount_minor, status, entered_by, approved_by, created_at, updated_at
		 FROM fnb_cost_entries WHERE property_id = $1 AND day = $2 ORDER BY id`, propertyID, day)
	if err != nil {
		return nil, fmt.Errorf("fnb: list entries: %w", err)
	}
	defer rows.Close()

	var out []CostEntry
	for rows.Next() {
		var e CostEntry
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.Day, &e.Category, &e.Description, &e.AmountMinor, &e.Status, &e.EnteredBy, &e.ApprovedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("fnb: scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateEntry edits the mutable fields of a pending entry.
func (r *Repository) UpdateEntry(ctx context.Context, e CostEntry) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE fnb_cost_entries
		 SET category = $3, description = $4, amount_minor = $5, updated_at = NOW()
		 WHERE id = $1 AND property_id = $2 AND status = $6`,
		e.ID, e.PropertyID, e.Category, e.Description, e.AmountMinor, StatusPending)
	if err != nil {
		return fmt.Errorf("fnb: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ApproveEntry transitions a pending entry to approved.
func (r *Repository) ApproveEntry(ctx context.Context, propertyID, entryID, approverID int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE fnb_cost_entries
		 SET status = $4, approved_by = $3, updated_at = NOW()
		 WHERE id = $1 AND property_id = $2 AND status = $5`,
		entryID, propertyID, approverID, StatusApproved, StatusPending)
	if err != nil {
		return fmt.Errorf("fnb: approve entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// GetSummary loads the stored summary for a property and day.
func (r *Repository) GetSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	var s DailySummary
	err := r.pool.QueryRow(ctx,
		`SELECT property_id, day::text, total_minor, entry_count, recalculated_at
		 FROM fnb_daily_summaries WHERE property_id = $1 AND day = $2`, propertyID, day).
		Scan(&s.PropertyID, &s.Day, &s.TotalMinor, &s.EntryCount, &s.RecalculatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("fnb: get summary: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT category, SUM(amount_minor)
		 FROM fnb_cost_entries WHERE property_id = $1 AND day = $2 GROUP BY category`, propertyID, day)
	if err != nil {
		return nil, fmt.Errorf("fnb: summary categories: %w", err)
	}
	defer rows.Close()

	s.ByCategory = make(map[string]int64)
	for rows.Next() {
		var category string
		var total int64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("fnb: scan category: %w", err)
		}
		s.ByCategory[category] = total
	}
	return &s, rows.Err()
}

// UpsertSummary recomputes the aggregate from cost entries and stores
// it, returning the fresh summary.
func (r *Repository) UpsertSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	var s DailySummary
	err := r.pool.QueryRow(ctx,
		`INSERT INTO fnb_daily_summaries (property_id, day, total_minor, entry_count, recalculated_at)
		 SELECT $1, $2, COALESCE(SUM(amount_minor), 0), COUNT(*), NOW()
		 FROM fnb_cost_entries WHERE property_id = $1 AND day = $2
		 ON CONFLICT (property_id, day)
		 DO UPDATE SET total_minor = EXCLUDED.total_minor, entry_count = EXCLUDED.entry_count, recalculated_at = EXCLUDED.recalculated_at
		 RETURNING property_id, day::text, total_minor, entry_count, recalculated_at`,
		propertyID, day).
		Scan(&s.PropertyID, &s.Day, &s.TotalMinor, &s.EntryCount, &s.RecalculatedAt)
	if err != nil {
		return nil, fmt.Errorf("fnb: upsert summary: %w", err)
	}
	return &s, nil
}
