package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/innledger/innledger/internal/authz"
)

// Entry represents a record stored in audit_logs.
type Entry struct {
	ID         int64          `json:"id"`
	ActorID    int64          `json:"actor_id"`
	Action     string         `json:"action"`
	Entity     string         `json:"entity"`
	EntityID   string         `json:"entity_id"`
	Meta       map[string]any `json:"meta,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Service writes and queries audit_logs.
type Service struct {
	pool *pgxpool.Pool
}

// NewService returns a new audit Service.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Record persists the log entry.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if s == nil {
		return errors.New("audit service not initialised")
	}
	if entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit: marshal meta: %w", err)
	}
	at := entry.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, at)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_id, action, entity, entity_id, meta, occurred_at
		 FROM audit_logs ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry Entry
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &meta, &entry.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &entry.Meta)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// RecentTargetActions returns entries of the given action that name the
// user as target, newest first. Satisfies the reader interface of the
// audit-log inheritance source.
func (s *Service) RecentTargetActions(ctx context.Context, targetUserID int64, action string, since time.Time) ([]authz.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT actor_id, action, entity, entity_id, meta, occurred_at
		 FROM audit_logs
		 WHERE action = $1 AND entity = 'user' AND entity_id = $2 AND occurred_at >= $3
		 ORDER BY occurred_at DESC`,
		action, fmt.Sprintf("%d", targetUserID), since)
	if err != nil {
		return nil, fmt.Errorf("audit: recent target actions: %w", err)
	}
	defer rows.Close()

	var out []authz.AuditEntry
	for rows.Next() {
		var (
			entry authz.AuditEntry
			meta  []byte
		)
		if err := rows.Scan(&entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &meta, &entry.At); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &entry.Meta)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

var _ authz.AuditReader = (*Service)(nil)
