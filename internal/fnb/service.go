package fnb

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDay rejects business days that are not ISO dates.
var ErrInvalidDay = errors.New("fnb: day must be formatted YYYY-MM-DD")

const idempotencyModule = "fnb"

// RepositoryPort defines data access methods for cost entries.
type RepositoryPort interface {
	InsertEntry(ctx context.Context, e CostEntry) (CostEntry, error)
	GetEntry(ctx context.Context, propertyID, entryID int64) (*CostEntry, error)
	ListEntries(ctx context.Context, propertyID int64, day string) ([]CostEntry, error)
	UpdateEntry(ctx context.Context, e CostEntry) error
	ApproveEntry(ctx context.Context, propertyID, entryID, approverID int64) error
	GetSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error)
	UpsertSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error)
}

// IdempotencyChecker guards duplicate submissions. Satisfied by
// shared.IdempotencyStore.
type IdempotencyChecker interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// RecalcEnqueuer submits summary refresh jobs to the queue.
type RecalcEnqueuer interface {
	EnqueueSummaryRefresh(ctx context.Context, propertyID int64, day string) error
}

// Service handles F&B cost tracking per property.
type Service struct {
	repo        RepositoryPort
	idempotency IdempotencyChecker
	enqueuer    RecalcEnqueuer
	currency    string
}

// NewService builds Service instance. currencyCode is the ISO 4217
// code used when formatting summary totals.
func NewService(repo RepositoryPort, idempotency IdempotencyChecker, enqueuer RecalcEnqueuer, currencyCode string) *Service {
	return &Service{repo: repo, idempotency: idempotency, enqueuer: enqueuer, currency: currencyCode}
}

// RecordEntry stores a new pending cost entry. When an idempotency key
// is supplied the write happens at most once; retries surface
// shared.ErrIdempotencyConflict.
func (s *Service) RecordEntry(ctx context.Context, idempotencyKey string, e CostEntry) (CostEntry, error) {
	if err := validateDay(e.Day); err != nil {
		return CostEntry{}, err
	}
	e.Status = StatusPending

	if idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return CostEntry{}, err
		}
	}
	created, err := s.repo.InsertEntry(ctx, e)
	if err != nil {
		if idempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, idempotencyKey)
		}
		return CostEntry{}, err
	}
	return created, nil
}

// ListEntries returns the entries for one property and day.
func (s *Service) ListEntries(ctx context.Context, propertyID int64, day string) ([]CostEntry, error) {
	if err := validateDay(day); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, propertyID, day)
}

// EditEntry updates a pending entry. Approved entries are immutable.
func (s *Service) EditEntry(ctx context.Context, e CostEntry) error {
	return s.repo.UpdateEntry(ctx, e)
}

// ApproveEntry marks a pending entry approved by the given user.
func (s *Service) ApproveEntry(ctx context.Context, propertyID, entryID, approverID int64) error {
	return s.repo.ApproveEntry(ctx, propertyID, entryID, approverID)
}

// GetSummary returns the stored daily summary with a formatted total.
func (s *Service) GetSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	if err := validateDay(day); err != nil {
		return nil, err
	}
	summary, err := s.repo.GetSummary(ctx, propertyID, day)
	if err != nil {
		return nil, err
	}
	if formatted, ferr := FormatMinor(s.currency, summary.TotalMinor); ferr == nil {
		summary.TotalFormatted = formatted
	}
	return summary, nil
}

// RequestRecalculation enqueues an asynchronous summary refresh.
func (s *Service) RequestRecalculation(ctx context.Context, propertyID int64, day string) error {
	if err := validateDay(day); err != nil {
		return err
	}
	if s.enqueuer == nil {
		return errors.New("fnb: recalculation queue not configured")
	}
	if err := s.enqueuer.EnqueueSummaryRefresh(ctx, propertyID, day); err != nil {
		return fmt.Errorf("fnb: enqueue recalculation: %w", err)
	}
	return nil
}

// RecalculateSummary rebuilds the aggregate synchronously. The worker
// calls this while holding the per-property summary lock.
func (s *Service) RecalculateSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	if err := validateDay(day); err != nil {
		return nil, err
	}
	summary, err := s.repo.UpsertSummary(ctx, propertyID, day)
	if err != nil {
		return nil, err
	}
	if formatted, ferr := FormatMinor(s.currency, summary.TotalMinor); ferr == nil {
		summary.TotalFormatted = formatted
	}
	return summary, nil
}

func validateDay(day string) error {
	if _, err := time.Parse("2006-01-02", day); err != nil {
		return ErrInvalidDay
	}
	return nil
}
