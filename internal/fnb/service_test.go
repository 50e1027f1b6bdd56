package fnb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innledger/innledger/internal/shared"
)

type mockRepo struct {
	entries   map[int64]*CostEntry
	nextID    int64
	insertErr error
	summaries map[string]*DailySummary
}

func newMockRepo() *mockRepo {
	return &mockRepo{entries: map[int64]*CostEntry{}, nextID: 1, summaries: map[string]*DailySummary{}}
}

func summaryKey(propertyID int64, day string) string {
	return fmt.Sprintf("%d/%s", propertyID, day)
}

func (m *mockRepo) InsertEntry(ctx context.Context, e CostEntry) (CostEntry, error) {
	if m.insertErr != nil {
		return CostEntry{}, m.insertErr
	}
	e.ID = m.nextID
	m.nextID++
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	clone := e
	m.entries[e.ID] = &clone
	return e, nil
}

func (m *mockRepo) GetEntry(ctx context.Context, propertyID, entryID int64) (*CostEntry, error) {
	e, ok := m.entries[entryID]
	if !ok || e.PropertyID != propertyID {
		return nil, shared.ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (m *mockRepo) ListEntries(ctx context.Context, propertyID int64, day string) ([]CostEntry, error) {
	var out []CostEntry
	for _, e := range m.entries {
		if e.PropertyID == propertyID && e.Day == day {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *mockRepo) UpdateEntry(ctx context.Context, e CostEntry) error {
	existing, ok := m.entries[e.ID]
	if !ok || existing.PropertyID != e.PropertyID || existing.Status != StatusPending {
		return shared.ErrNotFound
	}
	existing.Category = e.Category
	existing.Description = e.Description
	existing.AmountMinor = e.AmountMinor
	return nil
}

func (m *mockRepo) ApproveEntry(ctx context.Context, propertyID, entryID, approverID int64) error {
	e, ok := m.entries[entryID]
	if !ok || e.PropertyID != propertyID || e.Status != StatusPending {
		return shared.ErrNotFound
	}
	e.Status = StatusApproved
	e.ApprovedBy = &approverID
	return nil
}

func (m *mockRepo) GetSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	s, ok := m.summaries[summaryKey(propertyID, day)]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *s
	return &clone, nil
}

func (m *mockRepo) UpsertSummary(ctx context.Context, propertyID int64, day string) (*DailySummary, error) {
	s := &DailySummary{PropertyID: propertyID, Day: day, RecalculatedAt: time.Now()}
	for _, e := range m.entries {
		if e.PropertyID == propertyID && e.Day == day {
			s.TotalMinor += e.AmountMinor
			s.EntryCount++
		}
	}
	m.summaries[summaryKey(propertyID, day)] = s
	clone := *s
	return &clone, nil
}

type mockIdempotency struct {
	seen    map[string]bool
	deleted []string
}

func newMockIdempotency() *mockIdempotency {
	return &mockIdempotency{seen: map[string]bool{}}
}

func (m *mockIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = true
	return nil
}

func (m *mockIdempotency) Delete(ctx context.Context, key string) error {
	delete(m.seen, key)
	m.deleted = append(m.deleted, key)
	return nil
}

type mockEnqueuer struct {
	calls []string
	err   error
}

func (m *mockEnqueuer) EnqueueSummaryRefresh(ctx context.Context, propertyID int64, day string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, day)
	return nil
}

func TestRecordEntry(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, newMockIdempotency(), nil, "NOK")

	created, err := svc.RecordEntry(context.Background(), "key-1", CostEntry{
		PropertyID: 10, Day: "2026-03-14", Category: "produce", AmountMinor: 42050, EnteredBy: 7,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, int64(1), created.ID)
}

func TestRecordEntryDuplicateKey(t *testing.T) {
	repo := newMockRepo()
	idem := newMockIdempotency()
	svc := NewService(repo, idem, nil, "NOK")

	entry := CostEntry{PropertyID: 10, Day: "2026-03-14", Category: "produce", AmountMinor: 100}
	_, err := svc.RecordEntry(context.Background(), "key-1", entry)
	require.NoError(t, err)

	_, err = svc.RecordEntry(context.Background(), "key-1", entry)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Len(t, repo.entries, 1, "duplicate submissions never double-write")
}

func TestRecordEntryReleasesKeyOnFailure(t *testing.T) {
	repo := newMockRepo()
	repo.insertErr = errors.New("boom")
	idem := newMockIdempotency()
	svc := NewService(repo, idem, nil, "NOK")

	_, err := svc.RecordEntry(context.Background(), "key-1", CostEntry{
		PropertyID: 10, Day: "2026-03-14", Category: "produce", AmountMinor: 100,
	})
	require.Error(t, err)
	assert.Equal(t, []string{"key-1"}, idem.deleted, "key is released so the client can retry")
}

func TestRecordEntryRejectsBadDay(t *testing.T) {
	svc := NewService(newMockRepo(), nil, nil, "NOK")
	_, err := svc.RecordEntry(context.Background(), "", CostEntry{Day: "14/03/2026", Category: "produce", AmountMinor: 1})
	require.ErrorIs(t, err, ErrInvalidDay)
}

func TestApproveEntryIsTerminal(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil, "NOK")

	created, err := svc.RecordEntry(context.Background(), "", CostEntry{
		PropertyID: 10, Day: "2026-03-14", Category: "produce", AmountMinor: 100,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ApproveEntry(context.Background(), 10, created.ID, 3))
	assert.Equal(t, StatusApproved, repo.entries[created.ID].Status)
	assert.Equal(t, int64(3), *repo.entries[created.ID].ApprovedBy)

	// Approved entries can no longer be edited or re-approved.
	err = svc.EditEntry(context.Background(), CostEntry{ID: created.ID, PropertyID: 10, Category: "dairy", AmountMinor: 200})
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = svc.ApproveEntry(context.Background(), 10, created.ID, 4)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRecalculateSummaryAggregates(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, nil, nil, "NOK")

	for _, amount := range []int64{10000, 25050} {
		_, err := svc.RecordEntry(context.Background(), "", CostEntry{
			PropertyID: 10, Day: "2026-03-14", Category: "produce", AmountMinor: amount,
		})
		require.NoError(t, err)
	}

	summary, err := svc.RecalculateSummary(context.Background(), 10, "2026-03-14")
	require.NoError(t, err)
	assert.Equal(t, int64(35050), summary.TotalMinor)
	assert.Equal(t, 2, summary.EntryCount)
	assert.Contains(t, summary.TotalFormatted, "350.50")
}

func TestRequestRecalculationEnqueues(t *testing.T) {
	enq := &mockEnqueuer{}
	svc := NewService(newMockRepo(), nil, enq, "NOK")

	require.NoError(t, svc.RequestRecalculation(context.Background(), 10, "2026-03-14"))
	assert.Equal(t, []string{"2026-03-14"}, enq.calls)

	err := svc.RequestRecalculation(context.Background(), 10, "not-a-day")
	require.ErrorIs(t, err, ErrInvalidDay)
	assert.Len(t, enq.calls, 1)
}

func TestRequestRecalculationQueueFailure(t *testing.T) {
	enq := &mockEnqueuer{err: errors.New("redis down")}
	svc := NewService(newMockRepo(), nil, enq, "NOK")

	err := svc.RequestRecalculation(context.Background(), 10, "2026-03-14")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enqueue recalculation")
}

func TestFormatMinor(t *testing.T) {
	formatted, err := FormatMinor("NOK", 123456)
	require.NoError(t, err)
	assert.Contains(t, formatted, "1,234.56")
	assert.True(t, strings.Contains(formatted, "NOK") || strings.Contains(formatted, "kr"))

	_, err = FormatMinor("WAT", 100)
	require.Error(t, err)
}
