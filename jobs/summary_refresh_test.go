package jobs

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innledger/innledger/internal/fnb"
	"github.com/innledger/innledger/internal/shared"
)

type stubSummaryRepo struct {
	upserts int
}

func (s *stubSummaryRepo) InsertEntry(ctx context.Context, e fnb.CostEntry) (fnb.CostEntry, error) {
	return e, nil
}

func (s *stubSummaryRepo) GetEntry(ctx context.Context, propertyID, entryID int64) (*fnb.CostEntry, error) {
	return nil, shared.ErrNotFound
}

func (s *stubSummaryRepo) ListEntries(ctx context.Context, propertyID int64, day string) ([]fnb.CostEntry, error) {
	return nil, nil
}

func (s *stubSummaryRepo) UpdateEntry(ctx context.Context, e fnb.CostEntry) error { return nil }

func (s *stubSummaryRepo) ApproveEntry(ctx context.Context, propertyID, entryID, approverID int64) error {
	return nil
}

func (s *stubSummaryRepo) GetSummary(ctx context.Context, propertyID int64, day string) (*fnb.DailySummary, error) {
	return nil, shared.ErrNotFound
}

func (s *stubSummaryRepo) UpsertSummary(ctx context.Context, propertyID int64, day string) (*fnb.DailySummary, error) {
	s.upserts++
	return &fnb.DailySummary{PropertyID: propertyID, Day: day, TotalMinor: 1000, EntryCount: 1}, nil
}

func newRefreshFixture(t *testing.T) (*SummaryRefreshJob, *stubSummaryRepo, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := &stubSummaryRepo{}
	svc := fnb.NewService(repo, nil, nil, "NOK")
	return NewSummaryRefreshJob(svc, rdb, nil, nil), repo, rdb
}

func TestSummaryRefreshRecalculates(t *testing.T) {
	job, repo, rdb := newRefreshFixture(t)

	task, err := NewSummaryRefreshTask(SummaryRefreshPayload{PropertyID: 10, Day: "2026-03-14"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 1, repo.upserts)

	// The lock is released after a successful run.
	exists, err := rdb.Exists(context.Background(), shared.SummaryLockKey(10, "2026-03-14")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestSummaryRefreshSkipsWhenLocked(t *testing.T) {
	job, repo, rdb := newRefreshFixture(t)

	lockKey := shared.SummaryLockKey(10, "2026-03-14")
	require.NoError(t, rdb.Set(context.Background(), lockKey, "1", summaryLockTTL).Err())

	task, err := NewSummaryRefreshTask(SummaryRefreshPayload{PropertyID: 10, Day: "2026-03-14"})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Zero(t, repo.upserts, "a concurrent refresh holds the lock")

	// The foreign lock is left untouched.
	exists, err := rdb.Exists(context.Background(), lockKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
