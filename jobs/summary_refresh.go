package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/innledger/innledger/internal/fnb"
	jobmetrics "github.com/innledger/innledger/internal/jobs"
	"github.com/innledger/innledger/internal/shared"
)

// summaryLockTTL bounds how long a refresh may hold the per-property
// lock before it expires on its own.
const summaryLockTTL = 2 * time.Minute

// SummaryRefreshJob rebuilds F&B daily summaries. A redis lock keyed by
// property and day keeps concurrent refreshes from racing each other.
type SummaryRefreshJob struct {
	Summaries *fnb.Service
	Redis     *redis.Client
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSummaryRefreshJob initialises the summary refresh handler.
func NewSummaryRefreshJob(summaries *fnb.Service, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryRefreshJob {
	return &SummaryRefreshJob{Summaries: summaries, Redis: rdb, Logger: logger, Metrics: metrics}
}

// Handle executes one refresh.
func (j *SummaryRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Summaries == nil {
		return errors.New("summary refresh: handler not configured")
	}
	var payload SummaryRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSummaryRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.Int64("property_id", payload.PropertyID),
		slog.String("day", payload.Day),
	)

	if j.Redis != nil {
		lockKey := shared.SummaryLockKey(payload.PropertyID, payload.Day)
		acquired, err := j.Redis.SetNX(ctx, lockKey, "1", summaryLockTTL).Result()
		if err != nil {
			resultErr = err
			logger.Error("lock acquisition failed", slog.Any("error", err))
			return resultErr
		}
		if !acquired {
			logger.Info("refresh already in flight, skipping")
			return nil
		}
		defer func() {
			if err := j.Redis.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
				logger.Warn("lock release failed", slog.Any("error", err))
			}
		}()
	}

	summary, err := j.Summaries.RecalculateSummary(ctx, payload.PropertyID, payload.Day)
	if err != nil {
		resultErr = err
		logger.Error("refresh failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("summary refreshed",
		slog.Int64("total_minor", summary.TotalMinor),
		slog.Int("entries", summary.EntryCount),
	)
	return resultErr
}

func (j *SummaryRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSummaryRefresh))
	}
	return slog.Default().With(slog.String("job", TaskSummaryRefresh))
}

func (j *SummaryRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
