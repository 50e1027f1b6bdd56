package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/innledger/innledger/internal/authz"
	jobmetrics "github.com/innledger/innledger/internal/jobs"
)

// ComplianceScanJob runs the scheduled policy sweep over all active
// users.
type ComplianceScanJob struct {
	Policies *authz.PolicyEngine
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewComplianceScanJob initialises the compliance scan handler.
func NewComplianceScanJob(policies *authz.PolicyEngine, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComplianceScanJob {
	return &ComplianceScanJob{Policies: policies, Logger: logger, Metrics: metrics}
}

// Handle executes the scan.
func (j *ComplianceScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Policies == nil {
		return errors.New("compliance scan: handler not configured")
	}

	tracker := j.metrics().Track(TaskComplianceScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting compliance scan")
	start := time.Now()

	report, err := j.Policies.PerformComplianceScan(ctx)
	if err != nil {
		resultErr = err
		logger.Error("scan failed", slog.Any("error", err))
		return resultErr
	}

	j.metrics().AddViolations("critical", report.CriticalIssues)
	j.metrics().AddViolations("other", report.Violations-report.CriticalIssues)
	for _, rec := range report.Recommendations {
		logger.Warn("compliance recommendation", slog.String("recommendation", rec))
	}

	logger.Info("completed compliance scan",
		slog.Int("users_scanned", report.UsersScanned),
		slog.Int("violations", report.Violations),
		slog.Int("critical_issues", report.CriticalIssues),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ComplianceScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskComplianceScan))
	}
	return slog.Default().With(slog.String("job", TaskComplianceScan))
}

func (j *ComplianceScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
