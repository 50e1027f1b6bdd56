package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/innledger/innledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskComplianceScan sweeps every active user against the active
	// compliance policies.
	TaskComplianceScan = "authz:compliance_scan"
	// TaskSummaryRefresh rebuilds the F&B daily summary for one
	// property and business day.
	TaskSummaryRefresh = "fnb:summary_refresh"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SummaryRefreshPayload identifies the summary to rebuild.
type SummaryRefreshPayload struct {
	PropertyID int64  `json:"property_id"`
	Day        string `json:"day"`
}

// NewComplianceScanTask constructs an Asynq task for the nightly scan.
func NewComplianceScanTask() *asynq.Task {
	return asynq.NewTask(TaskComplianceScan, nil)
}

// NewSummaryRefreshTask constructs an Asynq task for a summary refresh.
func NewSummaryRefreshTask(payload SummaryRefreshPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryRefresh, data), nil
}
