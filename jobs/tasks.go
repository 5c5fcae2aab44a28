package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskKPIRefresh invalidates the sales and target caches and warms the
	// snapshots the dashboard opens with.
	TaskKPIRefresh = "kpi:refresh"
)

// KPIRefreshPayload parameterises a refresh run.
type KPIRefreshPayload struct {
	Reason string `json:"reason"`
	// Year defaults to the current calendar year.
	Year int `json:"year,omitempty"`
	// SkipInvalidate only warms, leaving cached versions in place.
	SkipInvalidate bool `json:"skipInvalidate,omitempty"`
}

// NewKPIRefreshTask constructs a refresh task.
func NewKPIRefreshTask(payload KPIRefreshPayload) (*asynq.Task, error) {
	if payload.Reason == "" {
		payload.Reason = "scheduled"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskKPIRefresh, data), nil
}
