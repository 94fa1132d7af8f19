package model

import "time"

// RunStatus represents the status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PipelineRun records one invocation of a pipeline stage.
type PipelineRun struct {
	ID          string         `json:"id"`
	Stage       string         `json:"stage"`
	Status      RunStatus      `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Rows        int64          `json:"rows"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
