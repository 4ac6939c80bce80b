package domain

import "time"

// Execution states
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionPartial ExecutionStatus = "partial"
)

// JobExecution records one run of a job. A row is created when the run starts
// and finalized exactly once when it ends; finalized rows are never updated.
type JobExecution struct {
	ID               string          `db:"execution_id" json:"execution_id"`
	JobID            string          `db:"job_id" json:"job_id"`
	StartedAt        time.Time       `db:"started_at" json:"started_at"`
	FinishedAt       *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	Status           ExecutionStatus `db:"status" json:"status"`
	ErrorCategory    string          `db:"error_category" json:"error_category,omitempty"`
	ErrorMessage     string          `db:"error_message" json:"error_message,omitempty"`
	AttemptNumber    int             `db:"attempt_number" json:"attempt_number"`
	RecordsCollected int64           `db:"records_collected" json:"records_collected"`
	RecordsLoaded    int64           `db:"records_loaded" json:"records_loaded"`
}

// CollectionLogEntry records one attempted collection call inside a run.
// A successful run without any log entries is valid (an incremental run with
// no gaps makes no calls); records_loaded on the execution is the success
// signal, not log presence.
type CollectionLogEntry struct {
	ID               string        `db:"log_id" json:"log_id"`
	ExecutionID      string        `db:"execution_id" json:"execution_id,omitempty"`
	AssetID          int64         `db:"asset_id" json:"asset_id"`
	CollectorType    string        `db:"collector_type" json:"collector_type"`
	StartDate        time.Time     `db:"start_date" json:"start_date"`
	EndDate          time.Time     `db:"end_date" json:"end_date"`
	RecordsCollected int64         `db:"records_collected" json:"records_collected"`
	RecordsLoaded    int64         `db:"records_loaded" json:"records_loaded"`
	Status           string        `db:"status" json:"status"`
	ErrorMessage     string        `db:"error_message" json:"error_message,omitempty"`
	ExecutionTime    time.Duration `db:"execution_time_ms" json:"execution_time_ms"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
}

// ExecutionResult is what a pipeline run reports back to the scheduler.
// Failures are carried here; the pipeline never returns an error past its
// own boundary.
type ExecutionResult struct {
	Status           ExecutionStatus
	RecordsCollected int64
	RecordsLoaded    int64
	Category         FailureCategory
	Err              error
}
