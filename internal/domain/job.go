package domain

import (
	"math"
	"time"
)

// Job lifecycle states
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusPaused    JobStatus = "paused"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCompleted JobStatus = "completed"
)

// Trigger types
type TriggerType string

const (
	TriggerInterval TriggerType = "interval"
	TriggerCron     TriggerType = "cron"
	TriggerOnce     TriggerType = "once"
)

// Trigger describes when a job becomes due. Exactly one of Interval or
// CronExpr is meaningful depending on Type; a "once" trigger carries neither
// and runs immediately upon creation.
type Trigger struct {
	Type     TriggerType   `json:"type"`
	Interval time.Duration `json:"interval,omitempty"`
	CronExpr string        `json:"cron_expr,omitempty"`
}

// RetryPolicy controls automatic rescheduling after transient failures.
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// Delay returns the backoff delay for the n-th consecutive failure (1-based):
// initial_delay * multiplier^(n-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	return time.Duration(float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1)))
}

// Job is a persisted collection job. IDs are assigned by the caller and are
// stable across the job's lifetime.
type Job struct {
	ID          string            `db:"job_id" json:"job_id"`
	Symbol      string            `db:"symbol" json:"symbol"`
	AssetType   string            `db:"asset_type" json:"asset_type"`
	Provider    string            `db:"provider" json:"provider"`
	Trigger     Trigger           `db:"-" json:"trigger"`
	Params      map[string]string `db:"-" json:"params,omitempty"`
	Incremental bool              `db:"incremental" json:"incremental"`
	RangeStart  *time.Time        `db:"range_start" json:"range_start,omitempty"`
	RangeEnd    *time.Time        `db:"range_end" json:"range_end,omitempty"`
	Retry       RetryPolicy       `db:"-" json:"retry"`
	Status      JobStatus         `db:"status" json:"status"`
	NextRunAt   *time.Time        `db:"next_run_at" json:"next_run_at,omitempty"`
	LastRunAt   *time.Time        `db:"last_run_at" json:"last_run_at,omitempty"`
	Attempt     int               `db:"attempt" json:"attempt"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// Dependency conditions
type DependencyCondition string

const (
	DependencyOnSuccess  DependencyCondition = "success"
	DependencyOnComplete DependencyCondition = "complete"
	DependencyOnAny      DependencyCondition = "any"
)

// JobDependency is a directed edge: JobID may not run until DependsOnJobID
// satisfies Condition. The set of edges must stay acyclic.
type JobDependency struct {
	JobID          string              `db:"job_id" json:"job_id"`
	DependsOnJobID string              `db:"depends_on_job_id" json:"depends_on_job_id"`
	Condition      DependencyCondition `db:"condition" json:"condition"`
}
