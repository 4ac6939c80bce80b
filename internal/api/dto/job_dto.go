package dto

import (
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// TriggerDTO is the wire form of a trigger; interval is seconds.
type TriggerDTO struct {
	Type         string `json:"type" binding:"required"`
	IntervalSecs int64  `json:"interval_secs,omitempty"`
	CronExpr     string `json:"cron_expr,omitempty"`
}

// RetryDTO is the wire form of a retry policy; delay is seconds.
type RetryDTO struct {
	MaxRetries        int     `json:"max_retries"`
	InitialDelaySecs  int64   `json:"initial_delay_secs"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DependencyDTO is one incoming dependency edge.
type DependencyDTO struct {
	DependsOnJobID string `json:"depends_on_job_id" binding:"required"`
	Condition      string `json:"condition,omitempty"`
}

type CreateJobRequest struct {
	JobID        string            `json:"job_id" binding:"required"`
	Symbol       string            `json:"symbol" binding:"required"`
	AssetType    string            `json:"asset_type" binding:"required"`
	Provider     string            `json:"provider" binding:"required"`
	Trigger      TriggerDTO        `json:"trigger" binding:"required"`
	Params       map[string]string `json:"params,omitempty"`
	Incremental  bool              `json:"incremental"`
	RangeStart   *time.Time        `json:"range_start,omitempty"`
	RangeEnd     *time.Time        `json:"range_end,omitempty"`
	Retry        *RetryDTO         `json:"retry,omitempty"`
	Dependencies []DependencyDTO   `json:"dependencies,omitempty"`
}

// UpdateJobRequest carries only the fields to change.
type UpdateJobRequest struct {
	Symbol      *string            `json:"symbol,omitempty"`
	AssetType   *string            `json:"asset_type,omitempty"`
	Provider    *string            `json:"provider,omitempty"`
	Trigger     *TriggerDTO        `json:"trigger,omitempty"`
	Params      *map[string]string `json:"params,omitempty"`
	Incremental *bool              `json:"incremental,omitempty"`
	RangeStart  *time.Time         `json:"range_start,omitempty"`
	RangeEnd    *time.Time         `json:"range_end,omitempty"`
	Retry       *RetryDTO          `json:"retry,omitempty"`
}

type ListJobsRequest struct {
	Status    string `form:"status"`
	Symbol    string `form:"symbol"`
	AssetType string `form:"asset_type"`
	Provider  string `form:"provider"`
	Limit     int    `form:"limit"`
}

type JobResponse struct {
	JobID        string            `json:"job_id"`
	Symbol       string            `json:"symbol"`
	AssetType    string            `json:"asset_type"`
	Provider     string            `json:"provider"`
	Trigger      TriggerDTO        `json:"trigger"`
	Params       map[string]string `json:"params,omitempty"`
	Incremental  bool              `json:"incremental"`
	RangeStart   *time.Time        `json:"range_start,omitempty"`
	RangeEnd     *time.Time        `json:"range_end,omitempty"`
	Retry        RetryDTO          `json:"retry"`
	Status       string            `json:"status"`
	NextRunAt    *time.Time        `json:"next_run_at,omitempty"`
	LastRunAt    *time.Time        `json:"last_run_at,omitempty"`
	Attempt      int               `json:"attempt"`
	Dependencies []DependencyDTO   `json:"dependencies,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// ToJob converts the create request into a domain job. Lifecycle fields are
// left for the service to decide.
func (r *CreateJobRequest) ToJob() *domain.Job {
	job := &domain.Job{
		ID:          r.JobID,
		Symbol:      r.Symbol,
		AssetType:   r.AssetType,
		Provider:    r.Provider,
		Trigger:     r.Trigger.toDomain(),
		Params:      r.Params,
		Incremental: r.Incremental,
		RangeStart:  r.RangeStart,
		RangeEnd:    r.RangeEnd,
	}
	if r.Retry != nil {
		job.Retry = r.Retry.toDomain()
	}
	return job
}

// ToDependencies converts the request edges; the condition default belongs
// to the service.
func (r *CreateJobRequest) ToDependencies() []domain.JobDependency {
	if len(r.Dependencies) == 0 {
		return nil
	}
	deps := make([]domain.JobDependency, len(r.Dependencies))
	for i, d := range r.Dependencies {
		deps[i] = domain.JobDependency{
			JobID:          r.JobID,
			DependsOnJobID: d.DependsOnJobID,
			Condition:      domain.DependencyCondition(d.Condition),
		}
	}
	return deps
}

func (t TriggerDTO) toDomain() domain.Trigger {
	return domain.Trigger{
		Type:     domain.TriggerType(t.Type),
		Interval: time.Duration(t.IntervalSecs) * time.Second,
		CronExpr: t.CronExpr,
	}
}

func (r RetryDTO) toDomain() domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxRetries:        r.MaxRetries,
		InitialDelay:      time.Duration(r.InitialDelaySecs) * time.Second,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

// FromJob builds the response representation of a job.
func FromJob(job *domain.Job, deps []domain.JobDependency) JobResponse {
	resp := JobResponse{
		JobID:     job.ID,
		Symbol:    job.Symbol,
		AssetType: job.AssetType,
		Provider:  job.Provider,
		Trigger: TriggerDTO{
			Type:         string(job.Trigger.Type),
			IntervalSecs: int64(job.Trigger.Interval / time.Second),
			CronExpr:     job.Trigger.CronExpr,
		},
		Params:      job.Params,
		Incremental: job.Incremental,
		RangeStart:  job.RangeStart,
		RangeEnd:    job.RangeEnd,
		Retry: RetryDTO{
			MaxRetries:        job.Retry.MaxRetries,
			InitialDelaySecs:  int64(job.Retry.InitialDelay / time.Second),
			BackoffMultiplier: job.Retry.BackoffMultiplier,
		},
		Status:    string(job.Status),
		NextRunAt: job.NextRunAt,
		LastRunAt: job.LastRunAt,
		Attempt:   job.Attempt,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	for _, d := range deps {
		resp.Dependencies = append(resp.Dependencies, DependencyDTO{
			DependsOnJobID: d.DependsOnJobID,
			Condition:      string(d.Condition),
		})
	}
	return resp
}
