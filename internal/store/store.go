package store

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/quantpulse/datafeed/internal/domain"
)

// Store is the persisted representation of jobs, dependency edges, execution
// history, the collection log and assets. All writes are atomic at the
// single-job granularity; dependency checks at schedule time are read-only.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// jobRow is the flat jobs-table shape. Trigger and retry settings are stored
// as plain columns so partial updates stay whitelisted at the column level.
type jobRow struct {
	JobID            string     `db:"job_id"`
	Symbol           string     `db:"symbol"`
	AssetType        string     `db:"asset_type"`
	Provider         string     `db:"provider"`
	TriggerType      string     `db:"trigger_type"`
	TriggerInterval  int64      `db:"trigger_interval_secs"`
	CronExpr         string     `db:"cron_expr"`
	Params           []byte     `db:"params"`
	Incremental      bool       `db:"incremental"`
	RangeStart       *time.Time `db:"range_start"`
	RangeEnd         *time.Time `db:"range_end"`
	MaxRetries       int        `db:"max_retries"`
	InitialDelaySecs int64      `db:"initial_delay_secs"`
	BackoffMult      float64    `db:"backoff_multiplier"`
	Status           string     `db:"status"`
	NextRunAt        *time.Time `db:"next_run_at"`
	LastRunAt        *time.Time `db:"last_run_at"`
	Attempt          int        `db:"attempt"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

const jobColumns = `job_id, symbol, asset_type, provider, trigger_type,
	trigger_interval_secs, cron_expr, params, incremental, range_start,
	range_end, max_retries, initial_delay_secs, backoff_multiplier, status,
	next_run_at, last_run_at, attempt, created_at, updated_at`

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		ID:        r.JobID,
		Symbol:    r.Symbol,
		AssetType: r.AssetType,
		Provider:  r.Provider,
		Trigger: domain.Trigger{
			Type:     domain.TriggerType(r.TriggerType),
			Interval: time.Duration(r.TriggerInterval) * time.Second,
			CronExpr: r.CronExpr,
		},
		Incremental: r.Incremental,
		RangeStart:  r.RangeStart,
		RangeEnd:    r.RangeEnd,
		Retry: domain.RetryPolicy{
			MaxRetries:        r.MaxRetries,
			InitialDelay:      time.Duration(r.InitialDelaySecs) * time.Second,
			BackoffMultiplier: r.BackoffMult,
		},
		Status:    domain.JobStatus(r.Status),
		NextRunAt: r.NextRunAt,
		LastRunAt: r.LastRunAt,
		Attempt:   r.Attempt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Params) > 0 {
		if err := json.Unmarshal(r.Params, &job.Params); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func fromDomain(job *domain.Job) (*jobRow, error) {
	var params []byte
	if len(job.Params) > 0 {
		var err error
		params, err = json.Marshal(job.Params)
		if err != nil {
			return nil, err
		}
	}
	return &jobRow{
		JobID:            job.ID,
		Symbol:           job.Symbol,
		AssetType:        job.AssetType,
		Provider:         job.Provider,
		TriggerType:      string(job.Trigger.Type),
		TriggerInterval:  int64(job.Trigger.Interval / time.Second),
		CronExpr:         job.Trigger.CronExpr,
		Params:           params,
		Incremental:      job.Incremental,
		RangeStart:       job.RangeStart,
		RangeEnd:         job.RangeEnd,
		MaxRetries:       job.Retry.MaxRetries,
		InitialDelaySecs: int64(job.Retry.InitialDelay / time.Second),
		BackoffMult:      job.Retry.BackoffMultiplier,
		Status:           string(job.Status),
		NextRunAt:        job.NextRunAt,
		LastRunAt:        job.LastRunAt,
		Attempt:          job.Attempt,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}, nil
}
