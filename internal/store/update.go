package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// JobUpdate is a partial update over the mutable job fields. The set of
// touched columns is fixed here; callers cannot smuggle arbitrary column
// names into the statement.
type JobUpdate struct {
	Symbol      *string
	AssetType   *string
	Provider    *string
	Trigger     *domain.Trigger
	Params      map[string]string
	Incremental *bool
	RangeStart  *time.Time
	RangeEnd    *time.Time
	Retry       *domain.RetryPolicy
	Status      *domain.JobStatus
	NextRunAt   *time.Time
	ClearNext   bool // set next_run_at to NULL
	LastRunAt   *time.Time
	Attempt     *int
}

// clauses renders the update as SET fragments plus positional args.
func (u JobUpdate) clauses() ([]string, []any) {
	var sets []string
	var args []any

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if u.Symbol != nil {
		set("symbol", *u.Symbol)
	}
	if u.AssetType != nil {
		set("asset_type", *u.AssetType)
	}
	if u.Provider != nil {
		set("provider", *u.Provider)
	}
	if u.Trigger != nil {
		set("trigger_type", string(u.Trigger.Type))
		set("trigger_interval_secs", int64(u.Trigger.Interval/time.Second))
		set("cron_expr", u.Trigger.CronExpr)
	}
	if u.Params != nil {
		encoded, err := json.Marshal(u.Params)
		if err == nil {
			set("params", encoded)
		}
	}
	if u.Incremental != nil {
		set("incremental", *u.Incremental)
	}
	if u.RangeStart != nil {
		set("range_start", *u.RangeStart)
	}
	if u.RangeEnd != nil {
		set("range_end", *u.RangeEnd)
	}
	if u.Retry != nil {
		set("max_retries", u.Retry.MaxRetries)
		set("initial_delay_secs", int64(u.Retry.InitialDelay/time.Second))
		set("backoff_multiplier", u.Retry.BackoffMultiplier)
	}
	if u.Status != nil {
		set("status", string(*u.Status))
	}
	switch {
	case u.ClearNext:
		sets = append(sets, "next_run_at = NULL")
	case u.NextRunAt != nil:
		set("next_run_at", *u.NextRunAt)
	}
	if u.LastRunAt != nil {
		set("last_run_at", *u.LastRunAt)
	}
	if u.Attempt != nil {
		set("attempt", *u.Attempt)
	}

	return sets, args
}
