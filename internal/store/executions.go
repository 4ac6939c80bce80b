package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantpulse/datafeed/internal/domain"
)

const executionColumns = `execution_id, job_id, started_at, finished_at, status,
	error_category, error_message, attempt_number, records_collected, records_loaded`

// StartExecution records that a run has begun. The row stays in the running
// state until FinishExecution finalizes it.
func (s *Store) StartExecution(ctx context.Context, exec *domain.JobExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_executions (execution_id, job_id, started_at, status, attempt_number)
		 VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.JobID, exec.StartedAt, string(domain.ExecutionRunning), exec.AttemptNumber,
	)
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	return nil
}

// FinishExecution finalizes a running execution exactly once. A second
// finalize attempt is an integrity error; finalized rows are immutable.
func (s *Store) FinishExecution(ctx context.Context, executionID string, result domain.ExecutionResult) error {
	message := ""
	if result.Err != nil {
		message = result.Err.Error()
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions
		 SET finished_at = NOW(), status = $1, error_category = $2, error_message = $3,
		     records_collected = $4, records_loaded = $5
		 WHERE execution_id = $6 AND finished_at IS NULL`,
		string(result.Status), string(result.Category), message,
		result.RecordsCollected, result.RecordsLoaded, executionID,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrExecutionFinalized
	}
	return nil
}

// ListExecutions returns the job's runs, newest first.
func (s *Store) ListExecutions(ctx context.Context, jobID string, limit int) ([]domain.JobExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	var execs []domain.JobExecution
	err := s.db.SelectContext(ctx, &execs,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = $1 ORDER BY started_at DESC LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

// LatestFinishedExecution returns the most recent finalized run, or nil when
// the job has never finished a run.
func (s *Store) LatestFinishedExecution(ctx context.Context, jobID string) (*domain.JobExecution, error) {
	var exec domain.JobExecution
	err := s.db.GetContext(ctx, &exec,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = $1 AND finished_at IS NOT NULL
		 ORDER BY finished_at DESC LIMIT 1`,
		jobID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest finished execution: %w", err)
	}
	return &exec, nil
}

// LatestSuccessfulExecution returns the most recent successful run, or nil.
func (s *Store) LatestSuccessfulExecution(ctx context.Context, jobID string) (*domain.JobExecution, error) {
	var exec domain.JobExecution
	err := s.db.GetContext(ctx, &exec,
		`SELECT `+executionColumns+` FROM job_executions
		 WHERE job_id = $1 AND status = $2
		 ORDER BY finished_at DESC LIMIT 1`,
		jobID, string(domain.ExecutionSuccess),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest successful execution: %w", err)
	}
	return &exec, nil
}

// HasRunningExecution reports whether a run is currently in flight for the
// job.
func (s *Store) HasRunningExecution(ctx context.Context, jobID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM job_executions WHERE job_id = $1 AND status = $2`,
		jobID, string(domain.ExecutionRunning),
	)
	if err != nil {
		return false, fmt.Errorf("check running execution: %w", err)
	}
	return count > 0, nil
}

// RecoverStaleExecutions finalizes executions left running by a crash as
// failed with a system category, so execution state stays truthful across
// restarts. Intended for process startup, before the scheduler ticks.
func (s *Store) RecoverStaleExecutions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_executions
		 SET finished_at = NOW(), status = $1, error_category = $2,
		     error_message = 'interrupted by process restart'
		 WHERE status = $3`,
		string(domain.ExecutionFailed), string(domain.FailureSystem), string(domain.ExecutionRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale executions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Warn("Finalized interrupted executions from previous run",
			slog.Int64("count", n),
		)
	}
	return n, nil
}
