package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status    domain.JobStatus
	Symbol    string
	AssetType string
	Provider  string
	Limit     int
}

// CreateJob inserts a job together with its dependency edges. The edge set
// is cycle-checked against the stored graph before anything is written; a
// violation leaves the store untouched.
func (s *Store) CreateJob(ctx context.Context, job *domain.Job, deps []domain.JobDependency) error {
	if err := s.checkDependencies(ctx, job.ID, deps); err != nil {
		return err
	}

	row, err := fromDomain(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create job: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const query = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (:job_id, :symbol, :asset_type, :provider, :trigger_type,
			:trigger_interval_secs, :cron_expr, :params, :incremental, :range_start,
			:range_end, :max_retries, :initial_delay_secs, :backoff_multiplier, :status,
			:next_run_at, :last_run_at, :attempt, :created_at, :updated_at)
	`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("create job: %w", err)
	}

	for _, dep := range deps {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_dependencies (job_id, depends_on_job_id, condition) VALUES ($1, $2, $3)`,
			dep.JobID, dep.DependsOnJobID, string(dep.Condition),
		); err != nil {
			return fmt.Errorf("create job dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create job: commit: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("symbol", job.Symbol),
		slog.String("trigger", string(job.Trigger.Type)),
		slog.Int("dependencies", len(deps)),
	)
	return nil
}

// GetJob returns the job or domain.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toDomain()
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Symbol != "" {
		add("symbol = $%d", filter.Symbol)
	}
	if filter.AssetType != "" {
		add("asset_type = $%d", filter.AssetType)
	}
	if filter.Provider != "" {
		add("provider = $%d", filter.Provider)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", rows[i].JobID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ListDueJobs returns active jobs whose next_run_at has passed.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time) ([]*domain.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND next_run_at IS NOT NULL AND next_run_at <= $2
		 ORDER BY next_run_at ASC`,
		string(domain.JobStatusActive), now,
	)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode job %s: %w", rows[i].JobID, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// UpdateJobStatus sets status and next_run_at in one write.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus, nextRunAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = $1, next_run_at = $2, updated_at = NOW() WHERE job_id = $3`,
		string(status), nextRunAt, id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// UpdateJob applies a whitelisted partial update. Fields absent from the
// JobUpdate never appear in the statement.
func (s *Store) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	sets, args := upd.clauses()
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE jobs SET %s, updated_at = NOW() WHERE job_id = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes the job, its dependency edges in both directions, and
// its history. Time-series data is owned by the asset, not the job, and
// stays.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete job: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM job_dependencies WHERE job_id = $1 OR depends_on_job_id = $1`,
		`DELETE FROM collection_log WHERE execution_id IN (SELECT execution_id FROM job_executions WHERE job_id = $1)`,
		`DELETE FROM job_executions WHERE job_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete job history: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete job: commit: %w", err)
	}

	s.logger.Info("Job deleted", slog.String("job_id", id))
	return nil
}
