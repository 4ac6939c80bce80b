package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/loader"
	"github.com/quantpulse/datafeed/internal/scheduler"
	"github.com/quantpulse/datafeed/internal/store"
)

// Store is the persistence surface the lifecycle service needs.
type Store interface {
	CreateJob(ctx context.Context, job *domain.Job, deps []domain.JobDependency) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*domain.Job, error)
	UpdateJob(ctx context.Context, id string, upd store.JobUpdate) error
	DeleteJob(ctx context.Context, id string) error
	Dependencies(ctx context.Context, jobID string) ([]domain.JobDependency, error)
}

// Waker pokes the scheduler loop after a write that makes a job due.
type Waker interface {
	Notify()
}

// NopWaker is used by processes that do not host the scheduler loop; the
// change is picked up on the next tick.
type NopWaker struct{}

func (NopWaker) Notify() {}

// Retry policy applied when a create request leaves it unset.
var defaultRetry = domain.RetryPolicy{
	MaxRetries:        3,
	InitialDelay:      60 * time.Second,
	BackoffMultiplier: 2,
}

// Service owns job lifecycle rules: trigger validation, creation defaults,
// pause/resume transitions and manual triggering. The store enforces
// integrity (cycles, unknown ids); the service decides scheduling state.
type Service struct {
	store  Store
	waker  Waker
	logger *slog.Logger
}

func NewService(st Store, waker Waker, logger *slog.Logger) *Service {
	if waker == nil {
		waker = NopWaker{}
	}
	return &Service{store: st, waker: waker, logger: logger}
}

// Create validates and persists a new job. Jobs are born active: once and
// interval triggers are due immediately, cron triggers at the expression's
// next occurrence.
func (s *Service) Create(ctx context.Context, job *domain.Job, deps []domain.JobDependency) (*domain.Job, error) {
	if job.ID == "" {
		return nil, domain.NewCollectionError(domain.ErrKindBadParams, "job_id is required")
	}
	if job.Symbol == "" || job.Provider == "" {
		return nil, domain.NewCollectionError(domain.ErrKindBadParams, "symbol and provider are required")
	}
	if _, err := loader.SpecFor(job.AssetType); err != nil {
		return nil, domain.WrapCollectionError(domain.ErrKindBadParams, "unsupported asset type", err)
	}
	if err := scheduler.ValidateTrigger(job.Trigger); err != nil {
		return nil, domain.WrapCollectionError(domain.ErrKindBadParams, "invalid trigger", err)
	}
	if !job.Incremental && (job.RangeStart == nil || job.RangeEnd == nil) {
		return nil, domain.NewCollectionError(domain.ErrKindBadParams,
			"non-incremental jobs require an explicit range_start and range_end")
	}
	if job.RangeStart != nil && job.RangeEnd != nil && job.RangeEnd.Before(*job.RangeStart) {
		return nil, domain.NewCollectionError(domain.ErrKindBadParams, "range_end precedes range_start")
	}
	if job.Retry == (domain.RetryPolicy{}) {
		job.Retry = defaultRetry
	}
	for i := range deps {
		deps[i].JobID = job.ID
		if deps[i].Condition == "" {
			deps[i].Condition = domain.DependencyOnSuccess
		}
	}

	now := time.Now()
	job.Status = domain.JobStatusActive
	job.NextRunAt = firstRun(job.Trigger, now)
	job.Attempt = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := s.store.CreateJob(ctx, job, deps); err != nil {
		return nil, err
	}
	s.waker.Notify()
	return job, nil
}

// Get returns the job together with its dependency edges.
func (s *Service) Get(ctx context.Context, id string) (*domain.Job, []domain.JobDependency, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	deps, err := s.store.Dependencies(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return job, deps, nil
}

func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*domain.Job, error) {
	return s.store.ListJobs(ctx, filter)
}

// Update applies a partial update. A trigger change is validated and the
// job's next run is recomputed from it.
func (s *Service) Update(ctx context.Context, id string, upd store.JobUpdate) (*domain.Job, error) {
	if upd.Trigger != nil {
		if err := scheduler.ValidateTrigger(*upd.Trigger); err != nil {
			return nil, domain.WrapCollectionError(domain.ErrKindBadParams, "invalid trigger", err)
		}
		next := firstRun(*upd.Trigger, time.Now())
		if next != nil {
			upd.NextRunAt = next
		} else {
			upd.ClearNext = true
		}
	}
	if err := s.store.UpdateJob(ctx, id, upd); err != nil {
		return nil, err
	}
	s.waker.Notify()
	return s.store.GetJob(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteJob(ctx, id)
}

// Pause stops automatic runs. An in-flight run finishes and records its
// outcome; the scheduler re-reads status before starting new ones.
func (s *Service) Pause(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusActive {
		return nil, fmt.Errorf("%w: only active jobs can be paused (status %s)",
			domain.ErrConstraintViolation, job.Status)
	}
	paused := domain.JobStatusPaused
	if err := s.store.UpdateJob(ctx, id, store.JobUpdate{Status: &paused}); err != nil {
		return nil, err
	}
	s.logger.Info("Job paused", slog.String("job_id", id))
	job.Status = paused
	return job, nil
}

// Resume reactivates a paused or failed job with a fresh retry budget.
func (s *Service) Resume(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusPaused && job.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: only paused or failed jobs can be resumed (status %s)",
			domain.ErrConstraintViolation, job.Status)
	}

	active := domain.JobStatusActive
	zero := 0
	next := firstRun(job.Trigger, time.Now())
	upd := store.JobUpdate{Status: &active, Attempt: &zero}
	if next != nil {
		upd.NextRunAt = next
	} else {
		upd.ClearNext = true
	}
	if err := s.store.UpdateJob(ctx, id, upd); err != nil {
		return nil, err
	}
	s.waker.Notify()
	s.logger.Info("Job resumed", slog.String("job_id", id))
	return s.store.GetJob(ctx, id)
}

// TriggerNow makes an active job due immediately and wakes the loop. The
// at-most-one-running guarantee still applies; a job already in flight
// simply runs again once it finishes.
func (s *Service) TriggerNow(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusActive {
		return nil, fmt.Errorf("%w: only active jobs can be triggered (status %s)",
			domain.ErrConstraintViolation, job.Status)
	}
	now := time.Now()
	if err := s.store.UpdateJob(ctx, id, store.JobUpdate{NextRunAt: &now}); err != nil {
		return nil, err
	}
	s.waker.Notify()
	s.logger.Info("Job triggered manually", slog.String("job_id", id))
	job.NextRunAt = &now
	return job, nil
}

// firstRun is the initial schedule for a trigger: once and interval are due
// immediately, cron waits for its next occurrence.
func firstRun(t domain.Trigger, now time.Time) *time.Time {
	if t.Type == domain.TriggerCron {
		return scheduler.NextRun(t, now, now)
	}
	return &now
}
