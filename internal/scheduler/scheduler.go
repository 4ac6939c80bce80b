package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/store"
)

// Store is the job persistence surface the scheduler drives.
type Store interface {
	ListDueJobs(ctx context.Context, now time.Time) ([]*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateJob(ctx context.Context, id string, upd store.JobUpdate) error
	Dependencies(ctx context.Context, jobID string) ([]domain.JobDependency, error)
	StartExecution(ctx context.Context, exec *domain.JobExecution) error
	FinishExecution(ctx context.Context, executionID string, result domain.ExecutionResult) error
	LatestFinishedExecution(ctx context.Context, jobID string) (*domain.JobExecution, error)
	LatestSuccessfulExecution(ctx context.Context, jobID string) (*domain.JobExecution, error)
	RecoverStaleExecutions(ctx context.Context) (int64, error)
}

// Runner executes one job run. The pipeline implements this.
type Runner interface {
	Run(ctx context.Context, job *domain.Job, executionID string) domain.ExecutionResult
}

// Publisher emits lifecycle events for downstream consumers. Implementations
// must not block the scheduler; publish failures are theirs to log.
type Publisher interface {
	ExecutionFinished(ctx context.Context, job *domain.Job, exec *domain.JobExecution, result domain.ExecutionResult)
	JobStatusChanged(ctx context.Context, jobID string, status domain.JobStatus)
}

// Config tunes the control loop.
type Config struct {
	TickInterval   time.Duration
	Workers        int
	DispatchBuffer int
	// SystemCooldown delays the single budget-free retry after a system
	// failure.
	SystemCooldown time.Duration
}

// Scheduler is the control loop: poll due jobs, gate on dependencies,
// dispatch runs through the pipeline, apply retry policy, reschedule
// triggers. The loop never blocks on a run; runs execute on a bounded
// worker pool and at most one execution per job id is ever in flight.
type Scheduler struct {
	store  Store
	runner Runner
	events Publisher
	logger *slog.Logger
	cfg    Config

	now func() time.Time

	mu       sync.Mutex
	inflight map[string]bool

	dispatch chan *domain.Job
	notify   chan struct{}
	wg       sync.WaitGroup
}

func New(st Store, runner Runner, events Publisher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = cfg.Workers * 2
	}
	if cfg.SystemCooldown <= 0 {
		cfg.SystemCooldown = 5 * time.Minute
	}
	return &Scheduler{
		store:    st,
		runner:   runner,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[string]bool),
		dispatch: make(chan *domain.Job, cfg.DispatchBuffer),
		notify:   make(chan struct{}, 1),
	}
}

// Notify wakes the loop for an immediate tick, e.g. after trigger-now.
// Non-blocking.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run starts the worker pool and the tick loop, blocking until ctx is
// cancelled and all in-flight runs have drained.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.store.RecoverStaleExecutions(ctx); err != nil {
		s.logger.Error("Failed to recover stale executions", slog.Any("error", err))
	}

	s.logger.Info("Starting scheduler",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int("workers", s.cfg.Workers),
	)

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping, draining in-flight runs")
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-s.notify:
			s.tick(ctx)
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick dispatches every due job whose dependencies are satisfied and which
// has no run in flight. Skipped jobs keep their next_run_at untouched and
// are re-checked next tick.
func (s *Scheduler) tick(ctx context.Context) {
	due, err := s.store.ListDueJobs(ctx, s.now())
	if err != nil {
		s.logger.Error("Failed to list due jobs", slog.Any("error", err))
		return
	}

	for _, job := range due {
		if s.isInflight(job.ID) {
			continue
		}

		ok, err := s.dependenciesSatisfied(ctx, job)
		if err != nil {
			s.logger.Error("Dependency check failed",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}
		if !ok {
			s.logger.Debug("Dependencies not satisfied, skipping tick",
				slog.String("job_id", job.ID),
			)
			continue
		}

		s.markInflight(job.ID)
		select {
		case s.dispatch <- job:
		default:
			// Pool saturated; try again next tick.
			s.clearInflight(job.ID)
		}
	}
}

func (s *Scheduler) workerLoop(ctx context.Context, workerNum int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.dispatch:
			s.runJob(ctx, job)
		}
	}
}

// runJob executes one dispatched job end to end: re-read state, record the
// execution, run the pipeline, finalize, and apply the outcome to the job.
func (s *Scheduler) runJob(ctx context.Context, queued *domain.Job) {
	defer s.clearInflight(queued.ID)

	// Re-read so pause/delete between dispatch and execution wins.
	job, err := s.store.GetJob(ctx, queued.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Error("Failed to reload job before run",
				slog.String("job_id", queued.ID),
				slog.Any("error", err),
			)
		}
		return
	}
	if job.Status != domain.JobStatusActive {
		return
	}

	// The previous finished run decides whether a system failure already
	// spent its single cooldown retry.
	prior, err := s.store.LatestFinishedExecution(ctx, job.ID)
	if err != nil {
		s.logger.Error("Failed to read prior execution",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	exec := &domain.JobExecution{
		ID:            uuid.New().String(),
		JobID:         job.ID,
		StartedAt:     s.now(),
		Status:        domain.ExecutionRunning,
		AttemptNumber: job.Attempt + 1,
	}
	if err := s.store.StartExecution(ctx, exec); err != nil {
		s.logger.Error("Failed to record execution start",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Info("Dispatching job run",
		slog.String("job_id", job.ID),
		slog.String("execution_id", exec.ID),
		slog.Int("attempt", exec.AttemptNumber),
	)

	result := s.runner.Run(ctx, job, exec.ID)

	if err := s.store.FinishExecution(ctx, exec.ID, result); err != nil {
		s.logger.Error("Failed to finalize execution",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
	exec.Status = result.Status
	exec.RecordsCollected = result.RecordsCollected
	exec.RecordsLoaded = result.RecordsLoaded

	s.events.ExecutionFinished(ctx, job, exec, result)

	s.applyOutcome(ctx, job, prior, exec.StartedAt, result)
}

// applyOutcome moves the job to its next state: reschedule, retry with
// backoff, or fail.
func (s *Scheduler) applyOutcome(ctx context.Context, job *domain.Job, prior *domain.JobExecution, startedAt time.Time, result domain.ExecutionResult) {
	// One-shot jobs complete regardless of outcome and never reschedule.
	if job.Trigger.Type == domain.TriggerOnce {
		s.transition(ctx, job.ID, store.JobUpdate{
			Status:    statusPtr(domain.JobStatusCompleted),
			ClearNext: true,
			LastRunAt: &startedAt,
		}, domain.JobStatusCompleted)
		return
	}

	switch result.Status {
	case domain.ExecutionSuccess, domain.ExecutionPartial:
		// Partial counts as progress: the next incremental run refills
		// what failed. The attempt counter resets.
		zero := 0
		s.transition(ctx, job.ID, store.JobUpdate{
			NextRunAt: NextRun(job.Trigger, startedAt, s.now()),
			LastRunAt: &startedAt,
			Attempt:   &zero,
		}, "")
		return
	}

	switch result.Category {
	case domain.FailurePermanent:
		s.failJob(ctx, job, startedAt, result)

	case domain.FailureSystem:
		// One cooldown retry, not charged to the job's retry budget. A
		// second consecutive system failure fails the job.
		if prior != nil && prior.Status == domain.ExecutionFailed &&
			prior.ErrorCategory == string(domain.FailureSystem) {
			s.failJob(ctx, job, startedAt, result)
			return
		}
		next := s.now().Add(s.cfg.SystemCooldown)
		s.transition(ctx, job.ID, store.JobUpdate{
			NextRunAt: &next,
			LastRunAt: &startedAt,
		}, "")
		s.logger.Warn("System failure, scheduling cooldown retry",
			slog.String("job_id", job.ID),
			slog.Time("next_run_at", next),
		)

	default: // transient
		attempt := job.Attempt + 1
		if attempt > job.Retry.MaxRetries {
			s.failJob(ctx, job, startedAt, result)
			return
		}
		next := s.now().Add(job.Retry.Delay(attempt))
		s.transition(ctx, job.ID, store.JobUpdate{
			NextRunAt: &next,
			LastRunAt: &startedAt,
			Attempt:   &attempt,
		}, "")
		s.logger.Warn("Transient failure, retrying with backoff",
			slog.String("job_id", job.ID),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", job.Retry.MaxRetries),
			slog.Time("next_run_at", next),
		)
	}
}

func (s *Scheduler) failJob(ctx context.Context, job *domain.Job, startedAt time.Time, result domain.ExecutionResult) {
	s.transition(ctx, job.ID, store.JobUpdate{
		Status:    statusPtr(domain.JobStatusFailed),
		ClearNext: true,
		LastRunAt: &startedAt,
	}, domain.JobStatusFailed)
	s.logger.Error("Job failed, automatic runs stopped until resumed",
		slog.String("job_id", job.ID),
		slog.String("category", string(result.Category)),
		slog.Any("error", result.Err),
	)
}

func (s *Scheduler) transition(ctx context.Context, jobID string, upd store.JobUpdate, newStatus domain.JobStatus) {
	if err := s.store.UpdateJob(ctx, jobID, upd); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
		s.logger.Error("Failed to update job after run",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	if newStatus != "" {
		s.events.JobStatusChanged(ctx, jobID, newStatus)
	}
}

// dependenciesSatisfied evaluates the job's incoming edges. Checks are
// read-only and non-blocking; the acyclic graph guarantees an unsatisfied
// chain eventually resolves without deadlock detection.
func (s *Scheduler) dependenciesSatisfied(ctx context.Context, job *domain.Job) (bool, error) {
	deps, err := s.store.Dependencies(ctx, job.ID)
	if err != nil {
		return false, err
	}

	for _, dep := range deps {
		var exec *domain.JobExecution
		switch dep.Condition {
		case domain.DependencyOnSuccess:
			exec, err = s.store.LatestSuccessfulExecution(ctx, dep.DependsOnJobID)
		default: // complete and any both require a finished run
			exec, err = s.store.LatestFinishedExecution(ctx, dep.DependsOnJobID)
		}
		if err != nil {
			return false, err
		}
		if exec == nil || exec.FinishedAt == nil {
			return false, nil
		}
		// The prerequisite outcome must postdate the dependent's last run,
		// except for "any" which accepts any historical completion.
		if dep.Condition != domain.DependencyOnAny &&
			job.LastRunAt != nil && !exec.FinishedAt.After(*job.LastRunAt) {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scheduler) isInflight(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight[jobID]
}

func (s *Scheduler) markInflight(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[jobID] = true
}

func (s *Scheduler) clearInflight(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}

func statusPtr(status domain.JobStatus) *domain.JobStatus { return &status }
