package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/store"
)

type fakeStore struct {
	jobs map[string]*domain.Job
	deps map[string][]domain.JobDependency
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs: make(map[string]*domain.Job),
		deps: make(map[string][]domain.JobDependency),
	}
}

func (f *fakeStore) CreateJob(_ context.Context, job *domain.Job, deps []domain.JobDependency) error {
	copied := *job
	f.jobs[job.ID] = &copied
	f.deps[job.ID] = deps
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (f *fakeStore) ListJobs(_ context.Context, _ store.JobFilter) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		copied := *j
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeStore) UpdateJob(_ context.Context, id string, upd store.JobUpdate) error {
	j, ok := f.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Trigger != nil {
		j.Trigger = *upd.Trigger
	}
	switch {
	case upd.ClearNext:
		j.NextRunAt = nil
	case upd.NextRunAt != nil:
		j.NextRunAt = upd.NextRunAt
	}
	if upd.Attempt != nil {
		j.Attempt = *upd.Attempt
	}
	return nil
}

func (f *fakeStore) DeleteJob(_ context.Context, id string) error {
	if _, ok := f.jobs[id]; !ok {
		return domain.ErrJobNotFound
	}
	delete(f.jobs, id)
	delete(f.deps, id)
	return nil
}

func (f *fakeStore) Dependencies(_ context.Context, jobID string) ([]domain.JobDependency, error) {
	return f.deps[jobID], nil
}

type countingWaker struct{ wakes int }

func (w *countingWaker) Notify() { w.wakes++ }

func newService(fs *fakeStore) (*Service, *countingWaker) {
	waker := &countingWaker{}
	return NewService(fs, waker, slog.New(slog.DiscardHandler)), waker
}

func validJob(id string) *domain.Job {
	return &domain.Job{
		ID:          id,
		Symbol:      "AAPL",
		AssetType:   "stock",
		Provider:    "alpha",
		Trigger:     domain.Trigger{Type: domain.TriggerInterval, Interval: time.Hour},
		Incremental: true,
	}
}

func TestCreate_AppliesDefaultsAndSchedulesImmediately(t *testing.T) {
	fs := newFakeStore()
	svc, waker := newService(fs)

	created, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusActive, created.Status)
	require.NotNil(t, created.NextRunAt)
	assert.WithinDuration(t, time.Now(), *created.NextRunAt, time.Second)
	assert.Equal(t, 3, created.Retry.MaxRetries)
	assert.Equal(t, 60*time.Second, created.Retry.InitialDelay)
	assert.Equal(t, float64(2), created.Retry.BackoffMultiplier)
	assert.Equal(t, 1, waker.wakes)
}

func TestCreate_CronWaitsForNextOccurrence(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)

	job := validJob("j1")
	job.Trigger = domain.Trigger{Type: domain.TriggerCron, CronExpr: "30 2 * * *"}

	created, err := svc.Create(context.Background(), job, nil)
	require.NoError(t, err)
	require.NotNil(t, created.NextRunAt)
	assert.True(t, created.NextRunAt.After(time.Now()), "cron jobs are not due at creation")
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Job)
	}{
		{"missing id", func(j *domain.Job) { j.ID = "" }},
		{"missing symbol", func(j *domain.Job) { j.Symbol = "" }},
		{"unknown asset type", func(j *domain.Job) { j.AssetType = "bond" }},
		{"zero interval", func(j *domain.Job) { j.Trigger.Interval = 0 }},
		{"non-incremental without range", func(j *domain.Job) { j.Incremental = false }},
		{"inverted range", func(j *domain.Job) {
			start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
			end := start.AddDate(0, 0, -7)
			j.RangeStart, j.RangeEnd = &start, &end
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFakeStore()
			svc, _ := newService(fs)
			job := validJob("j1")
			tt.mutate(job)

			_, err := svc.Create(context.Background(), job, nil)

			require.Error(t, err)
			assert.Equal(t, domain.FailurePermanent, domain.Classify(err).Category)
			assert.Empty(t, fs.jobs, "invalid jobs must not be persisted")
		})
	}
}

func TestCreate_DependencyDefaultsToSuccessCondition(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)

	_, err := svc.Create(context.Background(), validJob("a"),
		[]domain.JobDependency{{DependsOnJobID: "b"}})
	require.NoError(t, err)

	deps := fs.deps["a"]
	require.Len(t, deps, 1)
	assert.Equal(t, "a", deps[0].JobID)
	assert.Equal(t, domain.DependencyOnSuccess, deps[0].Condition)
}

func TestPause_OnlyActiveJobs(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)
	_, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	paused, err := svc.Pause(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, paused.Status)

	_, err = svc.Pause(context.Background(), "j1")
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestResume_ReactivatesWithFreshRetryBudget(t *testing.T) {
	fs := newFakeStore()
	svc, waker := newService(fs)
	_, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	failed := domain.JobStatusFailed
	require.NoError(t, fs.UpdateJob(context.Background(), "j1", store.JobUpdate{
		Status: &failed, ClearNext: true,
	}))
	fs.jobs["j1"].Attempt = 3

	resumed, err := svc.Resume(context.Background(), "j1")
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusActive, resumed.Status)
	assert.Zero(t, resumed.Attempt)
	require.NotNil(t, resumed.NextRunAt)
	assert.GreaterOrEqual(t, waker.wakes, 2)
}

func TestResume_RejectsActiveJobs(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)
	_, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	_, err = svc.Resume(context.Background(), "j1")
	assert.ErrorIs(t, err, domain.ErrConstraintViolation)
}

func TestTriggerNow_MakesJobDueAndWakesLoop(t *testing.T) {
	fs := newFakeStore()
	svc, waker := newService(fs)
	job := validJob("j1")
	job.Trigger = domain.Trigger{Type: domain.TriggerCron, CronExpr: "30 2 * * *"}
	_, err := svc.Create(context.Background(), job, nil)
	require.NoError(t, err)

	triggered, err := svc.TriggerNow(context.Background(), "j1")
	require.NoError(t, err)

	require.NotNil(t, triggered.NextRunAt)
	assert.WithinDuration(t, time.Now(), *triggered.NextRunAt, time.Second)
	assert.Equal(t, 2, waker.wakes)
}

func TestUpdate_TriggerChangeRecomputesNextRun(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)
	_, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	newTrigger := domain.Trigger{Type: domain.TriggerCron, CronExpr: "0 6 * * *"}
	updated, err := svc.Update(context.Background(), "j1", store.JobUpdate{Trigger: &newTrigger})
	require.NoError(t, err)

	assert.Equal(t, domain.TriggerCron, updated.Trigger.Type)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now()))
}

func TestUpdate_RejectsInvalidTrigger(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newService(fs)
	_, err := svc.Create(context.Background(), validJob("j1"), nil)
	require.NoError(t, err)

	bad := domain.Trigger{Type: domain.TriggerCron, CronExpr: "nope"}
	_, err = svc.Update(context.Background(), "j1", store.JobUpdate{Trigger: &bad})
	require.Error(t, err)
}
