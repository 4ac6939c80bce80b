package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/coordinator"
	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/loader"
)

type fakeAssets struct {
	err error
}

func (f *fakeAssets) GetOrCreateAsset(_ context.Context, symbol, assetType string) (*domain.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Asset{ID: 42, Symbol: symbol, AssetType: assetType}, nil
}

type fakeGaps struct {
	gaps []domain.Gap
	err  error
}

func (f *fakeGaps) MissingRanges(_ context.Context, assetID int64, _ string, _, _ time.Time) ([]domain.Gap, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.Gap, len(f.gaps))
	copy(out, f.gaps)
	for i := range out {
		out[i].AssetID = assetID
	}
	return out, nil
}

// passthroughCoordinator runs calls directly, no budget.
type passthroughCoordinator struct{}

func (passthroughCoordinator) Submit(ctx context.Context, _ string, _ collector.Request, call coordinator.CallFunc) ([]collector.Record, error) {
	return call(ctx)
}

// scriptedCollector fails for ranges whose start date is listed.
type scriptedCollector struct {
	provider string
	rows     int
	failOn   map[string]error
}

func (c *scriptedCollector) Provider() string { return c.provider }

func (c *scriptedCollector) Collect(_ context.Context, req collector.Request) ([]collector.Record, error) {
	if err, ok := c.failOn[req.Start.Format("2006-01-02")]; ok {
		return nil, err
	}
	records := make([]collector.Record, c.rows)
	for i := range records {
		records[i] = collector.Record{
			"date": req.Start.AddDate(0, 0, i).Format("2006-01-02"),
			"open": "1", "high": "2", "low": "1", "close": "1.5",
		}
	}
	return records, nil
}

type fakeLoader struct {
	mu     sync.Mutex
	loaded int64 // rows reported loaded per call; -1 means echo input size
	err    error
	calls  int
}

func (f *fakeLoader) Load(_ context.Context, _ int64, records []collector.Record, _ loader.TableSpec, _ loader.ConflictPolicy) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if f.loaded < 0 {
		return int64(len(records)), nil
	}
	return f.loaded, nil
}

type fakeLog struct {
	mu      sync.Mutex
	entries []*domain.CollectionLogEntry
}

func (f *fakeLog) RecordLogEntry(_ context.Context, entry *domain.CollectionLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

type fixture struct {
	assets   *fakeAssets
	gaps     *fakeGaps
	loader   *fakeLoader
	log      *fakeLog
	registry *collector.Registry
	pipeline *Pipeline
}

func newFixture(col collector.Collector, gaps []domain.Gap) *fixture {
	f := &fixture{
		assets:   &fakeAssets{},
		gaps:     &fakeGaps{gaps: gaps},
		loader:   &fakeLoader{loaded: -1},
		log:      &fakeLog{},
		registry: collector.NewRegistry(),
	}
	if col != nil {
		f.registry.Register(col)
	}
	f.pipeline = New(
		f.assets, f.gaps, passthroughCoordinator{}, f.registry, f.loader, f.log,
		Config{CallTimeout: time.Second},
		slog.New(slog.DiscardHandler),
	)
	return f
}

func incrementalJob() *domain.Job {
	start, end := day("2024-01-01"), day("2024-01-31")
	return &domain.Job{
		ID:          "job-1",
		Symbol:      "AAPL",
		AssetType:   "stock",
		Provider:    "alpha",
		Incremental: true,
		RangeStart:  &start,
		RangeEnd:    &end,
	}
}

func TestRun_AllRangesSucceed(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 10}, []domain.Gap{
		{Start: day("2024-01-01"), End: day("2024-01-10")},
		{Start: day("2024-01-20"), End: day("2024-01-29")},
	})

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionSuccess, result.Status)
	assert.Equal(t, int64(20), result.RecordsCollected)
	assert.Equal(t, int64(20), result.RecordsLoaded)
	assert.NoError(t, result.Err)
	assert.Len(t, f.log.entries, 2)
}

func TestRun_EmptyGapListIsNoOpSuccess(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 10}, nil)

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionSuccess, result.Status)
	assert.Zero(t, result.RecordsCollected)
	assert.Zero(t, result.RecordsLoaded)
	assert.Empty(t, f.log.entries, "no calls means no log entries")
	assert.Equal(t, 0, f.loader.calls)
}

func TestRun_MixedOutcomesArePartial(t *testing.T) {
	f := newFixture(&scriptedCollector{
		provider: "alpha",
		rows:     5,
		failOn: map[string]error{
			"2024-01-20": domain.NewCollectionError(domain.ErrKindTimeout, "provider timeout"),
		},
	}, []domain.Gap{
		{Start: day("2024-01-01"), End: day("2024-01-05")},
		{Start: day("2024-01-20"), End: day("2024-01-25")},
	})

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionPartial, result.Status)
	assert.Equal(t, int64(5), result.RecordsLoaded)
	assert.Equal(t, domain.FailureTransient, result.Category)
	require.Error(t, result.Err)

	statuses := map[string]int{}
	for _, e := range f.log.entries {
		statuses[e.Status]++
	}
	assert.Equal(t, map[string]int{"success": 1, "failed": 1}, statuses)
}

func TestRun_AllRangesFail(t *testing.T) {
	f := newFixture(&scriptedCollector{
		provider: "alpha",
		failOn: map[string]error{
			"2024-01-01": domain.NewCollectionError(domain.ErrKindUnknownSymbol, "no such symbol"),
		},
	}, []domain.Gap{
		{Start: day("2024-01-01"), End: day("2024-01-31")},
	})

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, domain.FailurePermanent, result.Category)
}

func TestRun_LoaderCountIsAuthoritative(t *testing.T) {
	// Collector hands over 100 rows, loader persists 97 (3 invalid skipped).
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 100}, []domain.Gap{
		{Start: day("2024-01-01"), End: day("2024-04-09")},
	})
	f.loader.loaded = 97

	job := incrementalJob()
	job.Params = map[string]string{"conflict_policy": "skip_invalid"}
	result := f.pipeline.Run(context.Background(), job, "exec-1")

	assert.Equal(t, domain.ExecutionSuccess, result.Status)
	assert.Equal(t, int64(100), result.RecordsCollected)
	assert.Equal(t, int64(97), result.RecordsLoaded)
}

func TestRun_NonIncrementalUsesExplicitRange(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 3}, nil)

	start, end := day("2024-02-01"), day("2024-02-03")
	job := &domain.Job{
		ID: "job-2", Symbol: "AAPL", AssetType: "stock", Provider: "alpha",
		RangeStart: &start, RangeEnd: &end,
	}
	result := f.pipeline.Run(context.Background(), job, "exec-1")

	assert.Equal(t, domain.ExecutionSuccess, result.Status)
	require.Len(t, f.log.entries, 1)
	assert.Equal(t, start, f.log.entries[0].StartDate)
	assert.Equal(t, end, f.log.entries[0].EndDate)
}

func TestRun_NonIncrementalWithoutRangeIsPermanent(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 3}, nil)

	job := &domain.Job{ID: "job-3", Symbol: "AAPL", AssetType: "stock", Provider: "alpha"}
	result := f.pipeline.Run(context.Background(), job, "exec-1")

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, domain.FailurePermanent, result.Category)
}

func TestRun_UnknownProviderIsPermanent(t *testing.T) {
	f := newFixture(nil, []domain.Gap{{Start: day("2024-01-01"), End: day("2024-01-02")}})

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, domain.FailurePermanent, result.Category)
}

func TestRun_AssetResolutionFailureIsSystem(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 1}, nil)
	f.assets.err = assert.AnError

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, domain.FailureSystem, result.Category)
}

func TestRun_RecoversFromPanics(t *testing.T) {
	f := newFixture(&scriptedCollector{provider: "alpha", rows: 1}, []domain.Gap{
		{Start: day("2024-01-01"), End: day("2024-01-02")},
	})
	f.pipeline.loader = panickyLoader{}

	result := f.pipeline.Run(context.Background(), incrementalJob(), "exec-1")

	assert.Equal(t, domain.ExecutionFailed, result.Status)
	assert.Equal(t, domain.FailureSystem, result.Category)
	require.Error(t, result.Err)
}

type panickyLoader struct{}

func (panickyLoader) Load(context.Context, int64, []collector.Record, loader.TableSpec, loader.ConflictPolicy) (int64, error) {
	panic("loader blew up")
}
