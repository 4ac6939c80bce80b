package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/coordinator"
	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/loader"
)

// AssetResolver resolves a symbol to a stored asset, creating it on first
// reference.
type AssetResolver interface {
	GetOrCreateAsset(ctx context.Context, symbol, assetType string) (*domain.Asset, error)
}

// GapFinder computes the uncovered sub-ranges of a requested window.
type GapFinder interface {
	MissingRanges(ctx context.Context, assetID int64, assetType string, from, to time.Time) ([]domain.Gap, error)
}

// Submitter runs a collection call under the provider's call budget.
type Submitter interface {
	Submit(ctx context.Context, provider string, req collector.Request, call coordinator.CallFunc) ([]collector.Record, error)
}

// RowLoader bulk-inserts collected records.
type RowLoader interface {
	Load(ctx context.Context, assetID int64, records []collector.Record, spec loader.TableSpec, policy loader.ConflictPolicy) (int64, error)
}

// LogRecorder appends collection-log rows.
type LogRecorder interface {
	RecordLogEntry(ctx context.Context, entry *domain.CollectionLogEntry) error
}

// Config tunes a pipeline instance.
type Config struct {
	// CallTimeout bounds one collection call. Providers do not support
	// cooperative cancellation, so timeouts cap worst-case run duration.
	CallTimeout time.Duration
	// DefaultLookback is the incremental window when the job has no
	// explicit range start.
	DefaultLookback time.Duration
	// RangeParallelism bounds concurrent gap collection within one run.
	RangeParallelism int
}

// Pipeline orchestrates one job run: resolve the asset, work out what is
// missing, collect it through the coordinator, load it, and log the
// outcome. All failures are folded into the ExecutionResult; nothing
// escapes to the scheduler as an error or panic.
type Pipeline struct {
	assets      AssetResolver
	gaps        GapFinder
	coordinator Submitter
	registry    *collector.Registry
	loader      RowLoader
	logs        LogRecorder
	logger      *slog.Logger
	cfg         Config
}

func New(assets AssetResolver, gaps GapFinder, coord Submitter, registry *collector.Registry, rowLoader RowLoader, logs LogRecorder, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 365 * 24 * time.Hour
	}
	if cfg.RangeParallelism <= 0 {
		cfg.RangeParallelism = 4
	}
	return &Pipeline{
		assets:      assets,
		gaps:        gaps,
		coordinator: coord,
		registry:    registry,
		loader:      rowLoader,
		logs:        logs,
		logger:      logger,
		cfg:         cfg,
	}
}

// rangeOutcome is the result of collecting one gap or explicit range.
type rangeOutcome struct {
	collected int64
	loaded    int64
	err       error
}

// Run executes the job once and reports the aggregated outcome. With at
// least one succeeded and one failed sub-range the status is partial; all
// failed means failed; all succeeded, the no-gaps case included, means
// success.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, executionID string) (result domain.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic: %v", r)
			p.logger.Error("Pipeline run panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
			result = domain.ExecutionResult{
				Status:   domain.ExecutionFailed,
				Category: domain.FailureSystem,
				Err:      err,
			}
		}
	}()

	asset, err := p.assets.GetOrCreateAsset(ctx, job.Symbol, job.AssetType)
	if err != nil {
		return p.failure(job, domain.WrapCollectionError(domain.ErrKindStoreDown, "resolve asset", err))
	}

	spec, err := loader.SpecFor(job.AssetType)
	if err != nil {
		return p.failure(job, domain.WrapCollectionError(domain.ErrKindBadParams, "resolve target table", err))
	}

	ranges, err := p.resolveRanges(ctx, job, asset)
	if err != nil {
		return p.failure(job, err)
	}
	if len(ranges) == 0 {
		// Fully covered incremental window: a no-op success.
		p.logger.Info("No gaps to collect",
			slog.String("job_id", job.ID),
			slog.String("symbol", job.Symbol),
		)
		return domain.ExecutionResult{Status: domain.ExecutionSuccess}
	}

	outcomes := make([]rangeOutcome, len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RangeParallelism)
	for i, gap := range ranges {
		g.Go(func() error {
			outcomes[i] = p.collectRange(gctx, job, asset, spec, gap, executionID)
			return nil // per-range failures never abort the run
		})
	}
	_ = g.Wait()

	return aggregate(outcomes)
}

// resolveRanges picks the work list: coverage gaps for incremental jobs,
// the explicit date range otherwise.
func (p *Pipeline) resolveRanges(ctx context.Context, job *domain.Job, asset *domain.Asset) ([]domain.Gap, error) {
	if !job.Incremental {
		if job.RangeStart == nil || job.RangeEnd == nil {
			return nil, domain.NewCollectionError(domain.ErrKindBadParams,
				"non-incremental job requires an explicit date range")
		}
		return []domain.Gap{{AssetID: asset.ID, Start: *job.RangeStart, End: *job.RangeEnd}}, nil
	}

	end := time.Now().UTC()
	if job.RangeEnd != nil {
		end = *job.RangeEnd
	}
	start := end.Add(-p.cfg.DefaultLookback)
	if job.RangeStart != nil {
		start = *job.RangeStart
	}

	return p.gaps.MissingRanges(ctx, asset.ID, job.AssetType, start, end)
}

// collectRange performs one collection call and load, and writes the
// collection-log row for it regardless of outcome.
func (p *Pipeline) collectRange(ctx context.Context, job *domain.Job, asset *domain.Asset, spec loader.TableSpec, gap domain.Gap, executionID string) rangeOutcome {
	started := time.Now()

	collected, loaded, err := p.fetchAndLoad(ctx, job, asset, spec, gap)

	entry := &domain.CollectionLogEntry{
		ID:               uuid.New().String(),
		ExecutionID:      executionID,
		AssetID:          asset.ID,
		CollectorType:    job.Provider,
		StartDate:        gap.Start,
		EndDate:          gap.End,
		RecordsCollected: collected,
		RecordsLoaded:    loaded,
		Status:           "success",
		ExecutionTime:    time.Since(started),
		CreatedAt:        time.Now().UTC(),
	}
	if err != nil {
		entry.Status = "failed"
		entry.ErrorMessage = err.Error()
	}
	if logErr := p.logs.RecordLogEntry(ctx, entry); logErr != nil {
		// Losing a log row does not change the run's outcome.
		p.logger.Warn("Failed to record collection log entry",
			slog.String("job_id", job.ID),
			slog.Any("error", logErr),
		)
	}

	return rangeOutcome{collected: collected, loaded: loaded, err: err}
}

func (p *Pipeline) fetchAndLoad(ctx context.Context, job *domain.Job, asset *domain.Asset, spec loader.TableSpec, gap domain.Gap) (int64, int64, error) {
	col, err := p.registry.Get(job.Provider)
	if err != nil {
		return 0, 0, err
	}

	req := collector.Request{
		Symbol: job.Symbol,
		Start:  gap.Start,
		End:    gap.End,
		Params: job.Params,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	records, err := p.coordinator.Submit(callCtx, job.Provider, req, func(ctx context.Context) ([]collector.Record, error) {
		return col.Collect(ctx, req)
	})
	if err != nil {
		return 0, 0, err
	}

	loaded, err := p.loader.Load(ctx, asset.ID, records, spec, conflictPolicy(job))
	if err != nil {
		return int64(len(records)), loaded, err
	}
	return int64(len(records)), loaded, nil
}

func conflictPolicy(job *domain.Job) loader.ConflictPolicy {
	switch loader.ConflictPolicy(job.Params["conflict_policy"]) {
	case loader.ConflictUpdate:
		return loader.ConflictUpdate
	case loader.ConflictSkipInvalid:
		return loader.ConflictSkipInvalid
	default:
		return loader.ConflictIgnore
	}
}

func (p *Pipeline) failure(job *domain.Job, err error) domain.ExecutionResult {
	cls := domain.Classify(err)
	p.logger.Error("Pipeline run failed before collection",
		slog.String("job_id", job.ID),
		slog.String("category", string(cls.Category)),
		slog.String("hint", cls.Hint),
		slog.Any("error", err),
	)
	return domain.ExecutionResult{
		Status:   domain.ExecutionFailed,
		Category: cls.Category,
		Err:      err,
	}
}

// aggregate folds per-range outcomes into one result.
func aggregate(outcomes []rangeOutcome) domain.ExecutionResult {
	var result domain.ExecutionResult
	var firstErr error
	succeeded, failed := 0, 0

	for _, o := range outcomes {
		result.RecordsCollected += o.collected
		result.RecordsLoaded += o.loaded
		if o.err != nil {
			failed++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		succeeded++
	}

	switch {
	case failed == 0:
		result.Status = domain.ExecutionSuccess
	case succeeded == 0:
		result.Status = domain.ExecutionFailed
	default:
		result.Status = domain.ExecutionPartial
	}
	if firstErr != nil {
		result.Err = firstErr
		result.Category = domain.Classify(firstErr).Category
	}
	return result
}
