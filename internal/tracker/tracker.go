package tracker

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// CoverageSource reports which date ranges already hold stored data for an
// asset. The store implements this over the asset's time-series table.
type CoverageSource interface {
	Coverage(ctx context.Context, assetID int64, assetType string, from, to time.Time) ([]domain.Interval, error)
}

// Tracker computes the missing sub-ranges of a requested window against
// stored coverage. Day granularity: a covered day never reappears in a gap.
type Tracker struct {
	coverage CoverageSource
	logger   *slog.Logger
}

func New(coverage CoverageSource, logger *slog.Logger) *Tracker {
	return &Tracker{
		coverage: coverage,
		logger:   logger,
	}
}

// MissingRanges returns the ordered, disjoint gaps of [from, to] not covered
// by stored data for the asset. An empty result means the window is fully
// covered; callers treat that as a no-op success.
func (t *Tracker) MissingRanges(ctx context.Context, assetID int64, assetType string, from, to time.Time) ([]domain.Gap, error) {
	covered, err := t.coverage.Coverage(ctx, assetID, assetType, from, to)
	if err != nil {
		return nil, domain.WrapCollectionError(domain.ErrKindStoreDown, "fetch stored coverage", err)
	}

	gaps := ComputeGaps(assetID, from, to, covered)

	t.logger.Debug("Computed coverage gaps",
		slog.Int64("asset_id", assetID),
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Int("covered_intervals", len(covered)),
		slog.Int("gaps", len(gaps)),
	)

	return gaps, nil
}

// ComputeGaps walks the requested window left to right and emits a gap for
// every uncovered segment between, before, or after the covered intervals.
// The result is bounded by [from, to] and its union with the covered
// intervals covers the window exactly.
func ComputeGaps(assetID int64, from, to time.Time, covered []domain.Interval) []domain.Gap {
	from = dateOnly(from)
	to = dateOnly(to)
	if from.After(to) {
		return nil
	}

	ivs := make([]domain.Interval, 0, len(covered))
	for _, iv := range covered {
		ivs = append(ivs, domain.Interval{Start: dateOnly(iv.Start), End: dateOnly(iv.End)})
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	var gaps []domain.Gap
	cursor := from

	for _, iv := range ivs {
		if iv.End.Before(cursor) {
			continue // entirely behind the cursor
		}
		if cursor.After(to) {
			break
		}
		if iv.Start.After(cursor) {
			end := iv.Start.AddDate(0, 0, -1)
			if end.After(to) {
				end = to
			}
			gaps = append(gaps, domain.Gap{AssetID: assetID, Start: cursor, End: end})
		}
		next := iv.End.AddDate(0, 0, 1)
		if next.After(cursor) {
			cursor = next
		}
	}

	if !cursor.After(to) {
		gaps = append(gaps, domain.Gap{AssetID: assetID, Start: cursor, End: to})
	}

	return gaps
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
