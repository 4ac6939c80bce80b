package tracker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestComputeGaps(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		covered []domain.Interval
		want    []domain.Gap
	}{
		{
			name: "no stored data yields the full window",
			from: "2024-01-01", to: "2024-01-20",
			covered: nil,
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-01-01"), End: day("2024-01-20")},
			},
		},
		{
			name: "trailing gap after existing coverage",
			from: "2024-01-01", to: "2024-01-20",
			covered: []domain.Interval{{Start: day("2024-01-01"), End: day("2024-01-10")}},
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-01-11"), End: day("2024-01-20")},
			},
		},
		{
			name: "fully covered window is empty",
			from: "2024-01-05", to: "2024-01-08",
			covered: []domain.Interval{{Start: day("2024-01-01"), End: day("2024-01-10")}},
			want:    nil,
		},
		{
			name: "hole between two covered islands",
			from: "2024-01-01", to: "2024-01-31",
			covered: []domain.Interval{
				{Start: day("2024-01-01"), End: day("2024-01-10")},
				{Start: day("2024-01-21"), End: day("2024-01-31")},
			},
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-01-11"), End: day("2024-01-20")},
			},
		},
		{
			name: "leading gap before coverage",
			from: "2024-01-01", to: "2024-01-15",
			covered: []domain.Interval{{Start: day("2024-01-10"), End: day("2024-01-20")}},
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-01-01"), End: day("2024-01-09")},
			},
		},
		{
			name: "unsorted overlapping intervals",
			from: "2024-01-01", to: "2024-01-31",
			covered: []domain.Interval{
				{Start: day("2024-01-15"), End: day("2024-01-18")},
				{Start: day("2024-01-02"), End: day("2024-01-08")},
				{Start: day("2024-01-05"), End: day("2024-01-12")},
			},
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-01-01"), End: day("2024-01-01")},
				{AssetID: 1, Start: day("2024-01-13"), End: day("2024-01-14")},
				{AssetID: 1, Start: day("2024-01-19"), End: day("2024-01-31")},
			},
		},
		{
			name: "coverage entirely outside the window",
			from: "2024-02-01", to: "2024-02-05",
			covered: []domain.Interval{{Start: day("2024-01-01"), End: day("2024-01-10")}},
			want: []domain.Gap{
				{AssetID: 1, Start: day("2024-02-01"), End: day("2024-02-05")},
			},
		},
		{
			name: "inverted window yields nothing",
			from: "2024-01-10", to: "2024-01-01",
			covered: nil,
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeGaps(1, day(tt.from), day(tt.to), tt.covered)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Gaps must be disjoint, ordered, inside the window, and together with the
// coverage reconstruct the window exactly.
func TestComputeGaps_CoversWindowExactly(t *testing.T) {
	from, to := day("2024-03-01"), day("2024-03-31")
	covered := []domain.Interval{
		{Start: day("2024-03-03"), End: day("2024-03-07")},
		{Start: day("2024-03-12"), End: day("2024-03-12")},
		{Start: day("2024-03-20"), End: day("2024-03-25")},
	}

	gaps := ComputeGaps(1, from, to, covered)

	inGap := func(d time.Time) bool {
		for _, g := range gaps {
			if !d.Before(g.Start) && !d.After(g.End) {
				return true
			}
		}
		return false
	}
	inCovered := func(d time.Time) bool {
		for _, iv := range covered {
			if !d.Before(iv.Start) && !d.After(iv.End) {
				return true
			}
		}
		return false
	}

	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		assert.True(t, inGap(d) != inCovered(d), "day %s must be in exactly one of gaps or coverage", d.Format("2006-01-02"))
	}

	for i := 1; i < len(gaps); i++ {
		assert.True(t, gaps[i].Start.After(gaps[i-1].End), "gaps must be ordered and disjoint")
	}
}

type stubCoverage struct {
	intervals []domain.Interval
	err       error
}

func (s *stubCoverage) Coverage(_ context.Context, _ int64, _ string, _, _ time.Time) ([]domain.Interval, error) {
	return s.intervals, s.err
}

func TestTracker_MissingRanges(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("passes coverage through to the gap walk", func(t *testing.T) {
		tr := New(&stubCoverage{
			intervals: []domain.Interval{{Start: day("2024-01-01"), End: day("2024-01-10")}},
		}, logger)

		gaps, err := tr.MissingRanges(context.Background(), 7, "stock", day("2024-01-01"), day("2024-01-20"))
		require.NoError(t, err)
		require.Len(t, gaps, 1)
		assert.Equal(t, day("2024-01-11"), gaps[0].Start)
		assert.Equal(t, day("2024-01-20"), gaps[0].End)
		assert.Equal(t, int64(7), gaps[0].AssetID)
	})

	t.Run("store failure surfaces as a system-classified error", func(t *testing.T) {
		tr := New(&stubCoverage{err: assert.AnError}, logger)

		_, err := tr.MissingRanges(context.Background(), 7, "stock", day("2024-01-01"), day("2024-01-20"))
		require.Error(t, err)
		assert.Equal(t, domain.FailureSystem, domain.Classify(err).Category)
	})
}
