package store

import (
	"context"
	"fmt"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// ExecutionSummary aggregates finalized runs since a point in time.
type ExecutionSummary struct {
	Total       int64   `db:"total" json:"total"`
	Succeeded   int64   `db:"succeeded" json:"succeeded"`
	Partial     int64   `db:"partial" json:"partial"`
	Failed      int64   `db:"failed" json:"failed"`
	SuccessRate float64 `db:"-" json:"success_rate"`
}

// TrendBucket is one time bucket of the execution trend.
type TrendBucket struct {
	Bucket    time.Time `db:"bucket" json:"bucket"`
	Total     int64     `db:"total" json:"total"`
	Succeeded int64     `db:"succeeded" json:"succeeded"`
	Failed    int64     `db:"failed" json:"failed"`
}

// ExecutionSummarySince computes the aggregate success rate from stored
// executions. Nothing is maintained as separate state; this is a plain read.
func (s *Store) ExecutionSummarySince(ctx context.Context, since time.Time) (*ExecutionSummary, error) {
	var summary ExecutionSummary
	err := s.db.GetContext(ctx, &summary, `
		SELECT COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = $1) AS succeeded,
		       COUNT(*) FILTER (WHERE status = $2) AS partial,
		       COUNT(*) FILTER (WHERE status = $3) AS failed
		FROM job_executions
		WHERE finished_at IS NOT NULL AND finished_at >= $4`,
		string(domain.ExecutionSuccess), string(domain.ExecutionPartial),
		string(domain.ExecutionFailed), since,
	)
	if err != nil {
		return nil, fmt.Errorf("execution summary: %w", err)
	}
	if summary.Total > 0 {
		summary.SuccessRate = float64(summary.Succeeded) / float64(summary.Total)
	}
	return &summary, nil
}

// FailureCountsByCategory counts failed executions per error category.
func (s *Store) FailureCountsByCategory(ctx context.Context, since time.Time) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT error_category, COUNT(*)
		FROM job_executions
		WHERE status = $1 AND finished_at >= $2
		GROUP BY error_category`,
		string(domain.ExecutionFailed), since,
	)
	if err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan failure count: %w", err)
		}
		counts[category] = count
	}
	return counts, rows.Err()
}

// ExecutionTrend buckets finalized executions by hour since the given time.
func (s *Store) ExecutionTrend(ctx context.Context, since time.Time) ([]TrendBucket, error) {
	var buckets []TrendBucket
	err := s.db.SelectContext(ctx, &buckets, `
		SELECT date_trunc('hour', finished_at) AS bucket,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE status = $1) AS succeeded,
		       COUNT(*) FILTER (WHERE status = $2) AS failed
		FROM job_executions
		WHERE finished_at IS NOT NULL AND finished_at >= $3
		GROUP BY bucket
		ORDER BY bucket`,
		string(domain.ExecutionSuccess), string(domain.ExecutionFailed), since,
	)
	if err != nil {
		return nil, fmt.Errorf("execution trend: %w", err)
	}
	return buckets, nil
}
