package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
)

// LogFilter narrows ListLogEntries. Zero values mean "any".
type LogFilter struct {
	AssetID       int64
	CollectorType string
	Status        string
	Since         time.Time
	Limit         int
}

// RecordLogEntry appends one collection-log row. The execution link may be
// empty; log entries survive independently of executions.
func (s *Store) RecordLogEntry(ctx context.Context, entry *domain.CollectionLogEntry) error {
	var executionID any
	if entry.ExecutionID != "" {
		executionID = entry.ExecutionID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collection_log (log_id, execution_id, asset_id, collector_type,
			start_date, end_date, records_collected, records_loaded, status,
			error_message, execution_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, executionID, entry.AssetID, entry.CollectorType,
		entry.StartDate, entry.EndDate, entry.RecordsCollected, entry.RecordsLoaded,
		entry.Status, entry.ErrorMessage, entry.ExecutionTime.Milliseconds(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record log entry: %w", err)
	}
	return nil
}

// ListLogEntries returns collection-log rows matching the filter, newest
// first.
func (s *Store) ListLogEntries(ctx context.Context, filter LogFilter) ([]domain.CollectionLogEntry, error) {
	query := `SELECT log_id, COALESCE(execution_id, '') AS execution_id, asset_id,
		collector_type, start_date, end_date, records_collected, records_loaded,
		status, error_message, execution_time_ms, created_at
		FROM collection_log`

	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.AssetID != 0 {
		add("asset_id = $%d", filter.AssetID)
	}
	if filter.CollectorType != "" {
		add("collector_type = $%d", filter.CollectorType)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.CollectionLogEntry
	for rows.Next() {
		var entry domain.CollectionLogEntry
		var millis int64
		if err := rows.Scan(
			&entry.ID, &entry.ExecutionID, &entry.AssetID, &entry.CollectorType,
			&entry.StartDate, &entry.EndDate, &entry.RecordsCollected, &entry.RecordsLoaded,
			&entry.Status, &entry.ErrorMessage, &millis, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry.ExecutionTime = time.Duration(millis) * time.Millisecond
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
