package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/quantpulse/datafeed/internal/collector"
	"github.com/quantpulse/datafeed/internal/domain"
)

// Conflict policies for rows colliding with existing (asset_id, ts) keys.
type ConflictPolicy string

const (
	// ConflictIgnore keeps the stored row and drops the incoming one.
	ConflictIgnore ConflictPolicy = "ignore"
	// ConflictUpdate overwrites the stored row with the incoming one.
	ConflictUpdate ConflictPolicy = "update"
	// ConflictSkipInvalid behaves like ignore and additionally drops rows
	// that fail validation instead of treating them as errors.
	ConflictSkipInvalid ConflictPolicy = "skip_invalid"
)

// insertChunkSize bounds placeholders per statement well under the pq limit.
const insertChunkSize = 500

// preparedRow is a record after coercion, ready for insertion.
type preparedRow struct {
	ts     time.Time
	values map[string]decimal.Decimal
}

// Loader transforms collected records into the target table's shape and
// bulk-inserts them. One bad row never fails the batch; the returned count
// of rows actually persisted is the authoritative success signal.
type Loader struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func New(db *sqlx.DB, logger *slog.Logger) *Loader {
	return &Loader{
		db:     db,
		logger: logger,
	}
}

// Load validates, coerces and inserts records for the asset. The returned
// count is rows actually persisted, which may be less than submitted when
// duplicates or invalid rows are skipped.
func (l *Loader) Load(ctx context.Context, assetID int64, records []collector.Record, spec TableSpec, policy ConflictPolicy) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows, skipped := prepareRows(records, spec, policy)
	if len(skipped) > 0 {
		l.logger.Warn("Skipped invalid rows",
			slog.String("table", spec.Name),
			slog.Int64("asset_id", assetID),
			slog.Int("skipped", len(skipped)),
			slog.String("first_reason", skipped[0]),
		)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var loaded int64
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := l.insertChunk(ctx, assetID, rows[start:end], spec, policy)
		if err != nil {
			return loaded, domain.WrapCollectionError(domain.ErrKindStoreDown,
				fmt.Sprintf("bulk insert into %s", spec.Name), err)
		}
		loaded += n
	}

	l.logger.Info("Loaded rows",
		slog.String("table", spec.Name),
		slog.Int64("asset_id", assetID),
		slog.Int("submitted", len(records)),
		slog.Int64("loaded", loaded),
	)

	return loaded, nil
}

// prepareRows coerces and validates records, returning insertable rows and
// the reasons for every row dropped along the way.
func prepareRows(records []collector.Record, spec TableSpec, policy ConflictPolicy) ([]preparedRow, []string) {
	var rows []preparedRow
	var skipped []string

	for i, rec := range records {
		row, err := prepareRow(rec, spec)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		if spec.Check != nil {
			if err := spec.Check(row.values); err != nil {
				skipped = append(skipped, fmt.Sprintf("row %d: %v", i, err))
				continue
			}
		}
		rows = append(rows, row)
	}
	_ = policy // all policies skip bad rows; policy only changes conflict handling
	return rows, skipped
}

func prepareRow(rec collector.Record, spec TableSpec) (preparedRow, error) {
	ts, err := recordTime(rec)
	if err != nil {
		return preparedRow{}, err
	}

	row := preparedRow{ts: ts, values: make(map[string]decimal.Decimal, len(spec.Columns))}
	for _, col := range spec.Columns {
		raw, ok := lookup(rec, col.Sources)
		if !ok {
			if col.Required {
				return preparedRow{}, fmt.Errorf("missing required column %q", col.Name)
			}
			continue
		}
		val, err := coerceDecimal(raw)
		if err != nil {
			return preparedRow{}, fmt.Errorf("column %q: %w", col.Name, err)
		}
		row.values[col.Name] = val
	}
	return row, nil
}

func lookup(rec collector.Record, sources []string) (any, bool) {
	for _, key := range sources {
		if v, ok := rec[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// recordTime extracts the row timestamp, accepting time.Time values and
// common date string layouts.
func recordTime(rec collector.Record) (time.Time, error) {
	raw, ok := lookup(rec, []string{"time", "ts", "date", "Date"})
	if !ok {
		return time.Time{}, fmt.Errorf("missing time column")
	}
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", v)
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", raw)
	}
}

// coerceDecimal turns ambiguous numeric representations, decimal-looking
// strings included, into exact decimals.
func coerceDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", v)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric value %T", raw)
	}
}

func (l *Loader) insertChunk(ctx context.Context, assetID int64, rows []preparedRow, spec TableSpec, policy ConflictPolicy) (int64, error) {
	query, args := buildInsert(assetID, rows, spec, policy)
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// buildInsert assembles one multi-row INSERT with the conflict clause for
// the policy. Column names come from the fixed table spec, never from input.
func buildInsert(assetID int64, rows []preparedRow, spec TableSpec, policy ConflictPolicy) (string, []any) {
	cols := make([]string, 0, len(spec.Columns)+2)
	cols = append(cols, "asset_id", spec.TimeColumn)
	for _, c := range spec.Columns {
		cols = append(cols, c.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", spec.Name, strings.Join(cols, ", "))

	args := make([]any, 0, len(rows)*len(cols))
	placeholder := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range cols {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", placeholder)
			placeholder++
		}
		sb.WriteByte(')')

		args = append(args, assetID, row.ts)
		for _, c := range spec.Columns {
			if v, ok := row.values[c.Name]; ok {
				args = append(args, v)
			} else {
				args = append(args, nil)
			}
		}
	}

	switch policy {
	case ConflictUpdate:
		fmt.Fprintf(&sb, " ON CONFLICT (asset_id, %s) DO UPDATE SET ", spec.TimeColumn)
		for i, c := range spec.Columns {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s = EXCLUDED.%s", c.Name, c.Name)
		}
	default: // ignore and skip_invalid both keep the stored row
		fmt.Fprintf(&sb, " ON CONFLICT (asset_id, %s) DO NOTHING", spec.TimeColumn)
	}

	return sb.String(), args
}
