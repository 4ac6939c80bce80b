package loader

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantpulse/datafeed/internal/collector"
)

func stockSpec(t *testing.T) TableSpec {
	t.Helper()
	spec, err := SpecFor("stock")
	require.NoError(t, err)
	return spec
}

func bar(date string, open, high, low, close string) collector.Record {
	return collector.Record{
		"date":  date,
		"open":  open,
		"high":  high,
		"low":   low,
		"close": close,
	}
}

func TestPrepareRows_CoercesDecimalStrings(t *testing.T) {
	rows, skipped := prepareRows([]collector.Record{
		bar("2024-01-02", "101.50", "103.25", "100.00", "102.75"),
	}, stockSpec(t), ConflictIgnore)

	require.Empty(t, skipped)
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), rows[0].ts)
	assert.True(t, rows[0].values["close"].Equal(decimal.RequireFromString("102.75")))
}

func TestPrepareRows_SkipsConstraintViolationsIndividually(t *testing.T) {
	records := make([]collector.Record, 0, 100)
	for i := 0; i < 100; i++ {
		date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02")
		if i < 3 {
			// high below low violates the bar constraint
			records = append(records, bar(date, "10", "9", "11", "10"))
			continue
		}
		records = append(records, bar(date, "10", "12", "9", "11"))
	}

	rows, skipped := prepareRows(records, stockSpec(t), ConflictSkipInvalid)

	assert.Len(t, rows, 97)
	assert.Len(t, skipped, 3)
	assert.Contains(t, skipped[0], "below low")
}

func TestPrepareRows_MissingRequiredAndBadValues(t *testing.T) {
	tests := []struct {
		name   string
		record collector.Record
		reason string
	}{
		{
			name:   "missing required close",
			record: collector.Record{"date": "2024-01-02", "open": "1", "high": "2", "low": "1"},
			reason: `missing required column "close"`,
		},
		{
			name:   "non-numeric field",
			record: bar("2024-01-02", "1", "2", "1", "n/a"),
			reason: "not a number",
		},
		{
			name:   "missing time",
			record: collector.Record{"open": "1", "high": "2", "low": "1", "close": "1.5"},
			reason: "missing time column",
		},
		{
			name:   "unparseable time",
			record: bar("yesterday", "1", "2", "1", "1.5"),
			reason: "unparseable time",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, skipped := prepareRows([]collector.Record{tt.record}, stockSpec(t), ConflictIgnore)
			assert.Empty(t, rows)
			require.Len(t, skipped, 1)
			assert.Contains(t, skipped[0], tt.reason)
		})
	}
}

func TestPrepareRows_OptionalColumnMayBeAbsent(t *testing.T) {
	rows, skipped := prepareRows([]collector.Record{
		bar("2024-01-02", "1", "2", "1", "1.5"), // no volume
	}, stockSpec(t), ConflictIgnore)

	require.Empty(t, skipped)
	require.Len(t, rows, 1)
	_, hasVolume := rows[0].values["volume"]
	assert.False(t, hasVolume)
}

func TestPrepareRows_AlternateSourceKeys(t *testing.T) {
	rows, skipped := prepareRows([]collector.Record{
		{
			"time": time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
			"o":    1.0, "h": 2.0, "l": 0.5, "c": 1.5, "v": int64(1000),
		},
	}, stockSpec(t), ConflictIgnore)

	require.Empty(t, skipped)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].values["volume"].Equal(decimal.NewFromInt(1000)))
}

func TestBuildInsert_ConflictClauses(t *testing.T) {
	spec := stockSpec(t)
	rows := []preparedRow{
		{
			ts: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			values: map[string]decimal.Decimal{
				"open": decimal.NewFromInt(1), "high": decimal.NewFromInt(2),
				"low": decimal.NewFromInt(1), "close": decimal.NewFromInt(2),
			},
		},
		{
			ts: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			values: map[string]decimal.Decimal{
				"open": decimal.NewFromInt(2), "high": decimal.NewFromInt(3),
				"low": decimal.NewFromInt(2), "close": decimal.NewFromInt(3),
			},
		},
	}

	t.Run("ignore", func(t *testing.T) {
		query, args := buildInsert(7, rows, spec, ConflictIgnore)
		assert.True(t, strings.HasPrefix(query, "INSERT INTO stock_prices (asset_id, ts, open, high, low, close, volume) VALUES "))
		assert.Contains(t, query, "ON CONFLICT (asset_id, ts) DO NOTHING")
		// 2 rows x 7 columns
		assert.Len(t, args, 14)
		assert.Equal(t, int64(7), args[0])
		// absent optional volume binds NULL
		assert.Nil(t, args[6])
	})

	t.Run("update", func(t *testing.T) {
		query, _ := buildInsert(7, rows, spec, ConflictUpdate)
		assert.Contains(t, query, "ON CONFLICT (asset_id, ts) DO UPDATE SET open = EXCLUDED.open")
		assert.Contains(t, query, "close = EXCLUDED.close")
	})

	t.Run("skip_invalid degrades to do-nothing on key conflicts", func(t *testing.T) {
		query, _ := buildInsert(7, rows, spec, ConflictSkipInvalid)
		assert.Contains(t, query, "DO NOTHING")
	})

	t.Run("placeholders are sequential", func(t *testing.T) {
		query, _ := buildInsert(7, rows, spec, ConflictIgnore)
		assert.Contains(t, query, "($1, $2, $3, $4, $5, $6, $7)")
		assert.Contains(t, query, "($8, $9, $10, $11, $12, $13, $14)")
	})
}
