package loader

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Column maps record fields onto one target-table column. Sources lists the
// record keys accepted for this column, tried in order; providers disagree
// on field naming.
type Column struct {
	Name     string
	Sources  []string
	Required bool
	Numeric  bool
}

// TableSpec describes the shape of one time-series table. Rows are keyed by
// (asset_id, ts); Check is the hard per-row constraint applied before
// insertion.
type TableSpec struct {
	Name       string
	TimeColumn string
	Columns    []Column
	Check      func(values map[string]decimal.Decimal) error
}

func ohlcColumns() []Column {
	return []Column{
		{Name: "open", Sources: []string{"open", "Open", "o"}, Required: true, Numeric: true},
		{Name: "high", Sources: []string{"high", "High", "h"}, Required: true, Numeric: true},
		{Name: "low", Sources: []string{"low", "Low", "l"}, Required: true, Numeric: true},
		{Name: "close", Sources: []string{"close", "Close", "c"}, Required: true, Numeric: true},
		{Name: "volume", Sources: []string{"volume", "Volume", "v"}, Required: false, Numeric: true},
	}
}

// checkOHLC rejects bars whose price relationships are impossible.
func checkOHLC(values map[string]decimal.Decimal) error {
	high, hasHigh := values["high"]
	low, hasLow := values["low"]
	if hasHigh && hasLow && high.LessThan(low) {
		return fmt.Errorf("high %s below low %s", high, low)
	}
	if vol, ok := values["volume"]; ok && vol.IsNegative() {
		return fmt.Errorf("negative volume %s", vol)
	}
	return nil
}

// Schemas maps asset types to their time-series table. One table per asset
// category, all keyed by (asset_id, ts).
var Schemas = map[string]TableSpec{
	"stock": {
		Name:       "stock_prices",
		TimeColumn: "ts",
		Columns:    ohlcColumns(),
		Check:      checkOHLC,
	},
	"crypto": {
		Name:       "crypto_prices",
		TimeColumn: "ts",
		Columns:    ohlcColumns(),
		Check:      checkOHLC,
	},
	"fx": {
		Name:       "fx_rates",
		TimeColumn: "ts",
		Columns: []Column{
			{Name: "rate", Sources: []string{"rate", "close", "price"}, Required: true, Numeric: true},
		},
		Check: func(values map[string]decimal.Decimal) error {
			if rate, ok := values["rate"]; ok && !rate.IsPositive() {
				return fmt.Errorf("non-positive rate %s", rate)
			}
			return nil
		},
	},
	"fund": {
		Name:       "fund_prices",
		TimeColumn: "ts",
		Columns: []Column{
			{Name: "price", Sources: []string{"price", "close", "nav"}, Required: true, Numeric: true},
		},
		Check: func(values map[string]decimal.Decimal) error {
			if price, ok := values["price"]; ok && price.IsNegative() {
				return fmt.Errorf("negative price %s", price)
			}
			return nil
		},
	},
}

// SpecFor returns the table spec for an asset type.
func SpecFor(assetType string) (TableSpec, error) {
	spec, ok := Schemas[assetType]
	if !ok {
		return TableSpec{}, fmt.Errorf("no table spec for asset type %q", assetType)
	}
	return spec, nil
}
