package domain

import "time"

// Asset is a symbol known to the platform. Assets are created on first
// reference by any job and never deleted by the core.
type Asset struct {
	ID        int64     `db:"asset_id" json:"asset_id"`
	Symbol    string    `db:"symbol" json:"symbol"`
	AssetType string    `db:"asset_type" json:"asset_type"`
	Metadata  string    `db:"metadata" json:"metadata,omitempty"` // provider-specific, JSON
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Interval is an inclusive covered date range, day granularity.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Gap is a sub-range of a requested window not yet covered by stored data.
// Gaps are ephemeral: produced by the tracker, consumed within one run.
type Gap struct {
	AssetID int64
	Start   time.Time
	End     time.Time
}
