package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantpulse/datafeed/internal/domain"
	"github.com/quantpulse/datafeed/internal/loader"
)

// GetOrCreateAsset resolves a symbol, creating the asset on first reference.
// Assets are unique on symbol and never deleted by the core.
func (s *Store) GetOrCreateAsset(ctx context.Context, symbol, assetType string) (*domain.Asset, error) {
	var asset domain.Asset
	err := s.db.GetContext(ctx, &asset,
		`SELECT asset_id, symbol, asset_type, metadata, created_at FROM assets WHERE symbol = $1`,
		symbol,
	)
	if err == nil {
		return &asset, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get asset: %w", err)
	}

	// Concurrent first references race here; the conflict clause makes the
	// loser fall through to the stored row.
	err = s.db.GetContext(ctx, &asset,
		`INSERT INTO assets (symbol, asset_type, metadata, created_at)
		 VALUES ($1, $2, '{}', NOW())
		 ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		 RETURNING asset_id, symbol, asset_type, metadata, created_at`,
		symbol, assetType,
	)
	if err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	s.logger.Info("Asset registered",
		slog.String("symbol", symbol),
		slog.String("asset_type", assetType),
		slog.Int64("asset_id", asset.ID),
	)
	return &asset, nil
}

// GetAsset returns the asset or domain.ErrAssetNotFound.
func (s *Store) GetAsset(ctx context.Context, id int64) (*domain.Asset, error) {
	var asset domain.Asset
	err := s.db.GetContext(ctx, &asset,
		`SELECT asset_id, symbol, asset_type, metadata, created_at FROM assets WHERE asset_id = $1`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAssetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &asset, nil
}

// Coverage returns the covered date intervals for an asset inside [from, to]
// as a sorted list of islands. Consecutive stored days collapse into one
// interval: each row's day minus its row number is constant within an
// island.
func (s *Store) Coverage(ctx context.Context, assetID int64, assetType string, from, to time.Time) ([]domain.Interval, error) {
	spec, err := loader.SpecFor(assetType)
	if err != nil {
		return nil, fmt.Errorf("coverage: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT MIN(day) AS start, MAX(day) AS "end"
		FROM (
			SELECT day, day - (ROW_NUMBER() OVER (ORDER BY day))::int AS grp
			FROM (
				SELECT DISTINCT %s::date AS day
				FROM %s
				WHERE asset_id = $1 AND %s >= $2 AND %s < $3
			) days
		) islands
		GROUP BY grp
		ORDER BY start`,
		spec.TimeColumn, spec.Name, spec.TimeColumn, spec.TimeColumn,
	)

	rows, err := s.db.QueryContext(ctx, query, assetID, from, to.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("coverage query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var intervals []domain.Interval
	for rows.Next() {
		var iv domain.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, fmt.Errorf("scan coverage interval: %w", err)
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}
