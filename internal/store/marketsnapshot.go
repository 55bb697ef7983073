package store

import (
	"context"
	"database/sql"

	"github.com/recio/trading-core/internal/domain"
)

// MarketSnapshotRepo is the typed accessor for the shared market_snapshots
// table populated by the Market-Data Ingestion Pipeline (spec C2).
type MarketSnapshotRepo struct {
	db *DB
}

func (db *DB) MarketSnapshots() *MarketSnapshotRepo {
	return &MarketSnapshotRepo{db: db}
}

// Upsert writes the latest known state for one market.
func (r *MarketSnapshotRepo) Upsert(ctx context.Context, s domain.MarketSnapshot) error {
	query := `
		INSERT INTO market_snapshots
			(event_ticker, market_id, strike, yes_bid, yes_ask, no_bid, no_ask, volume, status, tier_spacing, close_time, open_time, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12, now())
		ON CONFLICT (event_ticker, market_id) DO UPDATE SET
			strike = EXCLUDED.strike, yes_bid = EXCLUDED.yes_bid, yes_ask = EXCLUDED.yes_ask,
			no_bid = EXCLUDED.no_bid, no_ask = EXCLUDED.no_ask, volume = EXCLUDED.volume,
			status = EXCLUDED.status, tier_spacing = EXCLUDED.tier_spacing,
			close_time = EXCLUDED.close_time, open_time = EXCLUDED.open_time, updated_at = now()`

	_, err := r.db.conn.ExecContext(ctx, query,
		s.EventTicker, s.MarketID, s.Strike, s.YesBid, s.YesAsk, s.NoBid, s.NoAsk,
		s.Volume, s.Status, s.TierSpacing, s.CloseTime, s.OpenTime)
	if err != nil {
		return &domain.TransientError{Component: "store.marketsnapshot", Message: "upsert failed", Err: err}
	}
	return nil
}

// Get loads one market's snapshot by its composite key.
func (r *MarketSnapshotRepo) Get(ctx context.Context, eventTicker, marketID string) (domain.MarketSnapshot, error) {
	query := `SELECT event_ticker, market_id, strike, yes_bid, yes_ask, no_bid, no_ask,
		volume, status, tier_spacing, close_time, open_time, updated_at
		FROM market_snapshots WHERE event_ticker = $1 AND market_id = $2`

	var s domain.MarketSnapshot
	err := r.db.conn.GetContext(ctx, &s, query, eventTicker, marketID)
	if err == sql.ErrNoRows {
		return domain.MarketSnapshot{}, &domain.DegradedError{Source: "store.marketsnapshot"}
	}
	if err != nil {
		return domain.MarketSnapshot{}, &domain.TransientError{Component: "store.marketsnapshot", Message: "get failed", Err: err}
	}
	return s, nil
}

// ListByVolume returns every open market with volume >= minVolume and ask
// price <= maxAsk, the AutoEntryEngine watchlist query (spec §4.5).
func (r *MarketSnapshotRepo) ListByVolume(ctx context.Context, minVolume int64, maxAsk float64) ([]domain.MarketSnapshot, error) {
	query := `SELECT event_ticker, market_id, strike, yes_bid, yes_ask, no_bid, no_ask,
		volume, status, tier_spacing, close_time, open_time, updated_at
		FROM market_snapshots WHERE status = 'active' AND volume >= $1 AND yes_ask <= $2
		ORDER BY volume DESC`

	var rows []domain.MarketSnapshot
	if err := r.db.conn.SelectContext(ctx, &rows, query, minVolume, maxAsk); err != nil {
		return nil, &domain.TransientError{Component: "store.marketsnapshot", Message: "list by volume failed", Err: err}
	}
	return rows, nil
}
