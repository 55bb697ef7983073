package store

import (
	"context"
	"fmt"
	"time"

	"github.com/recio/trading-core/internal/domain"
)

// estLocation is the fixed reference zone the 30-day rolling window is
// measured against (spec §3 PriceTick: "older than 30 days EST").
var estLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}()

// PriceLogRepo is the typed accessor for live_data.<symbol>_price_log
// (spec §3 PriceTick, invariant P4).
type PriceLogRepo struct {
	db     *DB
	symbol string
}

func (db *DB) PriceLog(symbol string) (*PriceLogRepo, error) {
	s, err := safeUser(symbol)
	if err != nil {
		return nil, err
	}
	return &PriceLogRepo{db: db, symbol: s}, nil
}

// EnsureTable creates the symbol's price log table if it does not exist.
func (r *PriceLogRepo) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS live_data.%s_price_log (
		ts    TIMESTAMPTZ PRIMARY KEY,
		price DOUBLE PRECISION NOT NULL
	)`, r.symbol)
	if _, err := r.db.conn.ExecContext(ctx, query); err != nil {
		return &domain.ConfigError{Component: "store.pricelog", Message: "failed to ensure table for " + r.symbol, Err: err}
	}
	return nil
}

// Insert upserts one tick at its timestamp (monotonic per symbol is
// enforced by the caller picking strictly increasing timestamps; a repeat
// timestamp overwrites rather than duplicating) and prunes every row older
// than 30 days EST in the same transaction, per P4.
func (r *PriceLogRepo) Insert(ctx context.Context, tick domain.PriceTick) error {
	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return &domain.TransientError{Component: "store.pricelog", Message: "begin tx failed", Err: err}
	}
	defer tx.Rollback()

	insertQuery := fmt.Sprintf(`
		INSERT INTO live_data.%s_price_log (ts, price) VALUES ($1, $2)
		ON CONFLICT (ts) DO UPDATE SET price = EXCLUDED.price`, r.symbol)
	if _, err := tx.ExecContext(ctx, insertQuery, tick.Timestamp, tick.Price); err != nil {
		return &domain.TransientError{Component: "store.pricelog", Message: "insert failed", Err: err}
	}

	cutoff := time.Now().In(estLocation).AddDate(0, 0, -30)
	pruneQuery := fmt.Sprintf(`DELETE FROM live_data.%s_price_log WHERE ts < $1`, r.symbol)
	if _, err := tx.ExecContext(ctx, pruneQuery, cutoff); err != nil {
		return &domain.TransientError{Component: "store.pricelog", Message: "prune failed", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &domain.TransientError{Component: "store.pricelog", Message: "commit failed", Err: err}
	}
	return nil
}

// Latest returns the most recently inserted tick.
func (r *PriceLogRepo) Latest(ctx context.Context) (domain.PriceTick, error) {
	query := fmt.Sprintf(`SELECT ts, price FROM live_data.%s_price_log ORDER BY ts DESC LIMIT 1`, r.symbol)

	var ts time.Time
	var price float64
	if err := r.db.conn.QueryRowContext(ctx, query).Scan(&ts, &price); err != nil {
		return domain.PriceTick{}, &domain.TransientError{Component: "store.pricelog", Message: "latest failed", Err: err}
	}

	return domain.PriceTick{Symbol: r.symbol, Timestamp: ts, Price: price}, nil
}

// Window returns every tick within the last `since` duration, used for
// momentum and differential smoothing (pkg/formulas).
func (r *PriceLogRepo) Window(ctx context.Context, since time.Duration) ([]domain.PriceTick, error) {
	query := fmt.Sprintf(`SELECT ts, price FROM live_data.%s_price_log WHERE ts >= $1 ORDER BY ts ASC`, r.symbol)

	rows, err := r.db.conn.QueryContext(ctx, query, time.Now().Add(-since))
	if err != nil {
		return nil, &domain.TransientError{Component: "store.pricelog", Message: "window failed", Err: err}
	}
	defer rows.Close()

	var ticks []domain.PriceTick
	for rows.Next() {
		var t domain.PriceTick
		t.Symbol = r.symbol
		if err := rows.Scan(&t.Timestamp, &t.Price); err != nil {
			return nil, &domain.TransientError{Component: "store.pricelog", Message: "window scan failed", Err: err}
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}
