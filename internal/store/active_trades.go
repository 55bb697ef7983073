package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

// ActiveTradeRepo maintains the active_trades_<user> live mirror (spec §3
// ActiveTrade, invariant P1: exactly one row per non-terminal trade).
type ActiveTradeRepo struct {
	db   *DB
	bus  *notify.Bus
	user string
}

func (db *DB) ActiveTrades(user string, bus *notify.Bus) (*ActiveTradeRepo, error) {
	u, err := safeUser(user)
	if err != nil {
		return nil, err
	}
	return &ActiveTradeRepo{db: db, bus: bus, user: u}, nil
}

// Upsert creates or refreshes the live-metrics row for tradeID. Called once
// per tick per open trade by the Active Trade Supervisor.
func (r *ActiveTradeRepo) Upsert(ctx context.Context, at domain.ActiveTrade) error {
	query := fmt.Sprintf(`
		INSERT INTO users.active_trades_%s
			(trade_id, current_symbol_price, current_close_price, buffer_from_strike,
			 time_since_entry_seconds, ttc_seconds, current_probability, current_pnl, degraded, last_updated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (trade_id) DO UPDATE SET
			current_symbol_price = EXCLUDED.current_symbol_price,
			current_close_price  = EXCLUDED.current_close_price,
			buffer_from_strike   = EXCLUDED.buffer_from_strike,
			time_since_entry_seconds     = EXCLUDED.time_since_entry_seconds,
			ttc_seconds          = EXCLUDED.ttc_seconds,
			current_probability  = EXCLUDED.current_probability,
			current_pnl          = EXCLUDED.current_pnl,
			degraded             = EXCLUDED.degraded,
			last_updated         = now()`, r.user)

	_, err := r.db.conn.ExecContext(ctx, query,
		at.TradeID, at.CurrentSymbolPrice, at.CurrentClosePrice, at.BufferFromStrike,
		at.TimeSinceEntry, at.TTCSeconds, at.CurrentProbability, at.CurrentPnL, at.Degraded)
	if err != nil {
		return &domain.TransientError{Component: "store.active_trades", Message: "upsert failed", Err: err}
	}

	r.bus.Publish(notify.Change{Table: tableName("active_trades", r.user), User: r.user})
	return nil
}

// Remove deletes the live row for tradeID. Called the moment a trade reaches
// a terminal status (P1: "row removed on terminal status").
func (r *ActiveTradeRepo) Remove(ctx context.Context, tradeID int64) error {
	query := fmt.Sprintf(`DELETE FROM users.active_trades_%s WHERE trade_id = $1`, r.user)
	if _, err := r.db.conn.ExecContext(ctx, query, tradeID); err != nil {
		return &domain.TransientError{Component: "store.active_trades", Message: "remove failed", Err: err}
	}
	r.bus.Publish(notify.Change{Table: tableName("active_trades", r.user), User: r.user})
	return nil
}

// Get loads the live row for tradeID.
func (r *ActiveTradeRepo) Get(ctx context.Context, tradeID int64) (domain.ActiveTrade, error) {
	query := fmt.Sprintf(`SELECT trade_id, current_symbol_price, current_close_price, buffer_from_strike,
		time_since_entry_seconds, ttc_seconds, current_probability, current_pnl, degraded, last_updated
		FROM users.active_trades_%s WHERE trade_id = $1`, r.user)

	var at domain.ActiveTrade
	err := r.db.conn.GetContext(ctx, &at, query, tradeID)
	if err == sql.ErrNoRows {
		return domain.ActiveTrade{}, &domain.InvariantError{TradeID: tradeID, Message: "active trade row missing"}
	}
	if err != nil {
		return domain.ActiveTrade{}, &domain.TransientError{Component: "store.active_trades", Message: "get failed", Err: err}
	}
	return at, nil
}

// ListAll returns every live row, used to detect P1 violations (orphaned
// rows whose trade has gone terminal, or missing rows for an open trade).
func (r *ActiveTradeRepo) ListAll(ctx context.Context) ([]domain.ActiveTrade, error) {
	query := fmt.Sprintf(`SELECT trade_id, current_symbol_price, current_close_price, buffer_from_strike,
		time_since_entry_seconds, ttc_seconds, current_probability, current_pnl, degraded, last_updated
		FROM users.active_trades_%s`, r.user)

	var rows []domain.ActiveTrade
	if err := r.db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, &domain.TransientError{Component: "store.active_trades", Message: "list failed", Err: err}
	}
	return rows, nil
}
