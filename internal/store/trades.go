package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

// TradeRepo is the typed accessor for one user's trades_<user> table
// (spec §3 Trade, invariant P1/P3).
type TradeRepo struct {
	db   *DB
	bus  *notify.Bus
	user string
}

// Trades returns a repository scoped to user, publishing db_change to bus
// after every mutation (spec §4.11).
func (db *DB) Trades(user string, bus *notify.Bus) (*TradeRepo, error) {
	u, err := safeUser(user)
	if err != nil {
		return nil, err
	}
	return &TradeRepo{db: db, bus: bus, user: u}, nil
}

// Insert creates a new pending trade and returns it with its assigned id.
// Enforces P3 by always starting in StatusPending regardless of t.Status.
func (r *TradeRepo) Insert(ctx context.Context, t domain.Trade) (domain.Trade, error) {
	t.Status = domain.StatusPending
	query := fmt.Sprintf(`
		INSERT INTO users.trades_%s
			(ticket_id, symbol, side, strike, contract, buy_price, position, fees, prob, diff, momentum, symbol_open, status, entry_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING id, created_at, updated_at`, r.user)

	row := r.db.conn.QueryRowxContext(ctx, query,
		t.TicketID, t.Symbol, t.Side, t.Strike, t.Contract, t.BuyPrice, t.Position,
		t.Fees, t.Prob, t.Diff, t.Momentum, t.SymbolOpen, t.Status, t.EntryMethod)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Trade{}, &domain.TransientError{Component: "store.trades", Message: "insert failed", Err: err}
	}

	r.bus.Publish(notify.Change{Table: tableName("trades", r.user), User: r.user})
	return t, nil
}

// GetByID loads one trade by its primary key.
func (r *TradeRepo) GetByID(ctx context.Context, id int64) (domain.Trade, error) {
	query := fmt.Sprintf(`SELECT id, ticket_id, symbol, side, strike, contract, buy_price, position,
		fees, prob, diff, momentum, symbol_open, status, entry_method, created_at, updated_at
		FROM users.trades_%s WHERE id = $1`, r.user)

	var t domain.Trade
	err := r.db.conn.GetContext(ctx, &t, query, id)
	if err == sql.ErrNoRows {
		return domain.Trade{}, &domain.InvariantError{TradeID: id, Message: "trade not found"}
	}
	if err != nil {
		return domain.Trade{}, &domain.TransientError{Component: "store.trades", Message: "get failed", Err: err}
	}
	return t, nil
}

// GetByTicketID loads one trade by its exchange-assigned ticket id (P5).
func (r *TradeRepo) GetByTicketID(ctx context.Context, ticketID string) (domain.Trade, error) {
	query := fmt.Sprintf(`SELECT id, ticket_id, symbol, side, strike, contract, buy_price, position,
		fees, prob, diff, momentum, symbol_open, status, entry_method, created_at, updated_at
		FROM users.trades_%s WHERE ticket_id = $1`, r.user)

	var t domain.Trade
	err := r.db.conn.GetContext(ctx, &t, query, ticketID)
	if err == sql.ErrNoRows {
		return domain.Trade{}, &domain.InvariantError{Message: "trade not found for ticket " + ticketID}
	}
	if err != nil {
		return domain.Trade{}, &domain.TransientError{Component: "store.trades", Message: "get by ticket failed", Err: err}
	}
	return t, nil
}

// ListOpen returns every trade whose status is open or closing, the set the
// Active Trade Supervisor tick loop operates on.
func (r *TradeRepo) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	query := fmt.Sprintf(`SELECT id, ticket_id, symbol, side, strike, contract, buy_price, position,
		fees, prob, diff, momentum, symbol_open, status, entry_method, created_at, updated_at
		FROM users.trades_%s WHERE status IN ('open','closing') ORDER BY id`, r.user)

	var trades []domain.Trade
	if err := r.db.conn.SelectContext(ctx, &trades, query); err != nil {
		return nil, &domain.TransientError{Component: "store.trades", Message: "list open failed", Err: err}
	}
	return trades, nil
}

// TransitionStatus moves a trade to next, rejecting any transition
// CanTransition disallows (P3: no skips, no reversals).
func (r *TradeRepo) TransitionStatus(ctx context.Context, id int64, next domain.TradeStatus) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.CanTransition(next) {
		return &domain.InvariantError{TradeID: id, Message: fmt.Sprintf("illegal transition %s -> %s", current.Status, next)}
	}

	query := fmt.Sprintf(`UPDATE users.trades_%s SET status = $1, updated_at = now() WHERE id = $2`, r.user)
	if _, err := r.db.conn.ExecContext(ctx, query, next, id); err != nil {
		return &domain.TransientError{Component: "store.trades", Message: "transition failed", Err: err}
	}

	r.bus.Publish(notify.Change{Table: tableName("trades", r.user), User: r.user})
	return nil
}
