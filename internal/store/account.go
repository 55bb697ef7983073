package store

import (
	"context"
	"fmt"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

// AccountRepo is the typed accessor for the per-user positions, fills,
// orders, settlements, and balance mirrors kept fresh by Kalshi Account
// Sync (spec §4.3). Every upsert is keyed by the exchange's own id
// (order_id, trade_id, market_id) and never deletes (spec: "Never deletes
// rows").
type AccountRepo struct {
	db   *DB
	bus  *notify.Bus
	user string
}

func (db *DB) Account(user string, bus *notify.Bus) (*AccountRepo, error) {
	u, err := safeUser(user)
	if err != nil {
		return nil, err
	}
	return &AccountRepo{db: db, bus: bus, user: u}, nil
}

// UpsertPositions replaces the known position rows, one per market.
func (r *AccountRepo) UpsertPositions(ctx context.Context, positions []domain.Position) error {
	query := fmt.Sprintf(`
		INSERT INTO users.positions_%s (market_id, side, quantity, avg_price, updated_at)
		VALUES ($1,$2,$3,$4, now())
		ON CONFLICT (market_id) DO UPDATE SET
			side = EXCLUDED.side, quantity = EXCLUDED.quantity, avg_price = EXCLUDED.avg_price, updated_at = now()`, r.user)

	for _, p := range positions {
		if _, err := r.db.conn.ExecContext(ctx, query, p.MarketID, p.Side, p.Quantity, p.AvgPrice); err != nil {
			return &domain.TransientError{Component: "store.account", Message: "upsert position failed", Err: err}
		}
	}
	if len(positions) > 0 {
		r.bus.Publish(notify.Change{Table: tableName("positions", r.user), User: r.user})
	}
	return nil
}

// UpsertFills inserts fills keyed by the exchange's trade_id natural key,
// never overwriting an existing one (fills are immutable once reported).
func (r *AccountRepo) UpsertFills(ctx context.Context, fills []domain.Fill) error {
	query := fmt.Sprintf(`
		INSERT INTO users.fills_%s (trade_id, order_id, market_id, side, price, quantity, filled_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (trade_id) DO NOTHING`, r.user)

	for _, f := range fills {
		if _, err := r.db.conn.ExecContext(ctx, query, f.TradeID, f.OrderID, f.MarketID, f.Side, f.Price, f.Quantity, f.FilledAt); err != nil {
			return &domain.TransientError{Component: "store.account", Message: "upsert fill failed", Err: err}
		}
	}
	if len(fills) > 0 {
		r.bus.Publish(notify.Change{Table: tableName("fills", r.user), User: r.user})
	}
	return nil
}

// UpsertOrders refreshes order rows keyed by order_id, reflecting status
// changes (open, filled, cancelled) as the exchange reports them.
func (r *AccountRepo) UpsertOrders(ctx context.Context, orders []domain.Order) error {
	query := fmt.Sprintf(`
		INSERT INTO users.orders_%s (order_id, market_id, side, status, price, quantity, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6, now())
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status, price = EXCLUDED.price, quantity = EXCLUDED.quantity, updated_at = now()`, r.user)

	for _, o := range orders {
		if _, err := r.db.conn.ExecContext(ctx, query, o.OrderID, o.MarketID, o.Side, o.Status, o.Price, o.Quantity); err != nil {
			return &domain.TransientError{Component: "store.account", Message: "upsert order failed", Err: err}
		}
	}
	if len(orders) > 0 {
		r.bus.Publish(notify.Change{Table: tableName("orders", r.user), User: r.user})
	}
	return nil
}

// UpsertSettlements inserts settlement rows keyed by market_id.
func (r *AccountRepo) UpsertSettlements(ctx context.Context, settlements []domain.Settlement) error {
	query := fmt.Sprintf(`
		INSERT INTO users.settlements_%s (market_id, result, revenue, settled_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (market_id) DO UPDATE SET
			result = EXCLUDED.result, revenue = EXCLUDED.revenue, settled_at = EXCLUDED.settled_at`, r.user)

	for _, s := range settlements {
		if _, err := r.db.conn.ExecContext(ctx, query, s.MarketID, s.Result, s.Revenue, s.SettledAt); err != nil {
			return &domain.TransientError{Component: "store.account", Message: "upsert settlement failed", Err: err}
		}
	}
	if len(settlements) > 0 {
		r.bus.Publish(notify.Change{Table: tableName("settlements", r.user), User: r.user})
	}
	return nil
}

// UpsertBalance writes the single current balance row for the user.
func (r *AccountRepo) UpsertBalance(ctx context.Context, b domain.Balance) error {
	query := fmt.Sprintf(`
		INSERT INTO users.balance_%s (user_id, currency, amount, updated_at)
		VALUES ($1,$2,$3, now())
		ON CONFLICT (user_id) DO UPDATE SET currency = EXCLUDED.currency, amount = EXCLUDED.amount, updated_at = now()`, r.user)

	if _, err := r.db.conn.ExecContext(ctx, query, r.user, b.Currency, b.Amount); err != nil {
		return &domain.TransientError{Component: "store.account", Message: "upsert balance failed", Err: err}
	}
	r.bus.Publish(notify.Change{Table: tableName("balance", r.user), User: r.user})
	return nil
}

// ListPositions returns every known position for the user.
func (r *AccountRepo) ListPositions(ctx context.Context) ([]domain.Position, error) {
	query := fmt.Sprintf(`SELECT market_id, side, quantity, avg_price, updated_at FROM users.positions_%s`, r.user)
	var rows []domain.Position
	if err := r.db.conn.SelectContext(ctx, &rows, query); err != nil {
		return nil, &domain.TransientError{Component: "store.account", Message: "list positions failed", Err: err}
	}
	return rows, nil
}
