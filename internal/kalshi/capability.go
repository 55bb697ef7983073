// Package kalshi is the exchange client: request-signed REST for orders,
// fills, positions, settlements and balance, plus a WebSocket subscription
// client for streaming market data (spec §6 External Interfaces). Callers
// declare their own narrow interfaces over the methods they use, never the
// concrete client, so
// demo/prod selection and test doubles stay at the construction boundary
// (Design Notes §9: "demo/prod variants instead of global flag reads").
package kalshi

import (
	"context"

	"github.com/recio/trading-core/internal/domain"
)

// AccountMode selects which Kalshi environment a Capability talks to.
type AccountMode = domain.AccountMode

// Capability is the full exchange surface *Client provides. No component
// in this module depends on it directly: AccountSync, MarketFeed and
// TradeExecutor each declare a narrower interface of their own.
type Capability interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	FetchPositions(ctx context.Context) ([]domain.Position, error)
	FetchFills(ctx context.Context) ([]domain.Fill, error)
	FetchOrders(ctx context.Context) ([]domain.Order, error)
	FetchSettlements(ctx context.Context) ([]domain.Settlement, error)
	FetchBalance(ctx context.Context) (domain.Balance, error)
	Subscribe(ctx context.Context, tickers []string) (<-chan domain.MarketSnapshot, error)
}
