// Package trademanager implements the trade lifecycle contract (spec §4.8,
// component C8): opening and closing trades through TradeExecutor while
// keeping Trade.Status transitions idempotent by ticket_id.
package trademanager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
)

// Intent describes a request to open a new position.
type Intent struct {
	TicketID    string
	Symbol      string
	Side        domain.Side
	Strike      float64
	Contract    string
	BuyPrice    float64
	Position    int
	Fees        float64
	Prob        float64
	Diff        float64
	Momentum    float64
	SymbolOpen  float64
	EntryMethod domain.EntryMethod
	MarketID    string
	Quantity    int
}

// Executor is the order-placement dependency, satisfied by
// *tradeexecutor.Executor.
type Executor interface {
	PlaceOrder(ctx context.Context, ticketID string, order domain.Order) (domain.Order, error)
	CancelOrder(ctx context.Context, ticketID, orderID string) error
}

// TradeRepo is the storage dependency, satisfied by *store.TradeRepo.
type TradeRepo interface {
	Insert(ctx context.Context, t domain.Trade) (domain.Trade, error)
	GetByTicketID(ctx context.Context, ticketID string) (domain.Trade, error)
	TransitionStatus(ctx context.Context, id int64, next domain.TradeStatus) error
}

// Manager owns the pending -> open|failed and open -> closing transitions.
// The closing -> closed transition is driven by AccountSync settlement
// reconciliation, not by Manager directly (spec: "the eventual settlement
// via AccountSync completes closing -> closed").
type Manager struct {
	trades   TradeRepo
	executor Executor
	log      zerolog.Logger

	mu      sync.Mutex
	inFlight map[string]struct{}
}

// New constructs a Manager for one user's trade repository.
func New(trades TradeRepo, executor Executor, log zerolog.Logger) *Manager {
	return &Manager{
		trades:   trades,
		executor: executor,
		log:      log.With().Str("component", "trademanager").Logger(),
		inFlight: make(map[string]struct{}),
	}
}

// OpenTrade persists a pending row for intent, places the order through
// Executor, and updates the trade to open (or failed). A retried call with
// the same TicketID is a no-op: the second caller observes the trade already
// exists and returns it unchanged rather than placing a duplicate order.
func (m *Manager) OpenTrade(ctx context.Context, intent Intent) (domain.Trade, error) {
	if existing, err := m.trades.GetByTicketID(ctx, intent.TicketID); err == nil {
		return existing, nil
	}

	if !m.claim(intent.TicketID) {
		return domain.Trade{}, &domain.InvariantError{Message: "open already in flight for ticket " + intent.TicketID}
	}
	defer m.release(intent.TicketID)

	trade, err := m.trades.Insert(ctx, domain.Trade{
		TicketID:    intent.TicketID,
		Symbol:      intent.Symbol,
		Side:        intent.Side,
		Strike:      intent.Strike,
		Contract:    intent.Contract,
		BuyPrice:    intent.BuyPrice,
		Position:    intent.Position,
		Fees:        intent.Fees,
		Prob:        intent.Prob,
		Diff:        intent.Diff,
		Momentum:    intent.Momentum,
		SymbolOpen:  intent.SymbolOpen,
		EntryMethod: intent.EntryMethod,
	})
	if err != nil {
		return domain.Trade{}, err
	}

	order := domain.Order{
		MarketID: intent.MarketID,
		Side:     intent.Side,
		Quantity: intent.Quantity,
		Price:    intent.BuyPrice,
	}

	_, placeErr := m.executor.PlaceOrder(ctx, intent.TicketID, order)
	next := domain.StatusOpen
	if placeErr != nil {
		next = domain.StatusFailed
	}

	if err := m.trades.TransitionStatus(ctx, trade.ID, next); err != nil {
		m.log.Error().Err(err).Int64("trade_id", trade.ID).Msg("failed to record trade status after placement")
		return domain.Trade{}, err
	}

	trade.Status = next
	if placeErr != nil {
		m.log.Warn().Err(placeErr).Str("ticket_id", intent.TicketID).Msg("order placement failed, trade marked failed")
		return trade, placeErr
	}

	return trade, nil
}

// CloseTrade transitions an open trade to closing and requests cancellation
// of its resting position through Executor. Calling CloseTrade on a trade
// that is already closing or closed is a no-op (P2: at most one close intent
// per trade lifetime).
func (m *Manager) CloseTrade(ctx context.Context, tradeID int64, orderID string) error {
	key := fmt.Sprintf("close:%d", tradeID)
	if !m.claim(key) {
		return &domain.InvariantError{TradeID: tradeID, Message: "close already in flight"}
	}
	defer m.release(key)

	if err := m.trades.TransitionStatus(ctx, tradeID, domain.StatusClosing); err != nil {
		var invErr *domain.InvariantError
		if errors.As(err, &invErr) {
			// already closing/closed: P2 makes this a no-op, not an error.
			return nil
		}
		return err
	}

	ticketID := fmt.Sprintf("close-%d", tradeID)
	if err := m.executor.CancelOrder(ctx, ticketID, orderID); err != nil {
		m.log.Warn().Err(err).Int64("trade_id", tradeID).Msg("cancel order failed during close")
		return err
	}

	return nil
}

func (m *Manager) claim(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inFlight[key]; ok {
		return false
	}
	m.inFlight[key] = struct{}{}
	return true
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, key)
}
