// Package activetrade implements the Active Trade Supervisor (spec §4.6,
// component C6): a 1Hz monitoring loop over every open trade that computes
// live metrics, evaluates auto-stop predicates, and drains close intents
// through a single writer.
package activetrade

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/pkg/formulas"
)

// TradeSource supplies the open trades to monitor each tick.
type TradeSource interface {
	ListOpen(ctx context.Context) ([]domain.Trade, error)
}

// SnapshotSource supplies the latest market view per market/symbol.
type SnapshotSource interface {
	Snapshot(marketID string) (domain.MarketSnapshot, bool)
	HeartbeatAge() time.Duration
}

// PriceSource supplies the latest underlying spot price.
type PriceSource interface {
	LastPrice() (float64, bool)
	LastTickAge() time.Duration
}

// PriceHistorySource supplies a recent window of ticks for momentum
// smoothing, satisfied by *store.PriceLogRepo.
type PriceHistorySource interface {
	Window(ctx context.Context, since time.Duration) ([]domain.PriceTick, error)
}

const (
	momentumWindow = 5 * time.Minute
	momentumEMALen = 10
)

// momentum compares the latest price against a short EMA of its recent
// window: a positive value means price is pulling away above its recent
// average, a large negative value against an open YES position is the
// signal momentumSpike watches for.
func momentum(ctx context.Context, history PriceHistorySource, currentPrice float64) float64 {
	if history == nil {
		return 0
	}
	ticks, err := history.Window(ctx, momentumWindow)
	if err != nil || len(ticks) < 2 {
		return 0
	}

	closes := make([]float64, len(ticks))
	for i, t := range ticks {
		closes[i] = t.Price
	}

	ema := formulas.CalculateEMA(closes, momentumEMALen)
	if ema == nil {
		return 0
	}
	return currentPrice - *ema
}

// ActiveTradeRepo persists live metrics, satisfied by *store.ActiveTradeRepo.
type ActiveTradeRepo interface {
	Upsert(ctx context.Context, at domain.ActiveTrade) error
	Remove(ctx context.Context, tradeID int64) error
}

// Closer closes trades, satisfied by *trademanager.Manager.
type Closer interface {
	CloseTrade(ctx context.Context, tradeID int64, orderID string) error
}

// PreferencesSource supplies per-user auto-stop configuration.
type PreferencesSource interface {
	Get(ctx context.Context) (domain.Preferences, error)
}

// MarketIDFunc maps a trade to the market it trades against. Declared as a
// function value so callers can plug in their own symbol-to-market mapping
// without activetrade depending on kalshi ticker conventions directly.
type MarketIDFunc func(domain.Trade) string

const (
	tickDeadline = 800 * time.Millisecond
	tickInterval = 1 * time.Second
	cacheTTL     = 2 * time.Second
	staleMarket  = 10 * time.Second
	stalePrice   = 5 * time.Second
)

// closeIntent is one pending close request produced by a tick evaluation.
type closeIntent struct {
	tradeID int64
	orderID string
}

// Supervisor runs the 1Hz monitoring loop for one user's open trades.
type Supervisor struct {
	trades       TradeSource
	snapshots    SnapshotSource
	prices       PriceSource
	priceHistory PriceHistorySource
	activeRepo   ActiveTradeRepo
	closer       Closer
	preferences  PreferencesSource
	marketID     MarketIDFunc
	log          zerolog.Logger

	workers int

	mu       sync.Mutex
	inFlight map[int64]struct{}

	closeQueue chan closeIntent

	// closeMu guards issuedClose, the set of trades a close intent has
	// already been enqueued for. P2: at most one close intent per trade
	// lifetime. An entry is pruned once its trade no longer appears in
	// ListOpen (it reached a terminal status), so the set stays bounded by
	// the number of currently open-or-closing trades.
	closeMu     sync.Mutex
	issuedClose map[int64]struct{}

	cacheMu sync.RWMutex
	cache   map[int64]cachedView
}

type cachedView struct {
	at        domain.ActiveTrade
	expiresAt time.Time
}

// New constructs a Supervisor. workers bounds the per-tick worker pool.
func New(
	trades TradeSource,
	snapshots SnapshotSource,
	prices PriceSource,
	activeRepo ActiveTradeRepo,
	closer Closer,
	preferences PreferencesSource,
	marketID MarketIDFunc,
	workers int,
	log zerolog.Logger,
) *Supervisor {
	if workers <= 0 {
		workers = 4
	}
	return &Supervisor{
		trades:      trades,
		snapshots:   snapshots,
		prices:      prices,
		activeRepo:  activeRepo,
		closer:      closer,
		preferences: preferences,
		marketID:    marketID,
		workers:     workers,
		log:         log.With().Str("component", "activetrade").Logger(),
		inFlight:    make(map[int64]struct{}),
		closeQueue:  make(chan closeIntent, 256),
		issuedClose: make(map[int64]struct{}),
		cache:       make(map[int64]cachedView),
	}
}

// WithPriceHistory attaches a price-history source used to smooth momentum
// via an EMA (pkg/formulas). Optional: without it, momentum stays 0 and the
// momentum-spike predicate never fires.
func (s *Supervisor) WithPriceHistory(history PriceHistorySource) *Supervisor {
	s.priceHistory = history
	return s
}

// Run drives the tick loop and the close-intent drain loop until ctx is
// cancelled. Both run as part of the same call via an internal WaitGroup.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.drainCloseIntents(ctx)
	}()

	go func() {
		defer wg.Done()
		s.tickLoop(ctx)
	}()

	wg.Wait()
	return ctx.Err()
}

func (s *Supervisor) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var tickRunning sync.Mutex
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip tick N+1 if tick N is still draining (spec §5).
			if !tickRunning.TryLock() {
				s.log.Warn().Msg("tick skipped: previous tick still running")
				continue
			}
			go func() {
				defer tickRunning.Unlock()
				s.runTick(ctx)
			}()
		}
	}
}

func (s *Supervisor) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, tickDeadline)
	defer cancel()

	prefs, err := s.preferences.Get(tickCtx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to load preferences, skipping tick")
		return
	}

	trades, err := s.trades.ListOpen(tickCtx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list open trades")
		return
	}

	s.pruneIssuedClose(trades)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, trade := range trades {
		trade := trade
		if !s.claim(trade.ID) {
			continue // already being evaluated by a prior, still-running tick
		}

		g.Go(func() error {
			defer s.release(trade.ID)
			s.evaluate(tickCtx, trade, prefs)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Supervisor) evaluate(ctx context.Context, trade domain.Trade, prefs domain.Preferences) {
	marketID := s.marketID(trade)
	snap, haveSnap := s.snapshots.Snapshot(marketID)
	price, havePrice := s.prices.LastPrice()

	degraded := !haveSnap || !havePrice || s.snapshots.HeartbeatAge() > staleMarket || s.prices.LastTickAge() > stalePrice

	at := domain.ActiveTrade{
		TradeID:            trade.ID,
		CurrentSymbolPrice: price,
		TimeSinceEntry:     time.Since(trade.CreatedAt).Seconds(),
		Degraded:           degraded,
	}

	if haveSnap {
		at.CurrentClosePrice = midpoint(snap.YesBid, snap.YesAsk)
		at.BufferFromStrike = price - snap.Strike
		at.TTCSeconds = time.Until(snap.CloseTime).Seconds()
		at.CurrentProbability = impliedProbability(snap, trade.Side)
	}

	var mom float64
	if havePrice {
		at.CurrentPnL = pnl(trade, price)
		mom = momentum(ctx, s.priceHistory, price)
	}

	s.cacheMu.Lock()
	s.cache[trade.ID] = cachedView{at: at, expiresAt: time.Now().Add(cacheTTL)}
	s.cacheMu.Unlock()

	if err := s.activeRepo.Upsert(ctx, at); err != nil {
		s.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("failed to persist live metrics")
	}

	if degraded {
		// P6: stale heartbeat suppresses new close intents, not existing state.
		return
	}

	if !prefs.AutoStop {
		return
	}

	if s.shouldStop(at, mom, prefs) {
		s.enqueueClose(trade.ID)
	}
}

// shouldStop OR-combines the three auto-stop predicates: probability floor,
// time-to-close floor, and momentum spike. mom is the
// EMA-smoothed momentum computed for this tick, 0 when no price history is
// wired or available.
func (s *Supervisor) shouldStop(at domain.ActiveTrade, mom float64, prefs domain.Preferences) bool {
	probabilityFloor := at.CurrentProbability > 0 && at.CurrentProbability < prefs.MinCurrentProbability
	ttcFloor := at.TTCSeconds > 0 && at.TTCSeconds < prefs.MinTTCSeconds
	momentumSpike := prefs.MomentumSpikeEnabled && mom < -prefs.MomentumSpikeThreshold

	return probabilityFloor || ttcFloor || momentumSpike
}

// enqueueClose issues at most one close intent per trade lifetime (P2): a
// trade stays in ListOpen's result (status open or closing) for several
// ticks after its first close intent, so without this guard every
// subsequent tick would re-derive the same shouldStop verdict and enqueue a
// duplicate.
func (s *Supervisor) enqueueClose(tradeID int64) {
	s.closeMu.Lock()
	if _, already := s.issuedClose[tradeID]; already {
		s.closeMu.Unlock()
		return
	}
	s.issuedClose[tradeID] = struct{}{}
	s.closeMu.Unlock()

	select {
	case s.closeQueue <- closeIntent{tradeID: tradeID}:
	default:
		s.log.Error().Int64("trade_id", tradeID).Msg("close intent queue full, dropping")
	}
}

// pruneIssuedClose forgets trades no longer present in the open set: once a
// trade reaches a terminal status it drops out of ListOpen, so its entry in
// issuedClose can never be consulted again and would otherwise leak.
func (s *Supervisor) pruneIssuedClose(trades []domain.Trade) {
	current := make(map[int64]struct{}, len(trades))
	for _, t := range trades {
		current[t.ID] = struct{}{}
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	for id := range s.issuedClose {
		if _, ok := current[id]; !ok {
			delete(s.issuedClose, id)
		}
	}
}

// drainCloseIntents is the single writer through which CloseTrade is called,
// guaranteeing at most one in-flight close attempt per trade (P2).
func (s *Supervisor) drainCloseIntents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case intent := <-s.closeQueue:
			if err := s.closer.CloseTrade(ctx, intent.tradeID, intent.orderID); err != nil {
				s.log.Warn().Err(err).Int64("trade_id", intent.tradeID).Msg("auto-stop close failed")
			}
		}
	}
}

// CachedView returns the most recent live metrics for tradeID if they were
// computed within cacheTTL, for low-latency UI reads without hitting Store.
func (s *Supervisor) CachedView(tradeID int64) (domain.ActiveTrade, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	v, ok := s.cache[tradeID]
	if !ok || time.Now().After(v.expiresAt) {
		return domain.ActiveTrade{}, false
	}
	return v.at, true
}

func (s *Supervisor) claim(tradeID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[tradeID]; ok {
		return false
	}
	s.inFlight[tradeID] = struct{}{}
	return true
}

func (s *Supervisor) release(tradeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, tradeID)
}

func midpoint(a, b float64) float64 { return (a + b) / 2 }

func impliedProbability(snap domain.MarketSnapshot, side domain.Side) float64 {
	if side == domain.SideNo {
		return 100 - midpoint(snap.NoBid, snap.NoAsk)*100
	}
	return midpoint(snap.YesBid, snap.YesAsk) * 100
}

func pnl(trade domain.Trade, currentPrice float64) float64 {
	direction := 1.0
	if trade.Side == domain.SideNo {
		direction = -1.0
	}
	return direction * (currentPrice - trade.SymbolOpen) * float64(trade.Position)
}
