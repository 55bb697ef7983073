// Package autoentry implements the AutoEntryEngine (spec §4.7, component
// C7): a periodic watchlist scan that opens new trades when a market
// satisfies every configured entry predicate.
package autoentry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/trademanager"
	"github.com/recio/trading-core/pkg/formulas"
)

// Watchlist supplies candidate markets, satisfied by
// *store.MarketSnapshotRepo.
type Watchlist interface {
	ListByVolume(ctx context.Context, minVolume int64, maxAsk float64) ([]domain.MarketSnapshot, error)
}

// PriceSource supplies the latest underlying spot price for differential
// computation.
type PriceSource interface {
	LastPrice() (float64, bool)
	LastTickAge() time.Duration
}

// MarketFeedSource reports how long ago the market data feed last received
// a frame, satisfied by *marketfeed.Feed.
type MarketFeedSource interface {
	HeartbeatAge() time.Duration
}

// OpenTradeLister reports currently open trades, used for the re-entry
// guard.
type OpenTradeLister interface {
	ListOpen(ctx context.Context) ([]domain.Trade, error)
}

// Opener places new trades, satisfied by *trademanager.Manager.
type Opener interface {
	OpenTrade(ctx context.Context, intent trademanager.Intent) (domain.Trade, error)
}

// PreferencesSource supplies per-user entry configuration.
type PreferencesSource interface {
	Get(ctx context.Context) (domain.Preferences, error)
}

// PriceHistorySource supplies a recent window of ticks used to smooth the
// entry differential against recent noise, satisfied by *store.PriceLogRepo.
type PriceHistorySource interface {
	Window(ctx context.Context, since time.Duration) ([]domain.PriceTick, error)
}

const (
	differentialWindow = 15 * time.Minute
	staleMarketFeed    = 10 * time.Second
	stalePriceFeed     = 5 * time.Second
)

// smoothedDifferential expresses the raw strike differential in standard
// deviations of the recent price window, so a fixed MinDifferential
// threshold means the same thing in calm and volatile markets. Falls back
// to the raw differential when no history is wired or the window is too
// thin to estimate spread.
func smoothedDifferential(ctx context.Context, history PriceHistorySource, raw float64) float64 {
	if history == nil {
		return raw
	}
	ticks, err := history.Window(ctx, differentialWindow)
	if err != nil || len(ticks) < 5 {
		return raw
	}

	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}
	returns := formulas.CalculateReturns(prices)
	sigma := formulas.StdDev(returns)
	if sigma == 0 {
		return raw
	}
	mean := formulas.Mean(prices)
	if mean == 0 {
		return raw
	}
	return raw / (sigma * mean)
}

// Engine runs the watchlist scan on a scheduler cadence.
type Engine struct {
	watchlist    Watchlist
	prices       PriceSource
	marketFeed   MarketFeedSource
	priceHistory PriceHistorySource
	openTrades   OpenTradeLister
	opener       Opener
	preferences  PreferencesSource
	symbol       string
	log          zerolog.Logger

	mu            sync.Mutex
	spikeCooldown map[string]time.Time
}

// New constructs an Engine for one user/symbol pair. marketFeed gates entry
// generation on market data freshness (P6); it is the same feed instance
// ActiveTradeSupervisor watches for its own degraded-state check.
func New(watchlist Watchlist, prices PriceSource, marketFeed MarketFeedSource, openTrades OpenTradeLister, opener Opener, preferences PreferencesSource, symbol string, log zerolog.Logger) *Engine {
	return &Engine{
		watchlist:     watchlist,
		prices:        prices,
		marketFeed:    marketFeed,
		openTrades:    openTrades,
		opener:        opener,
		preferences:   preferences,
		symbol:        symbol,
		log:           log.With().Str("component", "autoentry").Logger(),
		spikeCooldown: make(map[string]time.Time),
	}
}

// WithPriceHistory attaches a price-history source used to express the
// entry differential in units of recent volatility (pkg/formulas). Optional:
// without it, the raw differential is used unsmoothed.
func (e *Engine) WithPriceHistory(history PriceHistorySource) *Engine {
	e.priceHistory = history
	return e
}

// Name identifies this job to the scheduler.
func (e *Engine) Name() string { return "auto_entry:" + e.symbol }

// Run performs one watchlist scan. It never returns an error: a failure in
// one market's evaluation is logged and skipped, not fatal (mirrors
// AccountSync's "never fatal" contract for cadence-driven jobs).
func (e *Engine) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	prefs, err := e.preferences.Get(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to load preferences, skipping scan")
		return nil
	}
	if !prefs.AutoEntry {
		return nil
	}

	if e.marketFeed.HeartbeatAge() > staleMarketFeed {
		e.log.Debug().Msg("market feed heartbeat stale, suspending auto entry")
		return nil
	}
	if e.prices.LastTickAge() > stalePriceFeed {
		e.log.Debug().Msg("price feed stale, suspending auto entry")
		return nil
	}

	price, havePrice := e.prices.LastPrice()
	if !havePrice {
		e.log.Debug().Msg("no spot price available, skipping scan")
		return nil
	}

	candidates, err := e.watchlist.ListByVolume(ctx, prefs.WatchlistMinVolume, prefs.WatchlistMaxAsk)
	if err != nil {
		e.log.Warn().Err(err).Msg("watchlist query failed")
		return nil
	}

	open, err := e.openTrades.ListOpen(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to list open trades for re-entry guard")
		return nil
	}

	for _, snap := range candidates {
		e.evaluate(ctx, snap, price, prefs, open)
	}

	return nil
}

func (e *Engine) evaluate(ctx context.Context, snap domain.MarketSnapshot, price float64, prefs domain.Preferences, open []domain.Trade) {
	if !prefs.AllowReEntry && e.hasOpenTrade(open, snap.MarketID) {
		return
	}

	probability := midpoint(snap.YesBid, snap.YesAsk) * 100
	differential := price - snap.Strike
	smoothedDiff := smoothedDifferential(ctx, e.priceHistory, differential)
	timeSinceOpen := time.Since(snap.OpenTime).Seconds()
	ttc := time.Until(snap.CloseTime).Seconds()

	if e.inSpikeCooldown(snap.MarketID, smoothedDiff, prefs) {
		return
	}

	if probability < prefs.MinProbability {
		return
	}
	if smoothedDiff < prefs.MinDifferential {
		return
	}
	if timeSinceOpen < prefs.MinTimeSeconds || timeSinceOpen > prefs.MaxTimeSeconds {
		return
	}
	if ttc < prefs.MinTTCSeconds {
		return
	}

	if prefs.MomentumSpikeEnabled && smoothedDiff > prefs.SpikeAlertMomentumThreshold {
		e.armSpikeCooldown(snap.MarketID, prefs)
	}

	intent := trademanager.Intent{
		TicketID:    snap.EventTicker + ":" + snap.MarketID + ":" + time.Now().UTC().Format("20060102T150405.000000000"),
		Symbol:      e.symbol,
		Side:        domain.SideYes,
		Strike:      snap.Strike,
		Contract:    snap.MarketID,
		BuyPrice:    snap.YesAsk,
		Position:    prefs.PositionSize * prefs.Multiplier,
		Diff:        differential,
		Prob:        probability,
		SymbolOpen:  price,
		EntryMethod: domain.EntryAuto,
		MarketID:    snap.MarketID,
		Quantity:    prefs.PositionSize * prefs.Multiplier,
	}

	if _, err := e.opener.OpenTrade(ctx, intent); err != nil {
		e.log.Warn().Err(err).Str("market_id", snap.MarketID).Msg("auto entry failed")
	}
}

func (e *Engine) hasOpenTrade(open []domain.Trade, marketID string) bool {
	for _, t := range open {
		if t.Contract == marketID {
			return true
		}
	}
	return false
}

// inSpikeCooldown reports whether marketID is still cooling down from a
// momentum spike: the cooldown clears once smoothedDiff falls back below
// SpikeAlertCooldownThreshold, with SpikeAlertCooldownMinutes as a hard
// fallback expiry in case the market never recovers.
func (e *Engine) inSpikeCooldown(marketID string, smoothedDiff float64, prefs domain.Preferences) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	until, ok := e.spikeCooldown[marketID]
	if !ok {
		return false
	}
	if smoothedDiff < prefs.SpikeAlertCooldownThreshold || time.Now().After(until) {
		delete(e.spikeCooldown, marketID)
		return false
	}
	return true
}

func (e *Engine) armSpikeCooldown(marketID string, prefs domain.Preferences) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spikeCooldown[marketID] = time.Now().Add(time.Duration(prefs.SpikeAlertCooldownMinutes) * time.Minute)
}

func midpoint(a, b float64) float64 { return (a + b) / 2 }
