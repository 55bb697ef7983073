// Package pricefeed maintains the canonical, append-only spot-price log for
// one symbol (spec §4.3): fetch on a fixed cadence, round the timestamp to
// EST second precision, upsert, and prune anything older than 30 days.
package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/store"
)

// Source fetches one spot-price sample. coinbase.Client satisfies this.
type Source interface {
	SpotPrice(ctx context.Context, symbol string) (domain.PriceTick, error)
}

// estLocation mirrors the store package's timestamp rounding reference so a
// watchdog's writes land on the same second-bucketed keys the Store prunes.
var estLocation = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}()

// Watchdog polls Source on a fixed cadence and writes into the symbol's
// price log. One Watchdog runs per symbol (btc_price_watchdog,
// eth_price_watchdog in the port manifest).
type Watchdog struct {
	symbol  string
	source  Source
	repo    *store.PriceLogRepo
	cadence time.Duration
	log     zerolog.Logger

	mu        sync.Mutex
	lastPrice float64
	lastTick  time.Time
}

// New constructs a Watchdog for symbol, fetching from source at cadence
// (spec default ~1 Hz) and persisting through repo.
func New(symbol string, source Source, repo *store.PriceLogRepo, cadence time.Duration, log zerolog.Logger) *Watchdog {
	if cadence <= 0 {
		cadence = time.Second
	}
	return &Watchdog{
		symbol:  symbol,
		source:  source,
		repo:    repo,
		cadence: cadence,
		log:     log.With().Str("component", "pricefeed").Str("symbol", symbol).Logger(),
	}
}

// Run fetches and persists on cadence until ctx is cancelled. A fetch error
// is logged and retried on the next tick — never fatal (spec §4.3).
func (w *Watchdog) Run(ctx context.Context) error {
	if err := w.repo.EnsureTable(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	tick, err := w.source.SpotPrice(ctx, w.symbol)
	if err != nil {
		w.log.Warn().Err(err).Msg("spot price fetch failed, retrying next cadence")
		return
	}

	tick.Timestamp = tick.Timestamp.In(estLocation).Truncate(time.Second)

	if err := w.repo.Insert(ctx, tick); err != nil {
		w.log.Warn().Err(err).Msg("price log insert failed")
		return
	}

	w.mu.Lock()
	w.lastPrice = tick.Price
	w.lastTick = time.Now()
	w.mu.Unlock()
}

// LastTickAge reports how long ago the last successful tick was recorded,
// the input ATS/AutoEntryEngine use to decide PriceFeed staleness (spec §5:
// "PriceFeed last tick age > 5s").
func (w *Watchdog) LastTickAge() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastTick.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(w.lastTick)
}

// LastPrice returns the most recently recorded spot price and whether one
// has ever been recorded.
func (w *Watchdog) LastPrice() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPrice, !w.lastTick.IsZero()
}
