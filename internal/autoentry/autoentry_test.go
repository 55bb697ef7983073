package autoentry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/trademanager"
)

type fakeWatchlist struct {
	markets []domain.MarketSnapshot
}

func (f *fakeWatchlist) ListByVolume(ctx context.Context, minVolume int64, maxAsk float64) ([]domain.MarketSnapshot, error) {
	return f.markets, nil
}

type fakePrices struct {
	price float64
	have  bool
}

func (f *fakePrices) LastPrice() (float64, bool) { return f.price, f.have }
func (f *fakePrices) LastTickAge() time.Duration { return 0 }

type fakeMarketFeed struct {
	heartbeatAge time.Duration
}

func (f *fakeMarketFeed) HeartbeatAge() time.Duration { return f.heartbeatAge }

type fakeOpenTrades struct {
	trades []domain.Trade
}

func (f *fakeOpenTrades) ListOpen(ctx context.Context) ([]domain.Trade, error) { return f.trades, nil }

type fakeOpener struct {
	intents []trademanager.Intent
}

func (f *fakeOpener) OpenTrade(ctx context.Context, intent trademanager.Intent) (domain.Trade, error) {
	f.intents = append(f.intents, intent)
	return domain.Trade{ID: int64(len(f.intents))}, nil
}

type fakePrefs struct {
	prefs domain.Preferences
}

func (f *fakePrefs) Get(ctx context.Context) (domain.Preferences, error) { return f.prefs, nil }

func basePrefs() domain.Preferences {
	return domain.Preferences{
		AutoEntry:        true,
		MinProbability:   50,
		MinDifferential:  0,
		MinTimeSeconds:   0,
		MaxTimeSeconds:   3600,
		MinTTCSeconds:    30,
		PositionSize:     1,
		Multiplier:       1,
		WatchlistMinVolume: 0,
		WatchlistMaxAsk:  1,
	}
}

func TestEngine_Run_OpensTradeWhenAllPredicatesPass(t *testing.T) {
	snap := domain.MarketSnapshot{
		EventTicker: "EVT", MarketID: "M1",
		YesBid: 0.6, YesAsk: 0.62, Strike: 100,
		OpenTime: time.Now().Add(-time.Minute), CloseTime: time.Now().Add(time.Hour),
	}
	opener := &fakeOpener{}
	e := New(&fakeWatchlist{markets: []domain.MarketSnapshot{snap}}, &fakePrices{price: 105, have: true}, &fakeMarketFeed{},
		&fakeOpenTrades{}, opener, &fakePrefs{prefs: basePrefs()}, "BTC", zerolog.Nop())

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 1)
}

func TestEngine_Run_SkipsWhenAutoEntryDisabled(t *testing.T) {
	prefs := basePrefs()
	prefs.AutoEntry = false
	opener := &fakeOpener{}
	e := New(&fakeWatchlist{}, &fakePrices{price: 105, have: true}, &fakeMarketFeed{}, &fakeOpenTrades{}, opener, &fakePrefs{prefs: prefs}, "BTC", zerolog.Nop())

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 0)
}

func TestEngine_Run_SkipsWhenProbabilityBelowFloor(t *testing.T) {
	snap := domain.MarketSnapshot{
		EventTicker: "EVT", MarketID: "M2",
		YesBid: 0.1, YesAsk: 0.12, Strike: 100,
		OpenTime: time.Now().Add(-time.Minute), CloseTime: time.Now().Add(time.Hour),
	}
	opener := &fakeOpener{}
	e := New(&fakeWatchlist{markets: []domain.MarketSnapshot{snap}}, &fakePrices{price: 105, have: true}, &fakeMarketFeed{},
		&fakeOpenTrades{}, opener, &fakePrefs{prefs: basePrefs()}, "BTC", zerolog.Nop())

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 0)
}

func TestEngine_Run_ReEntryGuardBlocksWhenDisallowed(t *testing.T) {
	snap := domain.MarketSnapshot{
		EventTicker: "EVT", MarketID: "M3",
		YesBid: 0.6, YesAsk: 0.62, Strike: 100,
		OpenTime: time.Now().Add(-time.Minute), CloseTime: time.Now().Add(time.Hour),
	}
	prefs := basePrefs()
	prefs.AllowReEntry = false
	opener := &fakeOpener{}
	open := []domain.Trade{{Contract: "M3", Status: domain.StatusOpen}}
	e := New(&fakeWatchlist{markets: []domain.MarketSnapshot{snap}}, &fakePrices{price: 105, have: true}, &fakeMarketFeed{},
		&fakeOpenTrades{trades: open}, opener, &fakePrefs{prefs: prefs}, "BTC", zerolog.Nop())

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 0)
}

func TestEngine_SpikeCooldownBlocksSubsequentEntry(t *testing.T) {
	snap := domain.MarketSnapshot{
		EventTicker: "EVT", MarketID: "M4",
		YesBid: 0.6, YesAsk: 0.62, Strike: 100,
		OpenTime: time.Now().Add(-time.Minute), CloseTime: time.Now().Add(time.Hour),
	}
	prefs := basePrefs()
	prefs.MomentumSpikeEnabled = true
	prefs.SpikeAlertMomentumThreshold = 1
	prefs.SpikeAlertCooldownMinutes = 10
	opener := &fakeOpener{}
	e := New(&fakeWatchlist{markets: []domain.MarketSnapshot{snap}}, &fakePrices{price: 105, have: true}, &fakeMarketFeed{},
		&fakeOpenTrades{}, opener, &fakePrefs{prefs: prefs}, "BTC", zerolog.Nop())

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 1)

	require.NoError(t, e.Run())
	assert.Len(t, opener.intents, 1, "second scan should be blocked by spike cooldown")
}
