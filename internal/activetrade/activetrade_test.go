package activetrade

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
)

type fakeTradeSource struct {
	trades []domain.Trade
}

func (f *fakeTradeSource) ListOpen(ctx context.Context) ([]domain.Trade, error) {
	return f.trades, nil
}

type fakeSnapshotSource struct {
	snap    domain.MarketSnapshot
	have    bool
	hbAge   time.Duration
}

func (f *fakeSnapshotSource) Snapshot(marketID string) (domain.MarketSnapshot, bool) {
	return f.snap, f.have
}
func (f *fakeSnapshotSource) HeartbeatAge() time.Duration { return f.hbAge }

type fakePriceSource struct {
	price float64
	have  bool
}

func (f *fakePriceSource) LastPrice() (float64, bool)  { return f.price, f.have }
func (f *fakePriceSource) LastTickAge() time.Duration { return 0 }

type fakeActiveRepo struct {
	mu       sync.Mutex
	upserts  []domain.ActiveTrade
	removed  []int64
}

func (r *fakeActiveRepo) Upsert(ctx context.Context, at domain.ActiveTrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, at)
	return nil
}
func (r *fakeActiveRepo) Remove(ctx context.Context, tradeID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, tradeID)
	return nil
}

type fakeCloser struct {
	mu      sync.Mutex
	closed  []int64
}

func (c *fakeCloser) CloseTrade(ctx context.Context, tradeID int64, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, tradeID)
	return nil
}

type fakePreferences struct {
	prefs domain.Preferences
}

func (f *fakePreferences) Get(ctx context.Context) (domain.Preferences, error) { return f.prefs, nil }

func testMarketID(t domain.Trade) string { return t.Symbol }

func TestSupervisor_Evaluate_LowProbabilityTriggersClose(t *testing.T) {
	trade := domain.Trade{ID: 1, Symbol: "BTC", Side: domain.SideYes, CreatedAt: time.Now().Add(-time.Minute)}
	snap := domain.MarketSnapshot{YesBid: 0.2, YesAsk: 0.3, CloseTime: time.Now().Add(time.Hour)}

	repo := &fakeActiveRepo{}
	closer := &fakeCloser{}
	prefs := &fakePreferences{prefs: domain.Preferences{AutoStop: true, MinCurrentProbability: 40, MinTTCSeconds: 60}}

	s := New(&fakeTradeSource{trades: []domain.Trade{trade}},
		&fakeSnapshotSource{snap: snap, have: true},
		&fakePriceSource{price: 100, have: true},
		repo, closer, prefs, testMarketID, 4, zerolog.Nop())

	s.evaluate(context.Background(), trade, prefs.prefs)
	s.drainOnce(t)

	assert.Len(t, closer.closed, 1)
	assert.Equal(t, int64(1), closer.closed[0])
}

func TestSupervisor_Evaluate_HealthyTradeDoesNotClose(t *testing.T) {
	trade := domain.Trade{ID: 2, Symbol: "BTC", Side: domain.SideYes, CreatedAt: time.Now().Add(-time.Minute)}
	snap := domain.MarketSnapshot{YesBid: 0.7, YesAsk: 0.8, CloseTime: time.Now().Add(time.Hour)}

	repo := &fakeActiveRepo{}
	closer := &fakeCloser{}
	prefs := &fakePreferences{prefs: domain.Preferences{AutoStop: true, MinCurrentProbability: 40, MinTTCSeconds: 60}}

	s := New(&fakeTradeSource{trades: []domain.Trade{trade}},
		&fakeSnapshotSource{snap: snap, have: true},
		&fakePriceSource{price: 100, have: true},
		repo, closer, prefs, testMarketID, 4, zerolog.Nop())

	s.evaluate(context.Background(), trade, prefs.prefs)

	assert.Len(t, closer.closed, 0)
	assert.Len(t, repo.upserts, 1)
}

func TestSupervisor_Evaluate_DegradedSuppressesCloseIntent(t *testing.T) {
	trade := domain.Trade{ID: 3, Symbol: "BTC", Side: domain.SideYes, CreatedAt: time.Now().Add(-time.Minute)}

	repo := &fakeActiveRepo{}
	closer := &fakeCloser{}
	prefs := &fakePreferences{prefs: domain.Preferences{AutoStop: true, MinCurrentProbability: 40, MinTTCSeconds: 60}}

	s := New(&fakeTradeSource{trades: []domain.Trade{trade}},
		&fakeSnapshotSource{have: false},
		&fakePriceSource{have: false},
		repo, closer, prefs, testMarketID, 4, zerolog.Nop())

	s.evaluate(context.Background(), trade, prefs.prefs)

	assert.Len(t, closer.closed, 0)
	require.Len(t, repo.upserts, 1)
	assert.True(t, repo.upserts[0].Degraded)
}

func TestSupervisor_CachedView_ExpiresAfterTTL(t *testing.T) {
	trade := domain.Trade{ID: 4, Symbol: "BTC", Side: domain.SideYes, CreatedAt: time.Now()}
	snap := domain.MarketSnapshot{YesBid: 0.7, YesAsk: 0.8, CloseTime: time.Now().Add(time.Hour)}

	s := New(&fakeTradeSource{}, &fakeSnapshotSource{snap: snap, have: true}, &fakePriceSource{price: 100, have: true},
		&fakeActiveRepo{}, &fakeCloser{}, &fakePreferences{}, testMarketID, 4, zerolog.Nop())

	s.evaluate(context.Background(), trade, domain.Preferences{})
	_, ok := s.CachedView(4)
	assert.True(t, ok)

	s.cacheMu.Lock()
	s.cache[4] = cachedView{at: s.cache[4].at, expiresAt: time.Now().Add(-time.Second)}
	s.cacheMu.Unlock()

	_, ok = s.CachedView(4)
	assert.False(t, ok)
}

func TestSupervisor_ClaimPreventsConcurrentEvaluationOfSameTrade(t *testing.T) {
	s := New(&fakeTradeSource{}, &fakeSnapshotSource{}, &fakePriceSource{},
		&fakeActiveRepo{}, &fakeCloser{}, &fakePreferences{}, testMarketID, 4, zerolog.Nop())

	require.True(t, s.claim(5))
	assert.False(t, s.claim(5))
	s.release(5)
	assert.True(t, s.claim(5))
}

// drainOnce processes a single queued close intent synchronously, avoiding a
// dependency on the background drain goroutine in unit tests.
func (s *Supervisor) drainOnce(t *testing.T) {
	t.Helper()
	select {
	case intent := <-s.closeQueue:
		require.NoError(t, s.closer.CloseTrade(context.Background(), intent.tradeID, intent.orderID))
	default:
		t.Fatal("expected a queued close intent")
	}
}
