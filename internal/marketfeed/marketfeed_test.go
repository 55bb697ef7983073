package marketfeed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
)

type fakeCapability struct {
	subscribeErr error
	ch           chan domain.MarketSnapshot
	markets      []domain.MarketSnapshot
	marketsErr   error
}

func (f *fakeCapability) Subscribe(ctx context.Context, tickers []string) (<-chan domain.MarketSnapshot, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.ch, nil
}

func (f *fakeCapability) GetMarkets(ctx context.Context, seriesTicker, status string) ([]domain.MarketSnapshot, error) {
	return f.markets, f.marketsErr
}

func TestFeed_HeartbeatAge_UnsetIsVeryLarge(t *testing.T) {
	f := New(&fakeCapability{}, nil, Config{PreferredMode: ModeHTTPPoll}, zerolog.Nop())
	assert.Greater(t, f.HeartbeatAge(), 24*time.Hour)
}

func TestFeed_ApplyUpdatesSnapshotAndHeartbeat(t *testing.T) {
	f := New(&fakeCapability{}, nil, Config{PreferredMode: ModeHTTPPoll}, zerolog.Nop())

	f.apply(domain.MarketSnapshot{MarketID: "M1", YesBid: 0.5})

	snap, ok := f.Snapshot("M1")
	require.True(t, ok)
	assert.Equal(t, 0.5, snap.YesBid)
	assert.Less(t, f.HeartbeatAge(), time.Second)
}

func TestFeed_FallsBackToHTTPAfterMaxRetries(t *testing.T) {
	cap := &fakeCapability{subscribeErr: assertAnError()}
	f := New(cap, nil, Config{PreferredMode: ModeWebSocket, FallbackToHTTP: true, MaxRetries: 1}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := f.runWebSocket(ctx, []string{"T1"})
	require.NoError(t, err)
	assert.Equal(t, ModeHTTPPoll, f.Mode())
}

func assertAnError() error {
	return &domain.TransientError{Component: "kalshi.ws", Message: "dial failed"}
}
