package pricefeed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/recio/trading-core/internal/domain"
)

type fakeSource struct {
	price float64
	err   error
}

func (f *fakeSource) SpotPrice(ctx context.Context, symbol string) (domain.PriceTick, error) {
	if f.err != nil {
		return domain.PriceTick{}, f.err
	}
	return domain.PriceTick{Symbol: symbol, Timestamp: time.Now(), Price: f.price}, nil
}

func TestWatchdog_LastTickAge_UnsetIsVeryLarge(t *testing.T) {
	w := New("BTC", &fakeSource{}, nil, time.Second, zerolog.Nop())
	assert.Greater(t, w.LastTickAge(), 24*time.Hour)

	_, ok := w.LastPrice()
	assert.False(t, ok)
}

func TestWatchdog_LastPriceAndAgeReflectRecordedTick(t *testing.T) {
	w := New("BTC", &fakeSource{price: 42000}, nil, time.Second, zerolog.Nop())
	w.mu.Lock()
	w.lastPrice = 42000
	w.lastTick = time.Now()
	w.mu.Unlock()

	price, ok := w.LastPrice()
	assert.True(t, ok)
	assert.Equal(t, 42000.0, price)
	assert.Less(t, w.LastTickAge(), time.Second)
}
