package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/notify"
)

// newTestDB skips unless TEST_POSTGRES_DSN is set, the same gate r3e's
// postgres store tests use for anything that needs a live database.
func newTestDB(t *testing.T) (*DB, context.Context) {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())

	t.Cleanup(func() { _ = db.Close() })
	return db, ctx
}

func testUser(t *testing.T) string {
	t.Helper()
	return "test_" + time.Now().UTC().Format("150405000000")
}

func TestTradeLifecycle_PendingOpenClosingClosed(t *testing.T) {
	db, ctx := newTestDB(t)
	user := testUser(t)
	require.NoError(t, db.EnsureUserSchema(ctx, user))

	bus := notify.NewBus(zerolog.Nop())
	repo, err := db.Trades(user, bus)
	require.NoError(t, err)

	trade, err := repo.Insert(ctx, domain.Trade{
		TicketID: "tk-1", Symbol: "BTC", Side: domain.SideYes, Strike: 50000,
		Contract: "c1", BuyPrice: 0.5, Position: 1, Prob: 60, Diff: 1.2, SymbolOpen: 49900,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, trade.Status)

	require.NoError(t, repo.TransitionStatus(ctx, trade.ID, domain.StatusOpen))
	require.NoError(t, repo.TransitionStatus(ctx, trade.ID, domain.StatusClosing))
	require.NoError(t, repo.TransitionStatus(ctx, trade.ID, domain.StatusClosed))

	final, err := repo.GetByID(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, final.Status)
}

func TestTradeTransition_RejectsSkippedStatus(t *testing.T) {
	db, ctx := newTestDB(t)
	user := testUser(t)
	require.NoError(t, db.EnsureUserSchema(ctx, user))

	bus := notify.NewBus(zerolog.Nop())
	repo, err := db.Trades(user, bus)
	require.NoError(t, err)

	trade, err := repo.Insert(ctx, domain.Trade{TicketID: "tk-2", Symbol: "ETH", Side: domain.SideNo, Strike: 3000, Contract: "c2", BuyPrice: 0.4, Position: 1})
	require.NoError(t, err)

	err = repo.TransitionStatus(ctx, trade.ID, domain.StatusClosed)
	require.Error(t, err)
}

func TestActiveTradeRepo_RemoveDeletesRowOnTerminal(t *testing.T) {
	db, ctx := newTestDB(t)
	user := testUser(t)
	require.NoError(t, db.EnsureUserSchema(ctx, user))

	bus := notify.NewBus(zerolog.Nop())
	at, err := db.ActiveTrades(user, bus)
	require.NoError(t, err)

	require.NoError(t, at.Upsert(ctx, domain.ActiveTrade{TradeID: 1, CurrentSymbolPrice: 100}))
	_, err = at.Get(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, at.Remove(ctx, 1))
	_, err = at.Get(ctx, 1)
	require.Error(t, err)
}

func TestPriceLogRepo_PrunesOlderThan30Days(t *testing.T) {
	db, ctx := newTestDB(t)
	symbol := "btctest" + time.Now().UTC().Format("150405000000")

	repo, err := db.PriceLog(symbol)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureTable(ctx))

	old := domain.PriceTick{Timestamp: time.Now().AddDate(0, 0, -40), Price: 100}
	fresh := domain.PriceTick{Timestamp: time.Now(), Price: 200}

	require.NoError(t, repo.Insert(ctx, old))
	require.NoError(t, repo.Insert(ctx, fresh))

	window, err := repo.Window(ctx, 60*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, window, 1)
	assert.Equal(t, 200.0, window[0].Price)
}

func TestPreferencesRepo_GetReturnsDefaultsWhenMissing(t *testing.T) {
	db, ctx := newTestDB(t)
	user := testUser(t)
	require.NoError(t, db.EnsureUserSchema(ctx, user))

	bus := notify.NewBus(zerolog.Nop())
	repo, err := db.Preferences(user, bus)
	require.NoError(t, err)

	prefs, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, prefs.MinCurrentProbability)
	assert.Equal(t, 60.0, prefs.MinTTCSeconds)
}

func TestSafeUser_RejectsUnsafeIdentifiers(t *testing.T) {
	_, err := safeUser("alice; DROP TABLE users")
	require.Error(t, err)

	_, err = safeUser("alice_123")
	require.NoError(t, err)
}
