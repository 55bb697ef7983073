package tradeexecutor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recio/trading-core/internal/domain"
)

type fakeCapability struct {
	placeErr  error
	cancelErr error
	placed    []domain.Order
	attempts  int
}

func (f *fakeCapability) PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	f.attempts++
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.placed = append(f.placed, order)
	order.OrderID = "ord-1"
	return order, nil
}

func (f *fakeCapability) CancelOrder(ctx context.Context, orderID string) error {
	return f.cancelErr
}

func newTestExecutor(t *testing.T, cap Capability) *Executor {
	t.Helper()
	dir := t.TempDir()
	e, err := New(cap, filepath.Join(dir, "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestExecutor_PlaceOrderSucceeds(t *testing.T) {
	cap := &fakeCapability{}
	e := newTestExecutor(t, cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	out, err := e.PlaceOrder(ctx, "ticket-1", domain.Order{MarketID: "M1", Side: "yes"})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Equal(t, 1, cap.attempts)
}

func TestExecutor_DuplicateTicketIsRejected(t *testing.T) {
	cap := &fakeCapability{}
	e := newTestExecutor(t, cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err := e.PlaceOrder(ctx, "ticket-dup", domain.Order{MarketID: "M1"})
	require.NoError(t, err)

	_, err = e.PlaceOrder(ctx, "ticket-dup", domain.Order{MarketID: "M1"})
	require.Error(t, err)
}

func TestExecutor_PermanentErrorFailsFastWithoutRetry(t *testing.T) {
	cap := &fakeCapability{placeErr: &domain.PermanentExchangeError{Code: 400, Message: "bad request"}}
	e := newTestExecutor(t, cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err := e.PlaceOrder(ctx, "ticket-perm", domain.Order{MarketID: "M1"})
	require.Error(t, err)
	assert.Equal(t, 1, cap.attempts)
}

func TestExecutor_TransientErrorRetries(t *testing.T) {
	cap := &fakeCapability{placeErr: &domain.TransientError{Message: "rate limited"}}
	e := &Executor{
		cap:         cap,
		log:         zerolog.Nop(),
		queue:       make(chan request, 4),
		maxRetries:  2,
		baseBackoff: 5 * time.Millisecond,
	}
	db := newTestExecutor(t, cap)
	e.journal = db.journal

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	_, err := e.PlaceOrder(ctx, "ticket-transient", domain.Order{MarketID: "M1"})
	require.Error(t, err)
	assert.Equal(t, 3, cap.attempts)
}

func TestExecutor_CancelOrder(t *testing.T) {
	cap := &fakeCapability{}
	e := newTestExecutor(t, cap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	err := e.CancelOrder(ctx, "ticket-cancel", "ord-1")
	require.NoError(t, err)
}
