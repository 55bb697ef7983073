package accountsync

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/recio/trading-core/internal/domain"
)

type fakeCapability struct {
	positions   []domain.Position
	positionErr error
	balance     domain.Balance
	balanceErr  error
}

func (f *fakeCapability) FetchPositions(ctx context.Context) ([]domain.Position, error) {
	return f.positions, f.positionErr
}
func (f *fakeCapability) FetchFills(ctx context.Context) ([]domain.Fill, error) { return nil, nil }
func (f *fakeCapability) FetchOrders(ctx context.Context) ([]domain.Order, error) { return nil, nil }
func (f *fakeCapability) FetchSettlements(ctx context.Context) ([]domain.Settlement, error) {
	return nil, nil
}
func (f *fakeCapability) FetchBalance(ctx context.Context) (domain.Balance, error) {
	return f.balance, f.balanceErr
}

type fakeRepo struct {
	fillsCalls int
}

func (r *fakeRepo) UpsertPositions(ctx context.Context, positions []domain.Position) error { return nil }
func (r *fakeRepo) UpsertFills(ctx context.Context, fills []domain.Fill) error {
	r.fillsCalls++
	return nil
}
func (r *fakeRepo) UpsertOrders(ctx context.Context, orders []domain.Order) error           { return nil }
func (r *fakeRepo) UpsertSettlements(ctx context.Context, settlements []domain.Settlement) error {
	return nil
}
func (r *fakeRepo) UpsertBalance(ctx context.Context, b domain.Balance) error { return nil }

func TestJob_Name_IncludesUser(t *testing.T) {
	job := New("alice", &fakeCapability{}, &fakeRepo{}, zerolog.Nop())
	assert.Equal(t, "kalshi_account_sync:alice", job.Name())
}

func TestJob_Run_OneFetchFailureDoesNotFailTheWholeRun(t *testing.T) {
	cap := &fakeCapability{positionErr: errors.New("boom")}
	repo := &fakeRepo{}
	job := New("alice", cap, repo, zerolog.Nop())

	err := job.Run()
	assert.NoError(t, err)
	assert.Equal(t, 1, repo.fillsCalls)
}
