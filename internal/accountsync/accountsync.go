// Package accountsync periodically reconciles authoritative account state
// from the exchange into the Store (spec §4.5, component C5).
package accountsync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
)

// Capability is the exchange-facing subset AccountSync depends on.
type Capability interface {
	FetchPositions(ctx context.Context) ([]domain.Position, error)
	FetchFills(ctx context.Context) ([]domain.Fill, error)
	FetchOrders(ctx context.Context) ([]domain.Order, error)
	FetchSettlements(ctx context.Context) ([]domain.Settlement, error)
	FetchBalance(ctx context.Context) (domain.Balance, error)
}

// Repo is the storage-facing subset of *store.AccountRepo AccountSync needs,
// kept as an interface so the reconciliation logic is testable without a
// live database.
type Repo interface {
	UpsertPositions(ctx context.Context, positions []domain.Position) error
	UpsertFills(ctx context.Context, fills []domain.Fill) error
	UpsertOrders(ctx context.Context, orders []domain.Order) error
	UpsertSettlements(ctx context.Context, settlements []domain.Settlement) error
	UpsertBalance(ctx context.Context, b domain.Balance) error
}

// Job reconciles one user's account state on a scheduler cadence
// (spec: "on cadence (≈5–15s) ... Never deletes rows").
type Job struct {
	user string
	cap  Capability
	repo Repo
	log  zerolog.Logger
}

// New constructs a Job for user.
func New(user string, cap Capability, repo Repo, log zerolog.Logger) *Job {
	return &Job{user: user, cap: cap, repo: repo, log: log.With().Str("component", "accountsync").Str("user", user).Logger()}
}

// Name identifies this job to the scheduler.
func (j *Job) Name() string { return "kalshi_account_sync:" + j.user }

// Run fetches positions, fills, orders, settlements, and balance and upserts
// each into the user's per-table mirrors. Each fetch is independent: one
// failing does not block the others (spec §7: transient I/O errors retry on
// next cadence, never fatal here).
func (j *Job) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if positions, err := j.cap.FetchPositions(ctx); err != nil {
		j.log.Warn().Err(err).Msg("fetch positions failed")
	} else if err := j.repo.UpsertPositions(ctx, positions); err != nil {
		j.log.Warn().Err(err).Msg("upsert positions failed")
	}

	if fills, err := j.cap.FetchFills(ctx); err != nil {
		j.log.Warn().Err(err).Msg("fetch fills failed")
	} else if err := j.repo.UpsertFills(ctx, fills); err != nil {
		j.log.Warn().Err(err).Msg("upsert fills failed")
	}

	if orders, err := j.cap.FetchOrders(ctx); err != nil {
		j.log.Warn().Err(err).Msg("fetch orders failed")
	} else if err := j.repo.UpsertOrders(ctx, orders); err != nil {
		j.log.Warn().Err(err).Msg("upsert orders failed")
	}

	if settlements, err := j.cap.FetchSettlements(ctx); err != nil {
		j.log.Warn().Err(err).Msg("fetch settlements failed")
	} else if err := j.repo.UpsertSettlements(ctx, settlements); err != nil {
		j.log.Warn().Err(err).Msg("upsert settlements failed")
	}

	if balance, err := j.cap.FetchBalance(ctx); err != nil {
		j.log.Warn().Err(err).Msg("fetch balance failed")
	} else if err := j.repo.UpsertBalance(ctx, balance); err != nil {
		j.log.Warn().Err(err).Msg("upsert balance failed")
	}

	return nil
}
