// Package tradeexecutor is the single-writer, exchange-facing order
// placement and cancellation queue (spec §4.9). Orders are placed serially
// per account to avoid rate-limit interleaving and preserve ordering; each
// ticket produces an append-only log entry (invariant P5).
package tradeexecutor

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
)

// Capability is the exchange-facing subset TradeExecutor depends on.
type Capability interface {
	PlaceOrder(ctx context.Context, order domain.Order) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// request is one order placement or cancellation enqueued for serial
// execution.
type request struct {
	ticketID string
	order    domain.Order
	cancel   bool
	result   chan result
}

type result struct {
	order domain.Order
	err   error
}

// Executor serializes every exchange-facing call through one worker
// goroutine, backed by a local durable per-ticket journal that records each
// ticket's outcome and rejects a ticket id it has already recorded; nothing
// reads the journal back to replay work after a crash (teacher pattern: embedded SQLite per-process
// journal, repurposed here from a portfolio-scoring cache to an
// append-only order log).
type Executor struct {
	cap     Capability
	journal *sql.DB
	log     zerolog.Logger

	queue chan request

	maxRetries  int
	baseBackoff time.Duration
}

// New constructs an Executor backed by a local SQLite journal at journalPath
// (per-process, per-account — never shared across Supervisor-managed
// instances).
func New(cap Capability, journalPath string, log zerolog.Logger) (*Executor, error) {
	db, err := sql.Open("sqlite", journalPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, &domain.ConfigError{Component: "tradeexecutor", Message: "failed to open journal", Err: err}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS executor_log (
		ticket_id  TEXT PRIMARY KEY,
		action     TEXT NOT NULL,
		status     TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		db.Close()
		return nil, &domain.ConfigError{Component: "tradeexecutor", Message: "failed to init journal schema", Err: err}
	}

	e := &Executor{
		cap:         cap,
		journal:     db,
		log:         log.With().Str("component", "tradeexecutor").Logger(),
		queue:       make(chan request, 64),
		maxRetries:  5,
		baseBackoff: 250 * time.Millisecond,
	}

	return e, nil
}

// Run drains the queue serially until ctx is cancelled. Exactly one
// goroutine should call Run — this is what provides single-writer ordering.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.queue:
			e.process(ctx, req)
		}
	}
}

func (e *Executor) process(ctx context.Context, req request) {
	if logged, err := e.alreadyLogged(req.ticketID); err != nil {
		e.log.Warn().Err(err).Str("ticket_id", req.ticketID).Msg("journal lookup failed")
	} else if logged {
		req.result <- result{err: &domain.InvariantError{Message: "ticket_id already processed: " + req.ticketID}}
		return
	}

	var out domain.Order
	var err error

	backoff := e.baseBackoff
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if req.cancel {
			err = e.cap.CancelOrder(ctx, req.order.OrderID)
		} else {
			out, err = e.cap.PlaceOrder(ctx, req.order)
		}

		if err == nil {
			break
		}

		var permErr *domain.PermanentExchangeError
		if errors.As(err, &permErr) {
			break
		}

		if attempt == e.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = e.maxRetries
		case <-time.After(backoff):
			backoff *= 2
		}
	}

	status := "ok"
	detail := ""
	if err != nil {
		status = "failed"
		detail = err.Error()
	}
	action := "place"
	if req.cancel {
		action = "cancel"
	}
	e.logResult(req.ticketID, action, status, detail)

	req.result <- result{order: out, err: err}
}

func (e *Executor) alreadyLogged(ticketID string) (bool, error) {
	var count int
	err := e.journal.QueryRow(`SELECT COUNT(*) FROM executor_log WHERE ticket_id = ?`, ticketID).Scan(&count)
	return count > 0, err
}

func (e *Executor) logResult(ticketID, action, status, detail string) {
	if _, err := e.journal.Exec(
		`INSERT INTO executor_log (ticket_id, action, status, detail) VALUES (?, ?, ?, ?)`,
		ticketID, action, status, detail,
	); err != nil {
		e.log.Error().Err(err).Str("ticket_id", ticketID).Msg("failed to append executor log")
	}
}

// PlaceOrder enqueues an order placement and blocks until it is processed or
// ctx is cancelled.
func (e *Executor) PlaceOrder(ctx context.Context, ticketID string, order domain.Order) (domain.Order, error) {
	req := request{ticketID: ticketID, order: order, result: make(chan result, 1)}

	select {
	case e.queue <- req:
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.order, res.err
	case <-ctx.Done():
		return domain.Order{}, ctx.Err()
	}
}

// CancelOrder enqueues an order cancellation and blocks until it is
// processed or ctx is cancelled.
func (e *Executor) CancelOrder(ctx context.Context, ticketID, orderID string) error {
	req := request{ticketID: ticketID, order: domain.Order{OrderID: orderID}, cancel: true, result: make(chan result, 1)}

	select {
	case e.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case res := <-req.result:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the journal handle.
func (e *Executor) Close() error {
	return e.journal.Close()
}
