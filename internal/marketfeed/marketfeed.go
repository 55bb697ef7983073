// Package marketfeed delivers near-real-time Kalshi market data and
// maintains a "market snapshot" read by decision engines (spec §4.4).
// Grounded on the pack's dual-mode collector: WebSocket when connected,
// HTTP polling fallback otherwise, plus a watchdog that forces a restart if
// writes stall — adapted here into exponential-backoff mode switching
// instead of a hard process restart, since MarketFeed runs as one goroutine
// inside a managed service rather than its own process.
package marketfeed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/store"
)

// Mode selects how MarketFeed acquires data.
type Mode string

const (
	ModeWebSocket Mode = "WEBSOCKET"
	ModeHTTPPoll  Mode = "HTTP_POLL"
)

// Capability is the subset of kalshi.Client MarketFeed depends on.
type Capability interface {
	Subscribe(ctx context.Context, tickers []string) (<-chan domain.MarketSnapshot, error)
	GetMarkets(ctx context.Context, seriesTicker, status string) ([]domain.MarketSnapshot, error)
}

// Config tunes MarketFeed's mode selection and fallback thresholds.
type Config struct {
	PreferredMode  Mode
	FallbackToHTTP bool
	MaxRetries     int
	PollInterval   time.Duration
	SeriesTicker   string
}

// Feed maintains an in-memory snapshot of every subscribed market plus a
// heartbeat timestamp, falling back from WEBSOCKET to HTTP_POLL after
// max_retries failed reconnects (spec §4.4).
type Feed struct {
	cap    Capability
	repo   *store.MarketSnapshotRepo
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	snapshots map[string]domain.MarketSnapshot
	heartbeat atomic.Int64 // unix nanos of last successful frame

	currentMode atomic.Value // Mode
}

// New constructs a Feed over cap, writing snapshots through repo.
func New(cap Capability, repo *store.MarketSnapshotRepo, cfg Config, log zerolog.Logger) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	f := &Feed{
		cap:       cap,
		repo:      repo,
		cfg:       cfg,
		log:       log.With().Str("component", "marketfeed").Logger(),
		now:       time.Now,
		snapshots: make(map[string]domain.MarketSnapshot),
	}
	f.currentMode.Store(cfg.PreferredMode)
	return f
}

// Run drives the feed until ctx is cancelled, switching between WS and HTTP
// poll.
func (f *Feed) Run(ctx context.Context, tickers []string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var err error
		if f.Mode() == ModeWebSocket {
			err = f.runWebSocket(ctx, tickers)
		} else {
			err = f.runHTTPPoll(ctx, tickers)
		}

		if err == context.Canceled || err == context.DeadlineExceeded {
			return err
		}
		if err != nil {
			f.log.Warn().Err(err).Str("mode", string(f.Mode())).Msg("marketfeed leg exited")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Mode reports the feed's currently active acquisition mode.
func (f *Feed) Mode() Mode {
	return f.currentMode.Load().(Mode)
}

func (f *Feed) runWebSocket(ctx context.Context, tickers []string) error {
	backoff := time.Second
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ch, err := f.cap.Subscribe(ctx, tickers)
		if err != nil {
			attempts++
			if f.cfg.FallbackToHTTP && attempts >= f.cfg.MaxRetries {
				f.log.Warn().Int("attempts", attempts).Msg("websocket retries exhausted, falling back to http poll")
				f.currentMode.Store(ModeHTTPPoll)
				return nil
			}
			f.log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", backoff).Msg("websocket subscribe failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = minDuration(backoff*2, 30*time.Second)
			continue
		}

		attempts = 0
		backoff = time.Second

		for snap := range ch {
			f.apply(snap)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (f *Feed) runHTTPPoll(ctx context.Context, tickers []string) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			markets, err := f.cap.GetMarkets(ctx, f.cfg.SeriesTicker, "open")
			if err != nil {
				f.log.Debug().Err(err).Msg("http poll fetch failed")
				continue
			}
			for _, m := range markets {
				f.apply(m)
			}
		}
	}
}

func (f *Feed) apply(snap domain.MarketSnapshot) {
	f.mu.Lock()
	f.snapshots[snap.MarketID] = snap
	f.mu.Unlock()
	f.heartbeat.Store(f.now().UnixNano())

	if f.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.repo.Upsert(ctx, snap); err != nil {
			f.log.Warn().Err(err).Str("market_id", snap.MarketID).Msg("snapshot upsert failed")
		}
	}
}

// Snapshot returns the last-known state for marketID.
func (f *Feed) Snapshot(marketID string) (domain.MarketSnapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.snapshots[marketID]
	return s, ok
}

// HeartbeatAge reports how long ago the most recent successful frame (WS
// tick or HTTP poll update) was applied. ATS and AutoEntryEngine treat the
// feed as stale above a 10s threshold (spec §5, invariant P6).
func (f *Feed) HeartbeatAge() time.Duration {
	last := f.heartbeat.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return f.now().Sub(time.Unix(0, last))
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
