// Command server is the single entrypoint wiring every REC.IO component
// into one process: Store connection and migrations, per-symbol price and
// market feeds, per-user trading pipelines, the Supervisor process registry,
// the CascadingFailureDetector, and the control-plane HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/recio/trading-core/internal/accountsync"
	"github.com/recio/trading-core/internal/activetrade"
	"github.com/recio/trading-core/internal/autoentry"
	"github.com/recio/trading-core/internal/cfd"
	"github.com/recio/trading-core/internal/coinbase"
	"github.com/recio/trading-core/internal/config"
	"github.com/recio/trading-core/internal/domain"
	"github.com/recio/trading-core/internal/kalshi"
	"github.com/recio/trading-core/internal/marketfeed"
	"github.com/recio/trading-core/internal/notify"
	"github.com/recio/trading-core/internal/pricefeed"
	"github.com/recio/trading-core/internal/scheduler"
	"github.com/recio/trading-core/internal/server"
	"github.com/recio/trading-core/internal/store"
	"github.com/recio/trading-core/internal/supervisor"
	"github.com/recio/trading-core/internal/trademanager"
	"github.com/recio/trading-core/internal/tradeexecutor"
	"github.com/recio/trading-core/pkg/logger"
)

func main() {
	log := logger.New(logger.Config{Level: "info", Pretty: true})
	log.Info().Msg("starting REC.IO trading core")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	bus := notify.NewBus(log)

	for _, user := range cfg.Users {
		if err := db.EnsureUserSchema(ctx, user); err != nil {
			log.Fatal().Err(err).Str("user", user).Msg("failed to provision user schema")
		}
	}

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	svc := supervisor.New(nil, log)

	cfdDetector := cfd.New(svc, cfdServices(), log)

	sup := server.Config{
		Log:        log,
		Port:       cfg.ServerPort,
		DevMode:    cfg.DevMode,
		Supervisor: svc,
		Bus:        bus,
	}
	srv := server.New(sup)

	g, gctx := errgroup.WithContext(ctx)

	for _, symbol := range cfg.Symbols {
		symbol := symbol
		priceRepo, err := db.PriceLog(symbol)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", symbol).Msg("invalid symbol for price log")
		}
		watchdog := pricefeed.New(symbol, coinbase.New(), priceRepo, time.Second, log)

		g.Go(func() error {
			if err := watchdog.Run(gctx); err != nil && gctx.Err() == nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("pricefeed exited")
			}
			return nil
		})

		feed, err := buildMarketFeed(db, cfg, symbol, log)
		if err != nil {
			log.Fatal().Err(err).Str("symbol", symbol).Msg("failed to build market feed")
		}

		g.Go(func() error {
			// MarketFeed starts with no ticker list. In HTTP poll mode it
			// fetches every open market of the series on each poll; in
			// WebSocket mode it subscribes with this empty list, which
			// nothing updates later.
			if err := feed.Run(gctx, nil); err != nil && gctx.Err() == nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("market feed exited")
			}
			return nil
		})

		for _, user := range cfg.Users {
			user := user
			pipeline, err := buildUserPipeline(db, bus, cfg, user, symbol, watchdog, feed, log)
			if err != nil {
				log.Fatal().Err(err).Str("user", user).Str("symbol", symbol).Msg("failed to build trading pipeline")
			}
			pipeline.start(g, gctx, sched)
		}
	}

	g.Go(func() error {
		if err := cfdDetector.Run(gctx); err != nil && gctx.Err() == nil {
			log.Error().Err(err).Msg("cascading failure detector exited")
		}
		return nil
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && gctx.Err() == nil {
			log.Error().Err(err).Msg("control-plane server exited")
		}
		return nil
	})

	log.Info().Int("port", cfg.ServerPort).Strs("symbols", cfg.Symbols).Strs("users", cfg.Users).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	_ = g.Wait()
	log.Info().Msg("stopped")
}

// cfdServices is the declarative list of logical services CascadingFailureDetector
// samples. Each name corresponds to a Supervisor-tracked goroutine group
// rather than a separate OS process, since every component in this binary
// runs in-process.
func cfdServices() []cfd.ServiceSpec {
	return []cfd.ServiceSpec{
		{Name: "trade_manager", Criticality: cfd.Critical},
		{Name: "active_trade_supervisor", Criticality: cfd.Critical},
		{Name: "auto_entry_supervisor", Criticality: cfd.NonCritical},
		{Name: "kalshi_account_sync", Criticality: cfd.NonCritical},
	}
}

// userPipeline bundles one user/symbol's trading stack: trade manager,
// executor, active trade supervisor, auto-entry engine, and account sync.
type userPipeline struct {
	ats      *activetrade.Supervisor
	entry    *autoentry.Engine
	account  *accountsync.Job
	executor *tradeexecutor.Executor
	log      zerolog.Logger
}

func buildMarketFeed(db *store.DB, cfg *config.Config, symbol string, log zerolog.Logger) (*marketfeed.Feed, error) {
	mode := domain.AccountDemo
	if cfg.KalshiAccountMode == "prod" {
		mode = domain.AccountProd
	}

	pemBytes, err := os.ReadFile(cfg.KalshiPrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	client, err := kalshi.NewClient(mode, cfg.KalshiKeyID, pemBytes, log)
	if err != nil {
		return nil, err
	}

	feedMode := marketfeed.ModeWebSocket
	if !cfg.UseWebSocketMarketData {
		feedMode = marketfeed.ModeHTTPPoll
	}

	return marketfeed.New(client, db.MarketSnapshots(), marketfeed.Config{
		PreferredMode:  feedMode,
		FallbackToHTTP: cfg.WebSocketFallbackToHTTP,
		MaxRetries:     cfg.WebSocketMaxRetries,
		PollInterval:   time.Second,
		SeriesTicker:   symbol,
	}, log), nil
}

func buildUserPipeline(db *store.DB, bus *notify.Bus, cfg *config.Config, user, symbol string, priceSource *pricefeed.Watchdog, feed *marketfeed.Feed, log zerolog.Logger) (*userPipeline, error) {
	mode := domain.AccountDemo
	if cfg.KalshiAccountMode == "prod" {
		mode = domain.AccountProd
	}

	pemBytes, err := os.ReadFile(cfg.KalshiPrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	client, err := kalshi.NewClient(mode, cfg.KalshiKeyID, pemBytes, log)
	if err != nil {
		return nil, err
	}

	tradeRepo, err := db.Trades(user, bus)
	if err != nil {
		return nil, err
	}
	activeRepo, err := db.ActiveTrades(user, bus)
	if err != nil {
		return nil, err
	}
	prefsRepo, err := db.Preferences(user, bus)
	if err != nil {
		return nil, err
	}
	accountRepo, err := db.Account(user, bus)
	if err != nil {
		return nil, err
	}
	marketRepo := db.MarketSnapshots()
	priceRepo, err := db.PriceLog(symbol)
	if err != nil {
		return nil, err
	}

	journalPath := cfg.TradeExecutorJournalPath + "." + user
	executor, err := tradeexecutor.New(client, journalPath, log)
	if err != nil {
		return nil, err
	}

	manager := trademanager.New(tradeRepo, executor, log)

	marketID := func(t domain.Trade) string { return t.Contract }

	ats := activetrade.New(tradeRepo, feed, priceSource, activeRepo, manager, prefsRepo, marketID, cfg.ActiveTradeWorkers, log).
		WithPriceHistory(priceRepo)

	entry := autoentry.New(marketRepo, priceSource, feed, tradeRepo, manager, prefsRepo, symbol, log).
		WithPriceHistory(priceRepo)

	account := accountsync.New(user, client, accountRepo, log)

	return &userPipeline{ats: ats, entry: entry, account: account, executor: executor, log: log}, nil
}

func (p *userPipeline) start(g *errgroup.Group, ctx context.Context, sched *scheduler.Scheduler) {
	g.Go(func() error {
		if err := p.executor.Run(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("trade executor exited")
		}
		return nil
	})

	g.Go(func() error {
		if err := p.ats.Run(ctx); err != nil && ctx.Err() == nil {
			p.log.Error().Err(err).Msg("active trade supervisor exited")
		}
		return nil
	})

	if err := sched.AddJob("@every 10s", p.entry); err != nil {
		p.log.Error().Err(err).Msg("failed to register auto entry job")
	}
	if err := sched.AddJob("@every 10s", p.account); err != nil {
		p.log.Error().Err(err).Msg("failed to register account sync job")
	}
}
