package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coderashu-1/Trade/internal/betting"
	"github.com/coderashu-1/Trade/internal/domain"
	"github.com/coderashu-1/Trade/internal/feed"
	"github.com/coderashu-1/Trade/internal/history"
	"github.com/coderashu-1/Trade/internal/platform/binance"
	"github.com/coderashu-1/Trade/internal/server"
	"github.com/coderashu-1/Trade/internal/server/handler"
	"github.com/coderashu-1/Trade/internal/server/ws"
	"github.com/coderashu-1/Trade/internal/service"
)

const (
	shutdownTimeout = 5 * time.Second
	archiveLockKey  = "archive:bets"
	archiveLockTTL  = 10 * time.Minute
)

// liveEngine holds the components that serve bet sessions.
type liveEngine struct {
	router   *feed.Router
	prices   *service.PriceService
	conn     *feed.Connection
	history  *history.Service
	sessions *service.SessionService
}

func (a *App) buildEngine(deps *Dependencies) (*liveEngine, error) {
	router := feed.NewRouter(a.cfg.Router.MaxCachedKeys, a.logger)
	prices := service.NewPriceService(router, deps.PriceCache, deps.SignalBus, a.logger)

	rest := binance.NewRESTClient(a.cfg.History.RESTURL, a.logger)
	hist := history.NewService(history.Config{
		Interval:       a.cfg.History.Interval,
		Limit:          a.cfg.History.Limit,
		SyntheticCount: a.cfg.History.SyntheticCount,
	}, rest, router, a.logger)

	sessions, err := service.NewSessionService(service.SessionConfig{
		LockTTL:         a.cfg.Engine.SessionLockTTL.Duration,
		StartingBalance: a.cfg.Engine.StartingBalance,
		Engine: betting.Config{
			TickInterval:   a.cfg.Engine.TickInterval.Duration,
			PayoutRatio:    a.cfg.Engine.PayoutRatio,
			PersistTimeout: a.cfg.Engine.PersistTimeout.Duration,
		},
	}, service.SessionDeps{
		Prices:   router,
		Store:    deps.Store,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Seeder:   hist,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})
	if err != nil {
		router.Close()
		return nil, fmt.Errorf("app: session service: %w", err)
	}

	// The connection feeds the price service, which forwards to the router
	// before mirroring.
	conn := feed.NewConnection(feed.ConnectionConfig{
		URL:       a.cfg.Feed.URL,
		BaseDelay: a.cfg.Feed.BaseDelay.Duration,
		MaxDelay:  a.cfg.Feed.MaxDelay.Duration,
	}, prices, a.logger)

	return &liveEngine{
		router:   router,
		prices:   prices,
		conn:     conn,
		history:  hist,
		sessions: sessions,
	}, nil
}

// start runs the feed and the price mirror on g. Sessions, the feed and the
// router are torn down in that order when ctx ends.
func (e *liveEngine) start(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		return e.prices.Run(ctx)
	})
	e.conn.Start(ctx)
	g.Go(func() error {
		<-ctx.Done()
		e.sessions.CloseAll()
		e.conn.Close()
		e.router.Close()
		return nil
	})
}

// EngineMode streams prices and serves bet sessions.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	eng, err := a.buildEngine(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	eng.start(ctx, g)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	return g.Wait()
}

// ArchiveMode moves settled bets older than the retention window to object
// storage once and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Store.RetentionDays),
	)
	return a.archiveOnce(ctx, deps)
}

// FullMode runs the engine and the archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	eng, err := a.buildEngine(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	eng.start(ctx, g)
	g.Go(func() error {
		return a.runArchiver(ctx, deps)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}
	return g.Wait()
}

// runArchiver archives at start and then on every interval. Failures are
// logged and retried on the next tick.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	archive := func() {
		if err := a.archiveOnce(ctx, deps); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
		}
	}

	archive()
	ticker := time.NewTicker(a.cfg.Store.ArchiveInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			archive()
		}
	}
}

// archiveOnce runs one archive pass. Only the process holding the archive
// lock does the work; the others skip silently.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archiver not wired")
	}

	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, archiveLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive skipped, another process holds the lock")
			return nil
		}
		return fmt.Errorf("app: archive lock: %w", err)
	}
	defer unlock()

	retention := time.Duration(a.cfg.Store.RetentionDays) * 24 * time.Hour
	before := time.Now().UTC().Add(-retention)
	n, err := deps.Archiver.ArchiveBets(ctx, before)
	if err != nil {
		return fmt.Errorf("app: archive bets before %s: %w", before.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Time("before", before),
		slog.Int64("bets", n),
	)
	return nil
}

// startHTTPServer registers the API and the websocket hub on g.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *liveEngine) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Checks, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, a.startedAt, eng.conn, eng.sessions),
		Markets:  handler.NewMarketHandler(domain.DefaultPairs, eng.prices, eng.history, a.logger),
		Sessions: handler.NewSessionHandler(eng.sessions, a.logger),
		Bets:     handler.NewBetHandler(deps.Store, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
