package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/infofisync/internal/chain"
	"github.com/alanyoungcy/infofisync/internal/domain"
	"github.com/alanyoungcy/infofisync/internal/server"
	"github.com/alanyoungcy/infofisync/internal/server/handler"
	"github.com/alanyoungcy/infofisync/internal/server/ws"
	"github.com/alanyoungcy/infofisync/internal/service"
)

// ListenMode runs the listeners and the odds retention job.
func (a *App) ListenMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	odds := a.oddsRecorder(deps)
	engine := a.buildEngine(deps, odds)
	a.startEngine(ctx, g, engine)
	a.startOddsCleanup(ctx, g, odds)
	return g.Wait()
}

// ReconcileMode aligns the season registry with the chain once and exits.
// Active seasons are reported but no pollers are started.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	log := a.logger.With(slog.String("component", "reconcile"))
	raffle, err := chain.NewRaffle(deps.Chain, deps.Network.Raffle)
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}
	rec := service.NewSeasonReconciler(raffle, raffle.Address(), deps.Seasons, deps.Audit, a.logger)

	res, err := rec.ReconcileSeasonsFromChain(ctx, func(ctx context.Context, seasonID int64, curve, _ string) error {
		log.InfoContext(ctx, "season active", slog.Int64("season_id", seasonID), slog.String("curve", curve))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconcile mode: %w", err)
	}
	log.InfoContext(ctx, "reconcile complete",
		slog.Int("inspected", res.Inspected),
		slog.Int("upserted", res.Upserted),
		slog.Int("active", res.Activated),
	)
	return nil
}

// ServerMode serves the HTTP API and WebSocket feed only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.oddsRecorder(deps), nil)
	return g.Wait()
}

// FullMode runs the listeners, the retention job and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	odds := a.oddsRecorder(deps)
	engine := a.buildEngine(deps, odds)
	a.startEngine(ctx, g, engine)
	a.startOddsCleanup(ctx, g, odds)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, odds, engine)
	}
	return g.Wait()
}

func (a *App) oddsRecorder(deps *Dependencies) *service.HistoricalOddsRecorder {
	var archiver domain.OddsArchiver
	if a.cfg.Odds.ArchiveBeforeCleanup {
		archiver = deps.Archiver
	}
	return service.NewHistoricalOddsRecorder(deps.Odds, deps.Bus, archiver, deps.Locks, deps.Audit, service.OddsConfig{
		MaxPoints:            a.cfg.Odds.MaxPoints,
		Retention:            a.cfg.Odds.Retention(),
		ArchiveBeforeCleanup: archiver != nil,
	}, a.logger)
}

// buildEngine assembles the services behind the listeners. Components whose
// contract address is missing are left out; their listeners then fail to
// start and are skipped.
func (a *App) buildEngine(deps *Dependencies, odds *service.HistoricalOddsRecorder) *Engine {
	net := deps.Network
	e := newEngine(net, a.cfg.Listener, deps.Chain, deps.Cursors, deps.Limiter, a.logger)

	curves := chain.NewCurves(deps.Chain)
	e.markets = service.NewMarketMaterializer(chain.DefaultMarketTypes(), deps.Seasons, curves, deps.Players, deps.Markets, odds, deps.Chain, a.logger)

	raffle, err := chain.NewRaffle(deps.Chain, net.Raffle)
	if err != nil {
		a.logger.Error("raffle unavailable; season discovery and probability sync disabled",
			slog.String("error", err.Error()))
		return e
	}

	creator, oracle := a.relayServices(deps)
	e.positions = service.NewProbabilitySynchronizer(service.SynchronizerDeps{
		Raffle:       raffle,
		Curves:       curves,
		Players:      deps.Players,
		Markets:      deps.Markets,
		Transactions: deps.Transactions,
		Clock:        deps.Chain,
		Creator:      creator,
		Oracle:       oracle,
		Odds:         odds,
		Factory:      net.InfoFiFactory,
	}, a.logger)
	e.reconciler = service.NewSeasonReconciler(raffle, raffle.Address(), deps.Seasons, deps.Audit, a.logger)
	e.seasons = service.NewSeasonLifecycle(raffle, raffle.Address(), deps.Seasons, e.ArmSeason, e.DisarmSeason, a.logger)
	return e
}

// relayServices builds the market creation and oracle paths. Both are nil
// without a relayer; the synchronizer then only records probabilities and
// transactions.
func (a *App) relayServices(deps *Dependencies) (service.MarketCreator, service.ProbabilityPusher) {
	if deps.Relayer == nil {
		a.logger.Warn("no relayer configured; market creation and oracle sync disabled")
		return nil, nil
	}
	net := deps.Network
	alerts := service.NewAdminAlertService(a.cfg.Oracle.AlertCutoff, a.cfg.Oracle.AlertCooldown.Duration, deps.Notifier, a.logger)
	oracle := service.NewOracleSyncService(deps.Relayer, deps.Chain, net.InfoFiOracle,
		a.cfg.Oracle.MaxRetries, a.cfg.Oracle.RetryDelay.Duration, alerts, a.logger)
	orchestrator := service.NewMarketCreationOrchestrator(deps.Markets, deps.Failures, deps.Relayer, deps.Chain,
		service.NewBusBroadcaster(deps.Bus, a.logger),
		service.OrchestratorConfig{
			MaxAttempts:    a.cfg.Markets.CreationMaxAttempts,
			RetryDelay:     a.cfg.Markets.RetryDelay.Duration,
			ReceiptTimeout: a.cfg.Markets.ReceiptTimeout.Duration,
		}, a.logger)
	return orchestrator, oracle
}

// startEngine arms the static listeners, reconciles seasons so every active
// season gets its poller, and stops all pollers on shutdown.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, e *Engine) {
	g.Go(func() error {
		armed := e.Start(ctx)
		a.logger.InfoContext(ctx, "listeners started", slog.Int("static", armed))

		if res, err := e.Reconcile(ctx); err != nil {
			a.logger.ErrorContext(ctx, "startup reconcile failed", slog.String("error", err.Error()))
		} else {
			a.logger.InfoContext(ctx, "startup reconcile complete",
				slog.Int("upserted", res.Upserted),
				slog.Int("active", res.Activated),
			)
		}

		<-ctx.Done()
		e.Stop()
		a.logger.Info("listeners stopped")
		return nil
	})
}

func (a *App) startOddsCleanup(ctx context.Context, g *errgroup.Group, odds *service.HistoricalOddsRecorder) {
	g.Go(func() error {
		err := odds.RunCleanup(ctx, a.cfg.Odds.CleanupInterval.Duration)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// startHTTPServer adds the API server and WebSocket hub to g. armed is nil
// when this process runs no listeners.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, odds *service.HistoricalOddsRecorder, armed handler.ArmedListeners) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channels:      []string{service.LifecycleChannel, service.OddsChannelPattern},
		Route:         routeOdds,
		ReplayStream:  service.LifecycleStream,
		ReplayCount:   20,
		ReplayChannel: service.LifecycleChannel,
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.New(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Routes{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Odds:      handler.NewOddsHandler(odds, a.logger),
		Listeners: handler.NewListenerHandler(armed, deps.Cursors, a.logger),
		Ops:       handler.NewOpsHandler(deps.Failures, deps.Audit, a.logger),
		Hub:       hub,
		Limiter:   deps.Limiter,
	}, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

// routeOdds tags odds points received on the pattern subscription with
// their concrete odds:<season>:<market> channel.
func routeOdds(subscription string, payload []byte) string {
	if subscription != service.OddsChannelPattern {
		return subscription
	}
	var p domain.OddsPoint
	if err := json.Unmarshal(payload, &p); err != nil || p.SeasonID == 0 {
		return subscription
	}
	return service.OddsChannel(p.SeasonID, p.MarketID)
}
