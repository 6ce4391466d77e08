package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/infofisync/internal/chain"
	"github.com/alanyoungcy/infofisync/internal/config"
	"github.com/alanyoungcy/infofisync/internal/domain"
	"github.com/alanyoungcy/infofisync/internal/listener"
	"github.com/alanyoungcy/infofisync/internal/service"
)

type positionHandler interface {
	HandlePositionUpdate(ctx context.Context, curve string, ev domain.PositionUpdate) (service.SyncResult, error)
}

type marketCreatedHandler interface {
	HandleMarketCreated(ctx context.Context, ev domain.MarketCreated) (service.MaterializeResult, error)
}

type seasonEventHandler interface {
	HandleSeasonEvent(ctx context.Context, ev domain.SeasonEvent) error
}

type seasonReconciler interface {
	ReconcileSeasonsFromChain(ctx context.Context, onSeasonActive service.SeasonActivator) (service.ReconcileResult, error)
}

// Engine owns the listener registry: the static factory and raffle pollers
// plus one PositionUpdate poller per active season.
type Engine struct {
	network  config.NetworkConfig
	listen   config.ListenerConfig
	source   listener.LogSource
	cursors  domain.CursorStore
	limiter  domain.RateLimiter
	registry *listener.Registry

	positions  positionHandler
	markets    marketCreatedHandler
	seasons    seasonEventHandler
	reconciler seasonReconciler

	logger *slog.Logger

	mu         sync.Mutex
	runCtx     context.Context
	seasonKeys map[int64]string
}

func newEngine(network config.NetworkConfig, listen config.ListenerConfig, source listener.LogSource, cursors domain.CursorStore, limiter domain.RateLimiter, logger *slog.Logger) *Engine {
	return &Engine{
		network:    network,
		listen:     listen,
		source:     source,
		cursors:    cursors,
		limiter:    limiter,
		registry:   listener.NewRegistry(logger),
		logger:     logger.With(slog.String("component", "engine")),
		seasonKeys: make(map[int64]string),
	}
}

// Start arms the static listeners. A listener that cannot start (typically
// a missing contract address) is logged and skipped; the rest keep running.
// It returns how many listeners were armed.
func (e *Engine) Start(ctx context.Context) int {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	type static struct {
		event   string
		address string
		topic   common.Hash
		handler listener.Handler
	}
	var statics []static
	if e.markets != nil {
		statics = append(statics, static{"MarketCreated", e.network.InfoFiFactory, chain.MarketCreatedTopic,
			listener.Dispatch("MarketCreated", chain.DecodeMarketCreated, e.onMarketCreated, e.logger)})
	}
	if e.seasons != nil {
		statics = append(statics,
			static{"SeasonStarted", e.network.Raffle, chain.SeasonStartedTopic,
				listener.Dispatch("SeasonStarted", chain.DecodeSeasonEvent, e.seasons.HandleSeasonEvent, e.logger)},
			static{"SeasonEnded", e.network.Raffle, chain.SeasonEndedTopic,
				listener.Dispatch("SeasonEnded", chain.DecodeSeasonEvent, e.seasons.HandleSeasonEvent, e.logger)},
		)
	}

	armed := 0
	for _, s := range statics {
		if err := e.arm(listener.Key(s.event, s.address), s.address, s.topic, s.handler); err != nil {
			e.logger.ErrorContext(ctx, "listener not started",
				slog.String("event", s.event),
				slog.String("error", err.Error()),
			)
			continue
		}
		armed++
	}
	return armed
}

// Reconcile aligns the season registry with the chain and arms a poller for
// every active season.
func (e *Engine) Reconcile(ctx context.Context) (service.ReconcileResult, error) {
	if e.reconciler == nil {
		return service.ReconcileResult{}, fmt.Errorf("engine: reconcile: %w", domain.ErrMissingContract)
	}
	return e.reconciler.ReconcileSeasonsFromChain(ctx, e.ArmSeason)
}

// ArmSeason starts the PositionUpdate poller of a season's bonding curve.
// Arming an already running season is a no-op.
func (e *Engine) ArmSeason(_ context.Context, seasonID int64, curve, _ string) error {
	if e.positions == nil {
		return errors.New("engine: position handler not configured")
	}
	key := listener.Key("PositionUpdate", curve)
	handle := func(ctx context.Context, ev domain.PositionUpdate) error {
		_, err := e.positions.HandlePositionUpdate(ctx, curve, ev)
		return err
	}
	if err := e.arm(key, curve, chain.PositionUpdateTopic,
		listener.Dispatch("PositionUpdate", chain.DecodePositionUpdate, handle, e.logger)); err != nil {
		return fmt.Errorf("engine: arm season %d: %w", seasonID, err)
	}

	e.mu.Lock()
	e.seasonKeys[seasonID] = key
	e.mu.Unlock()
	return nil
}

// DisarmSeason stops a season's PositionUpdate poller.
func (e *Engine) DisarmSeason(seasonID int64) {
	e.mu.Lock()
	key, ok := e.seasonKeys[seasonID]
	delete(e.seasonKeys, seasonID)
	e.mu.Unlock()
	if ok && e.registry.Stop(key) {
		e.logger.Info("season listener stopped", slog.Int64("season_id", seasonID), slog.String("listener", key))
	}
}

// Keys lists armed listener keys.
func (e *Engine) Keys() []string { return e.registry.Keys() }

// Stop cancels every poller and waits for in-flight batches.
func (e *Engine) Stop() { e.registry.StopAll() }

func (e *Engine) arm(key, address string, topic common.Hash, h listener.Handler) error {
	e.mu.Lock()
	runCtx := e.runCtx
	e.mu.Unlock()
	if runCtx == nil {
		return errors.New("engine: not started")
	}

	_, err := e.registry.Arm(key, func() (*listener.Handle, error) {
		p, err := listener.NewPoller(listener.Config{
			Key:           key,
			Address:       address,
			Topic:         topic,
			Interval:      e.listen.PollInterval.Duration,
			MaxBlockRange: e.listen.MaxBlockRange,
			StartBlock:    e.network.StartBlock,
		}, e.source, e.cursors, h, e.logger, listener.WithRateLimiter(e.limiter, e.listen.RPCRateLimit))
		if err != nil {
			return nil, err
		}
		return p.Start(runCtx), nil
	})
	return err
}

func (e *Engine) onMarketCreated(ctx context.Context, ev domain.MarketCreated) error {
	_, err := e.markets.HandleMarketCreated(ctx, ev)
	return err
}
