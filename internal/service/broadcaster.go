package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const (
	LifecycleChannel = "market_lifecycle"
	LifecycleStream  = "stream:market_lifecycle"
)

// LifecycleBroadcaster announces market-creation progress. Delivery is fire
// and forget.
type LifecycleBroadcaster interface {
	Broadcast(ctx context.Context, ev domain.MarketLifecycle)
}

// BusBroadcaster publishes lifecycle events on the signal bus, both as a
// pub/sub message for live clients and as a stream entry for late readers.
type BusBroadcaster struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusBroadcaster creates a BusBroadcaster. A nil bus only logs.
func NewBusBroadcaster(bus domain.SignalBus, logger *slog.Logger) *BusBroadcaster {
	return &BusBroadcaster{
		bus:    bus,
		logger: logger.With(slog.String("component", "lifecycle_broadcaster")),
	}
}

// Broadcast implements LifecycleBroadcaster.
func (b *BusBroadcaster) Broadcast(ctx context.Context, ev domain.MarketLifecycle) {
	b.logger.InfoContext(ctx, "market creation "+ev.Stage,
		slog.Int64("season_id", ev.SeasonID),
		slog.String("player", ev.Player),
		slog.String("tx_hash", ev.TxHash),
	)
	if b.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.ErrorContext(ctx, "lifecycle marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := b.bus.Publish(ctx, LifecycleChannel, payload); err != nil {
		b.logger.WarnContext(ctx, "lifecycle publish failed", slog.String("error", err.Error()))
	}
	if err := b.bus.StreamAppend(ctx, LifecycleStream, payload); err != nil {
		b.logger.WarnContext(ctx, "lifecycle stream append failed", slog.String("error", err.Error()))
	}
}
