package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// SeasonLifecycle reacts to the raffle's SeasonStarted and SeasonEnded
// events by updating the season registry and arming or disarming the
// season's position listener.
type SeasonLifecycle struct {
	raffle        SeasonReader
	raffleAddress string
	seasons       domain.SeasonStore
	onActive      SeasonActivator
	onEnded       func(seasonID int64)
	logger        *slog.Logger
}

// NewSeasonLifecycle creates the handler. onEnded may be nil.
func NewSeasonLifecycle(
	raffle SeasonReader,
	raffleAddress string,
	seasons domain.SeasonStore,
	onActive SeasonActivator,
	onEnded func(seasonID int64),
	logger *slog.Logger,
) *SeasonLifecycle {
	return &SeasonLifecycle{
		raffle:        raffle,
		raffleAddress: raffleAddress,
		seasons:       seasons,
		onActive:      onActive,
		onEnded:       onEnded,
		logger:        logger.With(slog.String("component", "season_lifecycle")),
	}
}

// HandleSeasonEvent processes one SeasonStarted or SeasonEnded event.
func (l *SeasonLifecycle) HandleSeasonEvent(ctx context.Context, ev domain.SeasonEvent) error {
	if ev.Started {
		return l.started(ctx, ev)
	}
	return l.ended(ctx, ev)
}

// started records the season as the chain currently reports it. A replayed
// SeasonStarted for a season that has since ended must not reactivate it.
func (l *SeasonLifecycle) started(ctx context.Context, ev domain.SeasonEvent) error {
	cfg, err := l.raffle.SeasonConfig(ctx, ev.SeasonID)
	if err != nil {
		return fmt.Errorf("lifecycle: season %d config: %w", ev.SeasonID, err)
	}
	season := domain.Season{
		ID:                  ev.SeasonID,
		BondingCurveAddress: cfg.BondingCurveAddress,
		RaffleTokenAddress:  cfg.RaffleTokenAddress,
		RaffleAddress:       l.raffleAddress,
		IsActive:            cfg.IsActive,
	}
	if err := l.seasons.Upsert(ctx, season); err != nil {
		return fmt.Errorf("lifecycle: upsert season %d: %w", ev.SeasonID, err)
	}
	if !cfg.IsActive {
		l.logger.InfoContext(ctx, "season start replayed for inactive season", slog.Int64("season_id", ev.SeasonID))
		if l.onEnded != nil {
			l.onEnded(ev.SeasonID)
		}
		return nil
	}
	l.logger.InfoContext(ctx, "season started",
		slog.Int64("season_id", ev.SeasonID),
		slog.String("bonding_curve", cfg.BondingCurveAddress),
	)
	if l.onActive == nil {
		return nil
	}
	if err := l.onActive(ctx, ev.SeasonID, cfg.BondingCurveAddress, cfg.RaffleTokenAddress); err != nil {
		return fmt.Errorf("lifecycle: activate season %d: %w", ev.SeasonID, err)
	}
	return nil
}

func (l *SeasonLifecycle) ended(ctx context.Context, ev domain.SeasonEvent) error {
	err := l.seasons.SetActive(ctx, ev.SeasonID, false)
	if errors.Is(err, domain.ErrNotFound) {
		cfg, cerr := l.raffle.SeasonConfig(ctx, ev.SeasonID)
		if cerr != nil {
			return fmt.Errorf("lifecycle: season %d config: %w", ev.SeasonID, cerr)
		}
		err = l.seasons.Upsert(ctx, domain.Season{
			ID:                  ev.SeasonID,
			BondingCurveAddress: cfg.BondingCurveAddress,
			RaffleTokenAddress:  cfg.RaffleTokenAddress,
			RaffleAddress:       l.raffleAddress,
			IsActive:            false,
		})
	}
	if err != nil {
		return fmt.Errorf("lifecycle: deactivate season %d: %w", ev.SeasonID, err)
	}
	l.logger.InfoContext(ctx, "season ended", slog.Int64("season_id", ev.SeasonID))
	if l.onEnded != nil {
		l.onEnded(ev.SeasonID)
	}
	return nil
}
