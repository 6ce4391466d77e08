package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// ReconcileResult counts what one reconciliation run did.
type ReconcileResult struct {
	Inspected int
	Upserted  int
	Activated int
}

// SeasonReconciler heals the season registry from chain state and re-arms
// listeners for active seasons the process may have missed.
type SeasonReconciler struct {
	raffle        SeasonReader
	raffleAddress string
	seasons       domain.SeasonStore
	audit         domain.AuditStore
	logger        *slog.Logger
}

// NewSeasonReconciler creates the reconciler. audit may be nil.
func NewSeasonReconciler(raffle SeasonReader, raffleAddress string, seasons domain.SeasonStore, audit domain.AuditStore, logger *slog.Logger) *SeasonReconciler {
	return &SeasonReconciler{
		raffle:        raffle,
		raffleAddress: raffleAddress,
		seasons:       seasons,
		audit:         audit,
		logger:        logger.With(slog.String("component", "season_reconciler")),
	}
}

// ReconcileSeasonsFromChain walks every season id from 1 to the chain's
// current id. onSeasonActive runs for each active season, every time.
func (r *SeasonReconciler) ReconcileSeasonsFromChain(ctx context.Context, onSeasonActive SeasonActivator) (ReconcileResult, error) {
	var res ReconcileResult

	current, err := r.raffle.CurrentSeasonID(ctx)
	if err != nil {
		return res, fmt.Errorf("reconciler: current season: %w", err)
	}

	for id := int64(1); id <= current; id++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Inspected++

		cfg, err := r.raffle.SeasonConfig(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "season config read failed",
				slog.Int64("season_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		stored, err := r.seasons.Get(ctx, id)
		missing := errors.Is(err, domain.ErrNotFound)
		if err != nil && !missing {
			r.logger.WarnContext(ctx, "season lookup failed",
				slog.Int64("season_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}

		if missing || r.drifted(stored, cfg) {
			if err := r.seasons.Upsert(ctx, r.seasonFromChain(cfg)); err != nil {
				r.logger.ErrorContext(ctx, "season upsert failed",
					slog.Int64("season_id", id),
					slog.String("error", err.Error()),
				)
			} else {
				res.Upserted++
				r.logger.InfoContext(ctx, "season reconciled",
					slog.Int64("season_id", id),
					slog.Bool("was_missing", missing),
					slog.Bool("active", cfg.IsActive),
				)
			}
		}

		if cfg.IsActive && onSeasonActive != nil {
			if err := onSeasonActive(ctx, id, cfg.BondingCurveAddress, cfg.RaffleTokenAddress); err != nil {
				r.logger.ErrorContext(ctx, "season activation failed",
					slog.Int64("season_id", id),
					slog.String("error", err.Error()),
				)
				continue
			}
			res.Activated++
		}
	}

	r.logger.InfoContext(ctx, "season reconciliation complete",
		slog.Int("inspected", res.Inspected),
		slog.Int("upserted", res.Upserted),
		slog.Int("activated", res.Activated),
	)
	if r.audit != nil {
		if err := r.audit.Log(ctx, "season_reconcile", map[string]any{
			"current_season_id": current,
			"inspected":         res.Inspected,
			"upserted":          res.Upserted,
			"activated":         res.Activated,
		}); err != nil {
			r.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

func (r *SeasonReconciler) drifted(stored domain.Season, cfg domain.SeasonConfig) bool {
	return !stored.HasAddresses() ||
		!domain.SameAddress(stored.RaffleAddress, r.raffleAddress) ||
		!domain.SameAddress(stored.BondingCurveAddress, cfg.BondingCurveAddress) ||
		!domain.SameAddress(stored.RaffleTokenAddress, cfg.RaffleTokenAddress) ||
		stored.IsActive != cfg.IsActive
}

func (r *SeasonReconciler) seasonFromChain(cfg domain.SeasonConfig) domain.Season {
	return domain.Season{
		ID:                  cfg.SeasonID,
		BondingCurveAddress: cfg.BondingCurveAddress,
		RaffleTokenAddress:  cfg.RaffleTokenAddress,
		RaffleAddress:       r.raffleAddress,
		IsActive:            cfg.IsActive,
	}
}
