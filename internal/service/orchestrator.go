package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// SourceThresholdCrossing tags failed attempts triggered by a player
// crossing the 1% threshold.
const SourceThresholdCrossing = "threshold-crossing"

// MarketRequest describes the position change that triggered a market.
type MarketRequest struct {
	SeasonID       int64
	Player         string
	OldTickets     int64
	NewTickets     int64
	TotalTickets   int64
	ProbabilityBps int
}

// CreationResult is the outcome of one createMarket call.
type CreationResult struct {
	Success  bool
	Skipped  bool
	Hash     string
	Err      error
	Attempts int
}

// OrchestratorConfig tunes submission retries.
type OrchestratorConfig struct {
	MaxAttempts    int
	RetryDelay     time.Duration
	ReceiptTimeout time.Duration
}

// MarketCreationOrchestrator turns a threshold crossing into an on-chain
// WINNER_PREDICTION market through the gasless relayer.
type MarketCreationOrchestrator struct {
	markets     domain.MarketStore
	failures    domain.FailedAttemptStore
	relay       MarketRelay
	receipts    ReceiptWaiter
	broadcaster LifecycleBroadcaster
	cfg         OrchestratorConfig
	logger      *slog.Logger
}

// NewMarketCreationOrchestrator creates the orchestrator.
func NewMarketCreationOrchestrator(
	markets domain.MarketStore,
	failures domain.FailedAttemptStore,
	relay MarketRelay,
	receipts ReceiptWaiter,
	broadcaster LifecycleBroadcaster,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *MarketCreationOrchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	return &MarketCreationOrchestrator{
		markets:     markets,
		failures:    failures,
		relay:       relay,
		receipts:    receipts,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "market_orchestrator")),
	}
}

// CreateMarket submits a market-creation transaction unless the market
// already exists. Terminal failures are persisted for manual retry.
func (o *MarketCreationOrchestrator) CreateMarket(ctx context.Context, factory string, req MarketRequest) CreationResult {
	log := o.logger.With(
		slog.Int64("season_id", req.SeasonID),
		slog.String("player", req.Player),
	)

	exists, err := o.markets.HasMarket(ctx, req.SeasonID, req.Player, domain.WinnerPrediction)
	switch {
	case err != nil:
		// The factory and the materializer still dedup, so keep going.
		log.WarnContext(ctx, "market existence check failed, submitting anyway", slog.String("error", err.Error()))
	case exists:
		log.InfoContext(ctx, "market already exists, skipping creation")
		return CreationResult{Success: true, Skipped: true}
	}

	o.broadcast(ctx, domain.LifecycleStarted, req, "", "", 0)

	if factory == "" {
		res := CreationResult{Err: fmt.Errorf("orchestrator: create market: factory: %w", domain.ErrMissingContract)}
		o.fail(ctx, log, req, res)
		return res
	}

	var res CreationResult
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		res.Attempts = attempt

		res.Hash = ""
		hash, err := o.relay.CreateMarket(ctx, factory, req.SeasonID, req.Player, req.OldTickets, req.NewTickets, req.TotalTickets)
		if err == nil {
			res.Hash = hash
			err = o.waitReceipt(ctx, hash)
		}
		if err == nil {
			res.Success = true
			res.Err = nil
			break
		}

		res.Err = err
		log.WarnContext(ctx, "market creation attempt failed",
			slog.Int("attempt", attempt),
			slog.String("tx_hash", res.Hash),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrReverted) || ctx.Err() != nil {
			break
		}
		// A timed out receipt wait leaves the transaction pending; resubmitting
		// would send a second createMarket with a fresh nonce.
		if res.Hash != "" && errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt < o.cfg.MaxAttempts {
			if sleepCtx(ctx, o.cfg.RetryDelay) != nil {
				break
			}
		}
	}

	if !res.Success {
		res.Err = fmt.Errorf("orchestrator: create market: %w", res.Err)
		o.fail(ctx, log, req, res)
		return res
	}

	log.InfoContext(ctx, "market creation confirmed",
		slog.String("tx_hash", res.Hash),
		slog.Int("attempts", res.Attempts),
	)
	o.broadcast(ctx, domain.LifecycleConfirmed, req, res.Hash, "", res.Attempts)
	return res
}

func (o *MarketCreationOrchestrator) waitReceipt(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ReceiptTimeout)
	defer cancel()
	return o.receipts.WaitForReceipt(ctx, hash)
}

func (o *MarketCreationOrchestrator) fail(ctx context.Context, log *slog.Logger, req MarketRequest, res CreationResult) {
	log.ErrorContext(ctx, "market creation failed",
		slog.Int("attempts", res.Attempts),
		slog.String("error", res.Err.Error()),
	)
	o.broadcast(ctx, domain.LifecycleFailed, req, res.Hash, res.Err.Error(), res.Attempts)

	attempt := domain.FailedMarketAttempt{
		ID:            uuid.NewString(),
		SeasonID:      req.SeasonID,
		PlayerAddress: req.Player,
		Type:          domain.WinnerPrediction,
		Error:         res.Err.Error(),
		Attempts:      res.Attempts,
		Source:        SourceThresholdCrossing,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.failures.Log(ctx, attempt); err != nil {
		log.ErrorContext(ctx, "failed market attempt could not be persisted",
			slog.String("attempt_id", attempt.ID),
			slog.Int("attempts", attempt.Attempts),
			slog.String("cause", attempt.Error),
			slog.String("error", err.Error()),
		)
	}
}

func (o *MarketCreationOrchestrator) broadcast(ctx context.Context, stage string, req MarketRequest, hash, errMsg string, attempts int) {
	if o.broadcaster == nil {
		return
	}
	o.broadcaster.Broadcast(ctx, domain.MarketLifecycle{
		Stage:          stage,
		SeasonID:       req.SeasonID,
		Player:         req.Player,
		MarketType:     domain.WinnerPrediction.String(),
		ProbabilityBps: req.ProbabilityBps,
		TxHash:         hash,
		Error:          errMsg,
		Attempts:       attempts,
	})
}
