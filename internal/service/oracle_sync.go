package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const (
	opRaffleProbability = "updateRaffleProbability"
	opMarketSentiment   = "updateMarketSentiment"
)

// OracleResult is the outcome of one oracle push, including every retry.
type OracleResult struct {
	Success  bool
	Attempts int
	Hash     string
	Err      error
}

// FailureRecorder receives the final outcome of each oracle push.
// AdminAlertService satisfies it.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, address, operation string, cause error, attempts int) bool
	RecordSuccess(ctx context.Context, address string) bool
}

// OracleSyncService pushes probabilities and sentiment to the on-chain
// oracle, retrying each call in place.
type OracleSyncService struct {
	relay      OracleRelay
	receipts   ReceiptWaiter
	oracle     string
	maxRetries int
	retryDelay time.Duration
	alerts     FailureRecorder
	logger     *slog.Logger
}

// NewOracleSyncService creates the service. alerts may be nil.
func NewOracleSyncService(
	relay OracleRelay,
	receipts ReceiptWaiter,
	oracle string,
	maxRetries int,
	retryDelay time.Duration,
	alerts FailureRecorder,
	logger *slog.Logger,
) *OracleSyncService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &OracleSyncService{
		relay:      relay,
		receipts:   receipts,
		oracle:     oracle,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		alerts:     alerts,
		logger:     logger.With(slog.String("component", "oracle_sync")),
	}
}

// UpdateRaffleProbability pushes a raffle probability for one market.
func (s *OracleSyncService) UpdateRaffleProbability(ctx context.Context, market string, bps int) OracleResult {
	return s.push(ctx, opRaffleProbability, market, bps, s.relay.UpdateRaffleProbability)
}

// UpdateMarketSentiment pushes a sentiment value for one market.
func (s *OracleSyncService) UpdateMarketSentiment(ctx context.Context, market string, bps int) OracleResult {
	return s.push(ctx, opMarketSentiment, market, bps, s.relay.UpdateMarketSentiment)
}

type oracleWrite func(ctx context.Context, oracle, market string, bps int) (string, error)

func (s *OracleSyncService) push(ctx context.Context, op, market string, bps int, write oracleWrite) OracleResult {
	if s.oracle == "" {
		return OracleResult{Err: fmt.Errorf("oracle: %s: %w", op, domain.ErrMissingContract)}
	}
	bps = domain.ClampBps(bps)

	var res OracleResult
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		res.Attempts = attempt

		hash, err := write(ctx, s.oracle, market, bps)
		if err == nil {
			res.Hash = hash
			err = s.receipts.WaitForReceipt(ctx, hash)
		}
		if err == nil {
			res.Success = true
			res.Err = nil
			break
		}

		res.Err = err
		s.logger.WarnContext(ctx, "oracle write attempt failed",
			slog.String("operation", op),
			slog.String("market", market),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt < s.maxRetries {
			if sleepCtx(ctx, s.retryDelay) != nil {
				break
			}
		}
	}

	if res.Success {
		s.logger.DebugContext(ctx, "oracle updated",
			slog.String("operation", op),
			slog.String("market", market),
			slog.Int("bps", bps),
			slog.Int("attempts", res.Attempts),
			slog.String("tx_hash", res.Hash),
		)
		if s.alerts != nil {
			s.alerts.RecordSuccess(ctx, market)
		}
		return res
	}

	res.Err = fmt.Errorf("oracle: %s %s: %w", op, market, res.Err)
	if s.alerts != nil {
		s.alerts.RecordFailure(ctx, market, op, res.Err, res.Attempts)
	}
	return res
}
