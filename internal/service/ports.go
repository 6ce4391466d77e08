// Package service holds the event-processing pipeline: probability
// recomputation, market creation and materialization, oracle pushes with
// alerting, season reconciliation and the odds history.
package service

import (
	"context"
	"time"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

// SeasonReader reads season state from the raffle contract.
type SeasonReader interface {
	CurrentSeasonID(ctx context.Context) (int64, error)
	SeasonConfig(ctx context.Context, seasonID int64) (domain.SeasonConfig, error)
	Participants(ctx context.Context, seasonID int64) ([]string, error)
}

// CurveReader reads ticket balances from a season's bonding curve.
type CurveReader interface {
	PlayerTickets(ctx context.Context, curve, player string) (int64, error)
	TotalSupply(ctx context.Context, curve string) (int64, error)
	MaxSupply(ctx context.Context, curve string) (int64, error)
}

// MarketRelay submits market-creation transactions through the gasless
// relayer and returns the transaction hash.
type MarketRelay interface {
	CreateMarket(ctx context.Context, factory string, seasonID int64, player string, oldTickets, newTickets, totalTickets int64) (string, error)
}

// OracleRelay submits oracle writes.
type OracleRelay interface {
	UpdateRaffleProbability(ctx context.Context, oracle, market string, bps int) (string, error)
	UpdateMarketSentiment(ctx context.Context, oracle, market string, bps int) (string, error)
}

// ReceiptWaiter blocks until a transaction is mined. A reverted transaction
// returns domain.ErrReverted.
type ReceiptWaiter interface {
	WaitForReceipt(ctx context.Context, txHash string) error
}

// BlockClock resolves block timestamps.
type BlockClock interface {
	BlockTime(ctx context.Context, block uint64) (time.Time, error)
}

// AlertSink delivers admin alerts. notify.Notifier satisfies it.
type AlertSink interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SeasonActivator arms the per-season listener for an active season. It must
// be idempotent.
type SeasonActivator func(ctx context.Context, seasonID int64, curve, token string) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func blockTimeOrNow(ctx context.Context, clock BlockClock, block uint64) time.Time {
	if clock != nil {
		if ts, err := clock.BlockTime(ctx, block); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}
