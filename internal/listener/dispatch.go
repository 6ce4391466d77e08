package listener

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"
)

// Dispatch builds a Handler that decodes and handles logs one at a time. A
// log that fails to decode, returns an error, or panics is logged and skipped
// so the rest of the batch still runs and the cursor can advance. Only
// context cancellation fails the batch.
func Dispatch[T any](event string, decode func(types.Log) (T, error), handle func(context.Context, T) error, logger *slog.Logger) Handler {
	logger = logger.With(slog.String("event", event))
	return func(ctx context.Context, logs []types.Log) error {
		for _, l := range logs {
			if err := ctx.Err(); err != nil {
				return err
			}

			ev, err := decode(l)
			if err != nil {
				logger.WarnContext(ctx, "skipping undecodable log",
					slog.String("tx_hash", l.TxHash.Hex()),
					slog.Uint64("block", l.BlockNumber),
					slog.String("error", err.Error()),
				)
				continue
			}

			if err := safeHandle(ctx, handle, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.ErrorContext(ctx, "log handler failed",
					slog.String("tx_hash", l.TxHash.Hex()),
					slog.Uint64("block", l.BlockNumber),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	}
}

func safeHandle[T any](ctx context.Context, handle func(context.Context, T) error, ev T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener: handler panic: %v", r)
		}
	}()
	return handle(ctx, ev)
}
