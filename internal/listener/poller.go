// Package listener turns contract event subscriptions into resumable,
// chunked streams of log batches backed by a durable block cursor.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/infofisync/internal/domain"
)

const (
	defaultInterval      = 3 * time.Second
	defaultMaxBlockRange = 2000
	rpcRateLimitKey      = "rpc:getLogs"
)

// LogSource fetches chain logs.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, address common.Address, topic common.Hash, from, to uint64) ([]types.Log, error)
}

// Handler processes one batch of logs. The cursor advances past the batch only
// when the handler returns nil.
type Handler func(ctx context.Context, logs []types.Log) error

// Config describes one (contract, event) subscription.
type Config struct {
	Key           string
	Address       string
	Topic         common.Hash
	Interval      time.Duration
	MaxBlockRange uint64
	// StartBlock is the first block scanned when no cursor exists yet.
	StartBlock uint64
}

// Key builds a listener key from an event name and contract address.
func Key(event, address string) string {
	return strings.ToLower(event) + ":" + strings.ToLower(address)
}

// Option configures a Poller.
type Option func(*Poller)

// WithRateLimiter throttles getLogs calls through a shared limiter allowing
// perSecond requests per second across every poller using it.
func WithRateLimiter(limiter domain.RateLimiter, perSecond int) Option {
	return func(p *Poller) {
		if limiter != nil && perSecond > 0 {
			p.limiter = limiter
			p.perSecond = perSecond
		}
	}
}

// Poller is a single listener: one timer loop, one cursor key, batches
// processed strictly one at a time.
type Poller struct {
	cfg       Config
	address   common.Address
	source    LogSource
	cursor    domain.CursorStore
	handler   Handler
	limiter   domain.RateLimiter
	perSecond int
	logger    *slog.Logger
}

// NewPoller validates cfg and builds a Poller. A missing contract address is
// reported as domain.ErrMissingContract so callers can skip just this
// listener.
func NewPoller(cfg Config, source LogSource, cursor domain.CursorStore, handler Handler, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if cfg.Key == "" {
		return nil, errors.New("listener: key is required")
	}
	if !common.IsHexAddress(cfg.Address) || common.HexToAddress(cfg.Address) == (common.Address{}) {
		return nil, fmt.Errorf("listener %s: address %q: %w", cfg.Key, cfg.Address, domain.ErrMissingContract)
	}
	if handler == nil {
		return nil, fmt.Errorf("listener %s: handler is required", cfg.Key)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = defaultMaxBlockRange
	}

	p := &Poller{
		cfg:     cfg,
		address: common.HexToAddress(cfg.Address),
		source:  source,
		cursor:  cursor,
		handler: handler,
		logger:  logger.With(slog.String("component", "listener"), slog.String("listener", cfg.Key)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Key returns the listener key.
func (p *Poller) Key() string { return p.cfg.Key }

// Tick runs one polling step: load cursor, fetch at most MaxBlockRange blocks
// of logs, hand them over, and persist the new cursor if the handler
// succeeded. Returned errors mean the range will be fetched again next tick.
func (p *Poller) Tick(ctx context.Context) error {
	last, err := p.cursor.Load(ctx, p.cfg.Key)
	if err != nil {
		p.logger.ErrorContext(ctx, "cursor load failed", slog.String("error", err.Error()))
		return fmt.Errorf("listener %s: load cursor: %w", p.cfg.Key, err)
	}

	from := last + 1
	if last == 0 && p.cfg.StartBlock > 0 {
		from = p.cfg.StartBlock
	}

	latest, err := p.source.BlockNumber(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "block number fetch failed", slog.String("error", err.Error()))
		return fmt.Errorf("listener %s: block number: %w", p.cfg.Key, err)
	}

	to := min(from+p.cfg.MaxBlockRange-1, latest)
	if from > to {
		return nil
	}

	if p.limiter != nil {
		allowed, err := p.limiter.Allow(ctx, rpcRateLimitKey, p.perSecond, time.Second)
		if err != nil {
			p.logger.WarnContext(ctx, "rate limiter unavailable, polling anyway", slog.String("error", err.Error()))
		} else if !allowed {
			p.logger.DebugContext(ctx, "rpc rate limit reached, skipping tick")
			return nil
		}
	}

	logs, err := p.source.GetLogs(ctx, p.address, p.cfg.Topic, from, to)
	if err != nil {
		p.logger.WarnContext(ctx, "get logs failed",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("listener %s: get logs: %w", p.cfg.Key, err)
	}

	if err := p.handler(ctx, logs); err != nil {
		p.logger.ErrorContext(ctx, "handler failed, range will be retried",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("logs", len(logs)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("listener %s: handler: %w", p.cfg.Key, err)
	}

	if err := p.cursor.Save(ctx, p.cfg.Key, to); err != nil {
		// The range is replayed next tick; consumers are idempotent.
		p.logger.ErrorContext(ctx, "cursor save failed",
			slog.Uint64("block", to),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if len(logs) > 0 {
		p.logger.InfoContext(ctx, "processed log batch",
			slog.Uint64("from", from),
			slog.Uint64("to", to),
			slog.Int("logs", len(logs)),
		)
	}
	return nil
}

// Start launches the polling loop in a goroutine and returns its handle. The
// first tick runs immediately.
func (p *Poller) Start(ctx context.Context) *Handle {
	h := newHandle(p.cfg.Key)
	go func() {
		defer close(h.done)

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		p.logger.InfoContext(ctx, "listener started",
			slog.String("address", p.address.Hex()),
			slog.Duration("interval", p.cfg.Interval),
			slog.Uint64("max_block_range", p.cfg.MaxBlockRange),
		)

		for {
			if h.stopped() || ctx.Err() != nil {
				p.logger.Info("listener stopped")
				return
			}
			_ = p.Tick(ctx)

			select {
			case <-ctx.Done():
				p.logger.Info("listener stopped")
				return
			case <-h.stop:
				p.logger.Info("listener stopped")
				return
			case <-ticker.C:
			}
		}
	}()
	return h
}

// Handle stops a running Poller. Stop prevents future ticks but does not
// interrupt a tick already in progress.
type Handle struct {
	key  string
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newHandle(key string) *Handle {
	return &Handle{
		key:  key,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Key returns the listener key this handle controls.
func (h *Handle) Key() string { return h.key }

// Stop is safe to call more than once.
func (h *Handle) Stop() {
	h.once.Do(func() { close(h.stop) })
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) stopped() bool {
	select {
	case <-h.stop:
		return true
	default:
		return false
	}
}
