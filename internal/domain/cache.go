package domain

import (
	"context"
	"time"
)

// RateLimiter caps how often a keyed action may run inside a sliding window.
// The RPC poller shares one key across all listeners; the HTTP API keys by
// client address.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager hands out TTL-bounded locks shared between engine replicas.
// Acquire fails with ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry of a durable lifecycle stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries market lifecycle events and live odds points: fire and
// forget pub/sub for connected clients plus an append-only stream that late
// readers can replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}
