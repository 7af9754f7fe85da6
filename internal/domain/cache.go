package domain

import (
	"context"
	"time"
)

// PriceFeedCache is the oracle back-end: the latest feed record per reference,
// written by an external price feeder and read by the oracle adapter. A
// record carries the raw mantissa, decimal exponent, and publish timestamp;
// freshness policy lives in the adapter, not here.
type PriceFeedCache interface {
	SetFeed(ctx context.Context, feedRef string, quote PriceQuote) error
	GetFeed(ctx context.Context, feedRef string) (PriceQuote, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. Settlement callbacks and
// the OrderPlaced event travel over it, so external observers never poll.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
