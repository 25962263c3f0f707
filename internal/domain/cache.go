package domain

import (
	"context"
	"time"
)

// PriceCache provides fast cross-process access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, key SymbolKey, price float64, ts time.Time) error
	GetPrice(ctx context.Context, key SymbolKey) (float64, time.Time, error)
	GetPrices(ctx context.Context, keys []SymbolKey) (map[SymbolKey]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking. Hold keeps renewing the lock
// until released.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel names.
const (
	ChannelPrices      = "prices"
	ChannelSettlements = "ch:settlements"
	StreamSettlements  = "stream:settlements"
)

// MarkerChannel is the pub/sub channel carrying one user's chart markers.
func MarkerChannel(userID string) string {
	return "ch:markers:" + userID
}
