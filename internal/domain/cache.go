package domain

import (
	"context"
	"time"
)

// TradingCache is the local view of the guarded process's trading state.
// Recovery reads it; the host process writes it. An empty instrumentID means
// "all instruments". The cache is read-only from this layer's perspective.
type TradingCache interface {
	// Positions returns every cached position snapshot, open and closed;
	// filtering is the caller's responsibility.
	Positions(ctx context.Context, traderID, instrumentID string) ([]PositionSnapshot, error)

	// OpenOrders returns the currently open orders.
	OpenOrders(ctx context.Context, traderID, instrumentID string) ([]OrderInfo, error)

	// Balances returns the cached account balances.
	Balances(ctx context.Context, traderID string) ([]Balance, error)

	// Instrument resolves instrument metadata, returning ErrNotFound when
	// the instrument is unknown.
	Instrument(ctx context.Context, instrumentID string) (Instrument, error)
}

// EventReplaySource is the optional capability of a cache to return the
// recorded position-event history. Replay degrades to an empty result with a
// warning when the cache does not implement it.
type EventReplaySource interface {
	PositionEvents(ctx context.Context, traderID string) ([]PositionEvent, error)
}

// LockManager provides distributed locking, used to ensure a single recovery
// runs per trader at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams. The emitter's
// milestone events travel over it to the ops WebSocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
