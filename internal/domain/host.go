package domain

import "context"

// TradingHost is the control surface of the guarded trading process. The
// recovery orchestrator and the shutdown handler act through it; order
// cancellation in particular is executed by the host on this layer's behalf.
type TradingHost interface {
	// HaltTrading flips the host's trading-state flag so no new orders are
	// placed. It does not cancel anything by itself.
	HaltTrading(ctx context.Context) error

	// CancelOrder cancels one pending order.
	CancelOrder(ctx context.Context, order OrderInfo) error

	// Stop disconnects and disposes the host's venue connections.
	Stop(ctx context.Context) error

	// RequestStop asks the process to begin shutting down. It must not
	// block; the request is served asynchronously.
	RequestStop(reason string)
}

// RecoveryHooks are the host's override points invoked during recovery.
// Implementations may panic; the orchestrator contains every hook call and a
// panic never aborts the recovery sequence. A nil hooks value disables all
// three.
type RecoveryHooks interface {
	// OnPositionRecovered is called once per recovered position.
	OnPositionRecovered(pos PositionSnapshot)

	// OnHistoricalData is called once per warmup bar, oldest first.
	OnHistoricalData(bar Bar)

	// OnWarmupComplete is called after the last warmup bar, when trading
	// is about to be ungated.
	OnWarmupComplete()
}
