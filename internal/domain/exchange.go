package domain

import "context"

// Exchange is the authoritative external source of positions and balances.
// Reconciliation always favors its view over the cache. Implementations must
// query the live authority; falling back to the cache is a degraded mode the
// provider logs loudly.
type Exchange interface {
	Positions(ctx context.Context, traderID string) ([]PositionSnapshot, error)
	Balances(ctx context.Context, traderID string) ([]Balance, error)
}

// MarketData serves historical candles for indicator warmup.
type MarketData interface {
	Candles(ctx context.Context, instrumentID string, fromNs, toNs int64) ([]Bar, error)
}
