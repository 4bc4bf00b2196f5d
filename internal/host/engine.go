// Package host adapts the engine admin gateway to the collaborator
// interfaces the recovery orchestrator and shutdown handler act through.
package host

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// emaPeriod is the smoothing period for the warmup EMA seed.
const emaPeriod = 20

// EngineGateway is the slice of the gateway client the host drives.
type EngineGateway interface {
	HaltTrading(ctx context.Context) error
	CancelOrder(ctx context.Context, orderID string) error
	Stop(ctx context.Context) error
}

// EngineHost implements domain.TradingHost by delegating control calls to
// the engine admin gateway, and domain.RecoveryHooks with a minimal warmup
// tracker that seeds an EMA from the replayed bars. RequestStop feeds the
// app's stop channel instead of touching the engine.
type EngineHost struct {
	gateway EngineGateway
	logger  *slog.Logger
	stopCh  chan string

	mu       sync.Mutex
	restored int
	bars     int
	ema      float64
	ready    bool
}

// NewEngineHost creates an EngineHost over the given gateway.
func NewEngineHost(gw EngineGateway, logger *slog.Logger) *EngineHost {
	return &EngineHost{
		gateway: gw,
		logger:  logger,
		stopCh:  make(chan string, 1),
	}
}

// StopRequests returns the channel RequestStop feeds. The app layer selects
// on it alongside OS signals.
func (h *EngineHost) StopRequests() <-chan string {
	return h.stopCh
}

// HaltTrading flips the engine's trading-state flag via the gateway.
func (h *EngineHost) HaltTrading(ctx context.Context) error {
	return h.gateway.HaltTrading(ctx)
}

// CancelOrder cancels one pending order via the gateway.
func (h *EngineHost) CancelOrder(ctx context.Context, order domain.OrderInfo) error {
	return h.gateway.CancelOrder(ctx, order.OrderID)
}

// Stop tells the engine to tear down its venue connections.
func (h *EngineHost) Stop(ctx context.Context) error {
	return h.gateway.Stop(ctx)
}

// RequestStop asks the process to begin shutting down. Non-blocking; only
// the first reason is kept, later ones are dropped.
func (h *EngineHost) RequestStop(reason string) {
	select {
	case h.stopCh <- reason:
	default:
	}
}

// OnPositionRecovered tracks and logs one restored position.
func (h *EngineHost) OnPositionRecovered(pos domain.PositionSnapshot) {
	h.mu.Lock()
	h.restored++
	h.mu.Unlock()

	h.logger.Info("host: position restored",
		slog.String("instrument_id", pos.InstrumentID),
		slog.String("side", string(pos.Side)),
		slog.Float64("quantity", pos.Quantity),
	)
}

// OnHistoricalData folds one warmup bar into the EMA seed. Bars arrive
// oldest first.
func (h *EngineHost) OnHistoricalData(bar domain.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.bars++
	if h.bars == 1 {
		h.ema = bar.Close
		return
	}
	k := 2.0 / (float64(emaPeriod) + 1)
	h.ema = bar.Close*k + h.ema*(1-k)
}

// OnWarmupComplete marks the engine ready for trading.
func (h *EngineHost) OnWarmupComplete() {
	h.mu.Lock()
	h.ready = true
	bars := h.bars
	ema := h.ema
	h.mu.Unlock()

	h.logger.Info("host: indicator warmup complete",
		slog.Int("bars", bars),
		slog.Float64("ema_seed", ema),
	)
}

// Ready reports whether the warmup hook has completed.
func (h *EngineHost) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// WarmupState returns the tracker's current bar count and EMA seed.
func (h *EngineHost) WarmupState() (bars int, ema float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bars, h.ema
}

// Compile-time interface checks.
var (
	_ domain.TradingHost   = (*EngineHost)(nil)
	_ domain.RecoveryHooks = (*EngineHost)(nil)
)
