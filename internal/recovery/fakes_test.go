package recovery

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecoveryConfig(t *testing.T) config.RecoveryConfig {
	t.Helper()
	return config.RecoveryConfig{
		TraderID:                    "trader-001",
		InstrumentID:                "BTC-USD-PERP",
		Enabled:                     true,
		WarmupLookbackDays:          7,
		StartupDelaySecs:            10,
		MaxRecoveryTimeSecs:         60,
		StateDir:                    t.TempDir(),
		SignificantBalanceChangePct: 1.0,
	}
}

func openPosition(instrumentID string, side domain.Side, qty, price float64) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		InstrumentID:  instrumentID,
		Side:          side,
		Quantity:      qty,
		AvgEntryPrice: price,
		TsOpened:      1_700_000_000_000_000_000,
		TsLastUpdated: 1_700_000_100_000_000_000,
		IsOpen:        true,
	}
}

func stopOrder(instrumentID string) domain.OrderInfo {
	return domain.OrderInfo{
		OrderID:      "ord-stop-" + instrumentID,
		InstrumentID: instrumentID,
		OrderType:    domain.OrderTypeStopMarket,
		Side:         domain.SideShort,
		Quantity:     1,
		Price:        40_000,
		IsPending:    true,
	}
}

// fakeClock hands out a controllable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NowNanos() int64 {
	return c.Now().UnixNano()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeCache is an in-memory TradingCache with no event history. Wrap it in
// eventCache to add the EventReplaySource capability.
type fakeCache struct {
	positions   []domain.PositionSnapshot
	orders      []domain.OrderInfo
	balances    []domain.Balance
	instruments map[string]domain.Instrument

	positionsErr error
	ordersErr    error
}

func (c *fakeCache) Positions(ctx context.Context, traderID, instrumentID string) ([]domain.PositionSnapshot, error) {
	if c.positionsErr != nil {
		return nil, c.positionsErr
	}
	if instrumentID == "" {
		return c.positions, nil
	}
	var out []domain.PositionSnapshot
	for _, pos := range c.positions {
		if pos.InstrumentID == instrumentID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (c *fakeCache) OpenOrders(ctx context.Context, traderID, instrumentID string) ([]domain.OrderInfo, error) {
	if c.ordersErr != nil {
		return nil, c.ordersErr
	}
	if instrumentID == "" {
		return c.orders, nil
	}
	var out []domain.OrderInfo
	for _, ord := range c.orders {
		if ord.InstrumentID == instrumentID {
			out = append(out, ord)
		}
	}
	return out, nil
}

func (c *fakeCache) Balances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	return c.balances, nil
}

func (c *fakeCache) Instrument(ctx context.Context, instrumentID string) (domain.Instrument, error) {
	inst, ok := c.instruments[instrumentID]
	if !ok {
		return domain.Instrument{}, domain.ErrNotFound
	}
	return inst, nil
}

// eventCache adds recorded event history to fakeCache.
type eventCache struct {
	fakeCache

	events    []domain.PositionEvent
	eventsErr error
}

func (c *eventCache) PositionEvents(ctx context.Context, traderID string) ([]domain.PositionEvent, error) {
	if c.eventsErr != nil {
		return nil, c.eventsErr
	}
	return c.events, nil
}

// fakeExchange is a scripted authoritative source.
type fakeExchange struct {
	positions []domain.PositionSnapshot
	balances  []domain.Balance
	err       error
}

func (e *fakeExchange) Positions(ctx context.Context, traderID string) ([]domain.PositionSnapshot, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.positions, nil
}

func (e *fakeExchange) Balances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.balances, nil
}

// fakeMarket serves scripted warmup candles, optionally after a delay so
// tests can race the watchdog against a slow warmup.
type fakeMarket struct {
	bars  []domain.Bar
	err   error
	delay time.Duration
}

func (m *fakeMarket) Candles(ctx context.Context, instrumentID string, fromNs, toNs int64) ([]domain.Bar, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.bars, nil
}

// stubHost records every control-surface call.
type stubHost struct {
	mu          sync.Mutex
	halted      bool
	cancelled   []domain.OrderInfo
	stopped     bool
	stopReasons []string
	cancelErr   error
}

func (h *stubHost) HaltTrading(ctx context.Context) error {
	h.mu.Lock()
	h.halted = true
	h.mu.Unlock()
	return nil
}

func (h *stubHost) CancelOrder(ctx context.Context, order domain.OrderInfo) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelErr != nil {
		return h.cancelErr
	}
	h.cancelled = append(h.cancelled, order)
	return nil
}

func (h *stubHost) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	return nil
}

func (h *stubHost) RequestStop(reason string) {
	h.mu.Lock()
	h.stopReasons = append(h.stopReasons, reason)
	h.mu.Unlock()
}

func (h *stubHost) requestedStops() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.stopReasons))
	copy(out, h.stopReasons)
	return out
}

// recorderHooks records hook invocations and can be armed to panic.
type recorderHooks struct {
	mu        sync.Mutex
	positions []domain.PositionSnapshot
	bars      []domain.Bar
	completed int

	panicOnPosition bool
	panicOnBar      bool
}

func (h *recorderHooks) OnPositionRecovered(pos domain.PositionSnapshot) {
	if h.panicOnPosition {
		panic("position hook exploded")
	}
	h.mu.Lock()
	h.positions = append(h.positions, pos)
	h.mu.Unlock()
}

func (h *recorderHooks) OnHistoricalData(bar domain.Bar) {
	if h.panicOnBar {
		panic("bar hook exploded")
	}
	h.mu.Lock()
	h.bars = append(h.bars, bar)
	h.mu.Unlock()
}

func (h *recorderHooks) OnWarmupComplete() {
	h.mu.Lock()
	h.completed++
	h.mu.Unlock()
}

func (h *recorderHooks) recoveredPositions() []domain.PositionSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]domain.PositionSnapshot, len(h.positions))
	copy(out, h.positions)
	return out
}

func (h *recorderHooks) barTimes() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, 0, len(h.bars))
	for _, bar := range h.bars {
		out = append(out, bar.TsEvent)
	}
	return out
}

func (h *recorderHooks) completions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed
}

// eventRecorder collects emitted recovery events.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.RecoveryEvent
}

func (r *eventRecorder) record(evt domain.RecoveryEvent) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []domain.RecoveryEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RecoveryEventType, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

func (r *eventRecorder) countOf(t domain.RecoveryEventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) firstOf(t domain.RecoveryEventType) (domain.RecoveryEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range r.events {
		if evt.Type == t {
			return evt, true
		}
	}
	return domain.RecoveryEvent{}, false
}
