package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShutdownConfig() config.ShutdownConfig {
	return config.ShutdownConfig{
		TimeoutSecs:      5,
		CancelOrders:     true,
		VerifyStopLosses: true,
		FlushCache:       true,
		LogLevel:         "INFO",
	}
}

func pendingOrder(id, instrumentID string) domain.OrderInfo {
	return domain.OrderInfo{
		OrderID:      id,
		InstrumentID: instrumentID,
		OrderType:    domain.OrderTypeLimit,
		Side:         domain.SideLong,
		Quantity:     1,
		Price:        100,
		IsPending:    true,
	}
}

func stopOrderFor(instrumentID string) domain.OrderInfo {
	return domain.OrderInfo{
		OrderID:      "stop-" + instrumentID,
		InstrumentID: instrumentID,
		OrderType:    domain.OrderTypeStopMarket,
		Side:         domain.SideShort,
		Quantity:     1,
		Price:        90,
		IsPending:    true,
	}
}

func openPos(instrumentID string) domain.PositionSnapshot {
	return domain.PositionSnapshot{
		InstrumentID:  instrumentID,
		Side:          domain.SideLong,
		Quantity:      2,
		AvgEntryPrice: 100,
		IsOpen:        true,
	}
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time  { return c.now }
func (c fixedClock) NowNanos() int64 { return c.now.UnixNano() }

type stubCache struct {
	positions    []domain.PositionSnapshot
	orders       []domain.OrderInfo
	positionsErr error
	ordersErr    error
}

func (c *stubCache) Positions(ctx context.Context, traderID, instrumentID string) ([]domain.PositionSnapshot, error) {
	return c.positions, c.positionsErr
}

func (c *stubCache) OpenOrders(ctx context.Context, traderID, instrumentID string) ([]domain.OrderInfo, error) {
	return c.orders, c.ordersErr
}

func (c *stubCache) Balances(ctx context.Context, traderID string) ([]domain.Balance, error) {
	return nil, nil
}

func (c *stubCache) Instrument(ctx context.Context, instrumentID string) (domain.Instrument, error) {
	return domain.Instrument{}, domain.ErrNotFound
}

type seqHost struct {
	mu         sync.Mutex
	calls      []string
	cancelled  []string
	haltErr    error
	stopErr    error
	failOrders map[string]bool
	slowStop   time.Duration
}

func (h *seqHost) HaltTrading(ctx context.Context) error {
	h.record("halt")
	return h.haltErr
}

func (h *seqHost) CancelOrder(ctx context.Context, order domain.OrderInfo) error {
	h.record("cancel:" + order.OrderID)
	if h.failOrders[order.OrderID] {
		return errors.New("cancel refused")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancelled = append(h.cancelled, order.OrderID)
	return nil
}

func (h *seqHost) Stop(ctx context.Context) error {
	h.record("stop")
	if h.slowStop > 0 {
		select {
		case <-time.After(h.slowStop):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.stopErr
}

func (h *seqHost) RequestStop(reason string) {}

func (h *seqHost) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *seqHost) callLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *seqHost) cancelledIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.cancelled...)
}

type stubJournal struct {
	mu      sync.Mutex
	reports []domain.ShutdownReport
	traders []string
	err     error
}

func (j *stubJournal) RecordAttempt(ctx context.Context, attempt domain.RecoveryAttempt) error {
	return nil
}

func (j *stubJournal) RecordEvent(ctx context.Context, event domain.RecoveryEvent) error {
	return nil
}

func (j *stubJournal) RecordShutdown(ctx context.Context, traderID string, report domain.ShutdownReport) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.traders = append(j.traders, traderID)
	j.reports = append(j.reports, report)
	return nil
}

func (j *stubJournal) ListAttempts(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryAttempt, error) {
	return nil, nil
}

func (j *stubJournal) ListEvents(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryEvent, error) {
	return nil, nil
}

func (j *stubJournal) shutdowns() []domain.ShutdownReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.ShutdownReport(nil), j.reports...)
}

type stubNotifier struct {
	mu     sync.Mutex
	events []string
	bodies []string
}

func (n *stubNotifier) Notify(ctx context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.bodies = append(n.bodies, message)
	return nil
}

func (n *stubNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type stubRecorder struct {
	mu        sync.Mutex
	durations []float64
	cancelled int
}

func (r *stubRecorder) ObserveShutdownDuration(seconds float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations = append(r.durations, seconds)
}

func (r *stubRecorder) AddOrdersCancelled(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled += n
}

type handlerSetup struct {
	handler  *Handler
	cache    *stubCache
	host     *seqHost
	journal  *stubJournal
	notifier *stubNotifier
	metrics  *stubRecorder

	mu    sync.Mutex
	exits []int
}

func newHandlerSetup(t *testing.T, cfg config.ShutdownConfig, cache *stubCache, host *seqHost) *handlerSetup {
	t.Helper()
	s := &handlerSetup{
		cache:    cache,
		host:     host,
		journal:  &stubJournal{},
		notifier: &stubNotifier{},
		metrics:  &stubRecorder{},
	}
	clock := fixedClock{now: time.Unix(1_700_000_000, 0).UTC()}
	s.handler = NewHandler(cfg, "trader-001", cache, host, s.journal, s.notifier, s.metrics, clock, testLogger())
	s.handler.exit = func(code int) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.exits = append(s.exits, code)
	}
	s.handler.settle = 10 * time.Millisecond
	return s
}

func (s *handlerSetup) exitCodes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.exits...)
}

func TestTriggerRunsOrderedSequence(t *testing.T) {
	cache := &stubCache{
		positions: []domain.PositionSnapshot{openPos("BTC-USD-PERP")},
		orders:    []domain.OrderInfo{pendingOrder("ord-1", "BTC-USD-PERP"), stopOrderFor("BTC-USD-PERP")},
	}
	host := &seqHost{}
	s := newHandlerSetup(t, testShutdownConfig(), cache, host)

	result := s.handler.Trigger(context.Background(), domain.ShutdownSigterm)

	assert.Equal(t, Completed, result)
	assert.Equal(t, []int{0}, s.exitCodes())
	assert.Equal(t, "terminated", s.handler.State())
	assert.Equal(t, []string{"halt", "cancel:ord-1", "cancel:stop-BTC-USD-PERP", "stop"}, host.callLog())

	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	report := reports[0]
	assert.Equal(t, domain.ShutdownSigterm, report.Reason)
	assert.Equal(t, 2, report.OrdersCancelled)
	assert.Equal(t, 0, report.UnprotectedPositions)
	assert.Equal(t, 0, report.ExitCode)
	assert.False(t, report.TimedOut)
	assert.Equal(t, int64(1_700_000_000_000_000_000), report.TsStarted)
	assert.Equal(t, []string{"trader-001"}, s.journal.traders)

	assert.Equal(t, []string{"shutdown.completed"}, s.notifier.sent())
	assert.Contains(t, s.notifier.bodies[0], "reason=sigterm")
	assert.Equal(t, 2, s.metrics.cancelled)
	assert.Len(t, s.metrics.durations, 1)
}

func TestTriggerDuplicateReturnsAlreadyRunning(t *testing.T) {
	s := newHandlerSetup(t, testShutdownConfig(), &stubCache{}, &seqHost{})

	require.Equal(t, Completed, s.handler.Trigger(context.Background(), domain.ShutdownManual))
	assert.Equal(t, AlreadyRunning, s.handler.Trigger(context.Background(), domain.ShutdownManual))

	assert.Equal(t, []int{0}, s.exitCodes())
	assert.Len(t, s.journal.shutdowns(), 1)
}

func TestTriggerConcurrentRunsOnce(t *testing.T) {
	cache := &stubCache{orders: []domain.OrderInfo{pendingOrder("ord-1", "BTC-USD-PERP")}}
	host := &seqHost{slowStop: 50 * time.Millisecond}
	s := newHandlerSetup(t, testShutdownConfig(), cache, host)

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- s.handler.Trigger(context.Background(), domain.ShutdownSigint)
		}()
	}

	ran, skipped := 0, 0
	for i := 0; i < 2; i++ {
		switch <-results {
		case Completed:
			ran++
		case AlreadyRunning:
			skipped++
		}
	}
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []int{0}, s.exitCodes())

	cancels := 0
	for _, call := range host.callLog() {
		if call == "cancel:ord-1" {
			cancels++
		}
	}
	assert.Equal(t, 1, cancels)
}

func TestCancelOrdersSkipsNonPendingAndFailures(t *testing.T) {
	filled := pendingOrder("ord-2", "BTC-USD-PERP")
	filled.IsPending = false
	cache := &stubCache{
		orders: []domain.OrderInfo{
			pendingOrder("ord-1", "BTC-USD-PERP"),
			filled,
			pendingOrder("ord-3", "BTC-USD-PERP"),
		},
	}
	host := &seqHost{failOrders: map[string]bool{"ord-3": true}}
	s := newHandlerSetup(t, testShutdownConfig(), cache, host)

	result := s.handler.Trigger(context.Background(), domain.ShutdownManual)

	assert.Equal(t, Completed, result)
	assert.Equal(t, []int{0}, s.exitCodes())
	assert.Equal(t, []string{"ord-1"}, host.cancelledIDs())
	assert.Equal(t, []string{"halt", "cancel:ord-1", "cancel:ord-3", "stop"}, host.callLog())

	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].OrdersCancelled)
}

func TestVerifyStopLossesCountsUnprotected(t *testing.T) {
	closed := openPos("SOL-USD-PERP")
	closed.IsOpen = false
	cfg := testShutdownConfig()
	cfg.CancelOrders = false
	cache := &stubCache{
		positions: []domain.PositionSnapshot{openPos("BTC-USD-PERP"), openPos("ETH-USD-PERP"), closed},
		orders:    []domain.OrderInfo{stopOrderFor("BTC-USD-PERP")},
	}
	s := newHandlerSetup(t, cfg, cache, &seqHost{})

	result := s.handler.Trigger(context.Background(), domain.ShutdownManual)

	assert.Equal(t, Completed, result)
	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].UnprotectedPositions)
	assert.Equal(t, 0, reports[0].OrdersCancelled)
}

func TestHaltErrorExitsOne(t *testing.T) {
	host := &seqHost{haltErr: errors.New("engine unreachable")}
	s := newHandlerSetup(t, testShutdownConfig(), &stubCache{}, host)

	result := s.handler.Trigger(context.Background(), domain.ShutdownException)

	assert.Equal(t, Failed, result)
	assert.Equal(t, []int{1}, s.exitCodes())
	assert.Equal(t, []string{"halt"}, host.callLog())

	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].ExitCode)
	assert.Contains(t, reports[0].Error, "halt trading")
	assert.False(t, reports[0].TimedOut)
	assert.Equal(t, []string{"shutdown.failed"}, s.notifier.sent())
}

func TestListOrdersErrorExitsOne(t *testing.T) {
	cache := &stubCache{ordersErr: errors.New("cache gone")}
	host := &seqHost{}
	s := newHandlerSetup(t, testShutdownConfig(), cache, host)

	result := s.handler.Trigger(context.Background(), domain.ShutdownManual)

	assert.Equal(t, Failed, result)
	assert.Equal(t, []int{1}, s.exitCodes())
	assert.Equal(t, []string{"halt"}, host.callLog())

	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Error, "list open orders")
}

func TestDeadlineExpiryExitsOne(t *testing.T) {
	cfg := testShutdownConfig()
	cfg.TimeoutSecs = 0.05
	cache := &stubCache{orders: []domain.OrderInfo{pendingOrder("ord-1", "BTC-USD-PERP")}}
	host := &seqHost{}
	s := newHandlerSetup(t, cfg, cache, host)
	s.handler.settle = time.Second

	result := s.handler.Trigger(context.Background(), domain.ShutdownSigterm)

	assert.Equal(t, Failed, result)
	assert.Equal(t, []int{1}, s.exitCodes())
	assert.NotContains(t, host.callLog(), "stop")

	reports := s.journal.shutdowns()
	require.Len(t, reports, 1)
	assert.True(t, reports[0].TimedOut)
	assert.Contains(t, reports[0].Error, "settle wait")
}

func TestJournalFailureDoesNotChangeExit(t *testing.T) {
	s := newHandlerSetup(t, testShutdownConfig(), &stubCache{}, &seqHost{})
	s.journal.err = errors.New("pg down")

	result := s.handler.Trigger(context.Background(), domain.ShutdownManual)

	assert.Equal(t, Completed, result)
	assert.Equal(t, []int{0}, s.exitCodes())
	assert.Empty(t, s.journal.shutdowns())
}
