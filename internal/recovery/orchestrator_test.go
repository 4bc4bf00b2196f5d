package recovery

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

type orchSetup struct {
	orch     *Orchestrator
	states   *StateManager
	provider *PositionRecoveryProvider
	host     *stubHost
	events   *eventRecorder
	clock    *fakeClock
}

func newOrchSetup(
	t *testing.T,
	cfg config.RecoveryConfig,
	cache domain.TradingCache,
	exchange domain.Exchange,
	market domain.MarketData,
	hooks domain.RecoveryHooks,
) *orchSetup {
	t.Helper()
	logger := testLogger()
	clock := newFakeClock(time.Unix(1_700_000_000, 0).UTC())
	host := &stubHost{}
	events := &eventRecorder{}

	provider := NewPositionRecoveryProvider(cache, exchange, logger)
	states := NewStateManager(cfg.TraderID, cfg.StateDir, clock, logger)
	emitter := NewEmitter(clock, logger)
	emitter.SetCallback(events.record)

	orch := NewOrchestrator(cfg, cache, market, provider, states, emitter, clock, host, hooks, logger)
	return &orchSetup{
		orch:     orch,
		states:   states,
		provider: provider,
		host:     host,
		events:   events,
		clock:    clock,
	}
}

func guardCache() *fakeCache {
	return &fakeCache{
		positions: []domain.PositionSnapshot{openPosition("BTC-USD-PERP", domain.SideLong, 1.5, 42_000)},
		orders:    []domain.OrderInfo{stopOrder("BTC-USD-PERP")},
		instruments: map[string]domain.Instrument{
			"BTC-USD-PERP": {ID: "BTC-USD-PERP", Symbol: "BTCUSD", Venue: "test"},
		},
	}
}

func warmupBars(n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	for i := n; i >= 1; i-- {
		bars = append(bars, domain.Bar{
			InstrumentID: "BTC-USD-PERP",
			TsEvent:      int64(i) * 60_000_000_000,
			Close:        105,
			Volume:       10,
		})
	}
	return bars
}

func TestStartFullRecoveryFlow(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := guardCache()
	exchange := &fakeExchange{positions: cache.positions}
	market := &fakeMarket{bars: warmupBars(3)}
	hooks := &recorderHooks{}
	s := newOrchSetup(t, cfg, cache, exchange, market, hooks)

	require.NoError(t, s.orch.Start(context.Background()))
	require.Eventually(t, func() bool { return hooks.completions() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.True(t, s.orch.IsReady())

	st := s.states.State()
	assert.Equal(t, domain.RecoveryCompleted, st.Status)
	assert.Equal(t, 1, st.PositionsRecovered)
	assert.True(t, st.IsComplete())

	require.Len(t, s.orch.RecoveredPositions(), 1)
	require.Len(t, hooks.recoveredPositions(), 1)
	assert.Equal(t, []int64{60_000_000_000, 120_000_000_000, 180_000_000_000}, hooks.barTimes())
	assert.Equal(t, 1, hooks.completions())

	assert.Equal(t, []domain.RecoveryEventType{
		domain.RecoveryEventStarted,
		domain.RecoveryEventPositionLoaded,
		domain.RecoveryEventPositionReconciled,
		domain.RecoveryEventIndicatorsWarming,
		domain.RecoveryEventIndicatorsReady,
		domain.RecoveryEventCompleted,
	}, s.events.types())

	_, err := os.Stat(s.states.StateFilePath())
	require.NoError(t, err)
	assert.Empty(t, s.host.requestedStops())
}

func TestStartIdempotent(t *testing.T) {
	cfg := testRecoveryConfig(t)
	s := newOrchSetup(t, cfg, guardCache(), nil, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))
	require.True(t, s.orch.IsReady())

	require.NoError(t, s.orch.Start(context.Background()))

	assert.Equal(t, 1, s.events.countOf(domain.RecoveryEventStarted))
	assert.Equal(t, 1, s.states.State().PositionsRecovered)
}

func TestStartMissingInstrumentRequestsStop(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := guardCache()
	cache.instruments = nil
	s := newOrchSetup(t, cfg, cache, nil, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))

	assert.Equal(t, []string{"instrument not found: BTC-USD-PERP"}, s.host.requestedStops())
	assert.False(t, s.orch.IsReady())
	assert.Equal(t, "stopped", s.orch.Phase())
	assert.Empty(t, s.events.types())
	assert.Equal(t, domain.RecoveryPending, s.states.State().Status)
}

func TestStartRecoveryDisabledSkipsDetection(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cfg.Enabled = false
	s := newOrchSetup(t, cfg, guardCache(), nil, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))

	assert.True(t, s.orch.IsReady())
	assert.Empty(t, s.orch.RecoveredPositions())
	assert.Zero(t, s.events.countOf(domain.RecoveryEventPositionLoaded))
	assert.Zero(t, s.states.State().PositionsRecovered)
}

func TestStartEmptyStateCompletesImmediately(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := &fakeCache{
		instruments: map[string]domain.Instrument{"BTC-USD-PERP": {ID: "BTC-USD-PERP"}},
	}
	s := newOrchSetup(t, cfg, cache, nil, &fakeMarket{}, nil)

	require.NoError(t, s.orch.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.events.countOf(domain.RecoveryEventCompleted) == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, s.orch.IsReady())

	st := s.states.State()
	assert.Zero(t, st.PositionsRecovered)
	assert.True(t, st.IsComplete())

	ready, ok := s.events.firstOf(domain.RecoveryEventIndicatorsReady)
	require.True(t, ok)
	assert.EqualValues(t, 0, ready.Detail["bars"])
}

func TestStartDetectErrorFailsRecovery(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := guardCache()
	cache.positionsErr = errors.New("cache timeout")
	s := newOrchSetup(t, cfg, cache, nil, nil, nil)

	err := s.orch.Start(context.Background())
	require.Error(t, err)

	st := s.states.State()
	assert.Equal(t, domain.RecoveryFailed, st.Status)
	assert.Contains(t, st.ErrorMessage, "cache timeout")
	assert.False(t, s.orch.IsReady())
	assert.Equal(t, 1, s.events.countOf(domain.RecoveryEventFailed))
}

func TestStartMarketErrorFailsRecovery(t *testing.T) {
	cfg := testRecoveryConfig(t)
	market := &fakeMarket{err: errors.New("candles 503")}
	s := newOrchSetup(t, cfg, guardCache(), nil, market, nil)

	require.NoError(t, s.orch.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.events.countOf(domain.RecoveryEventFailed) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.RecoveryFailed, s.states.State().Status)
	evt, ok := s.events.firstOf(domain.RecoveryEventFailed)
	require.True(t, ok)
	assert.Contains(t, evt.Detail["message"], "historical data request failed")
	assert.False(t, s.orch.IsReady())
}

func TestExternalPositionHandling(t *testing.T) {
	external := openPosition("ETH-USD-PERP", domain.SideShort, 3, 2_500)

	t.Run("skipped by default", func(t *testing.T) {
		cfg := testRecoveryConfig(t)
		cache := guardCache()
		exchange := &fakeExchange{
			positions: append([]domain.PositionSnapshot{external}, cache.positions...),
		}
		s := newOrchSetup(t, cfg, cache, exchange, nil, nil)

		require.NoError(t, s.orch.Start(context.Background()))
		require.True(t, s.orch.IsReady())

		recovered := s.orch.RecoveredPositions()
		require.Len(t, recovered, 1)
		assert.Equal(t, "BTC-USD-PERP", recovered[0].InstrumentID)
		assert.Equal(t, 1, s.events.countOf(domain.RecoveryEventPositionDiscrepancy))
	})

	t.Run("claimed when configured", func(t *testing.T) {
		cfg := testRecoveryConfig(t)
		cfg.ClaimExternalPositions = true
		cache := guardCache()
		exchange := &fakeExchange{
			positions: append([]domain.PositionSnapshot{external}, cache.positions...),
		}
		s := newOrchSetup(t, cfg, cache, exchange, nil, nil)

		require.NoError(t, s.orch.Start(context.Background()))
		require.True(t, s.orch.IsReady())

		assert.Len(t, s.orch.RecoveredPositions(), 2)
		assert.Equal(t, 2, s.states.State().PositionsRecovered)
	})
}

func TestDiscrepancyEventCarriesMessage(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := guardCache()
	exch := cache.positions[0]
	exch.Quantity = 2
	exchange := &fakeExchange{positions: []domain.PositionSnapshot{exch}}
	s := newOrchSetup(t, cfg, cache, exchange, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))

	evt, ok := s.events.firstOf(domain.RecoveryEventPositionDiscrepancy)
	require.True(t, ok)
	assert.Equal(t, "Quantity mismatch for BTC-USD-PERP: cached=1.5, exchange=2", evt.Detail["message"])

	reconciled, ok := s.events.firstOf(domain.RecoveryEventPositionReconciled)
	require.True(t, ok)
	assert.EqualValues(t, 1, reconciled.Detail["discrepancies"])
}

func TestHookPanicsContained(t *testing.T) {
	cfg := testRecoveryConfig(t)
	hooks := &recorderHooks{panicOnPosition: true, panicOnBar: true}
	market := &fakeMarket{bars: warmupBars(2)}
	s := newOrchSetup(t, cfg, guardCache(), nil, market, hooks)

	require.NoError(t, s.orch.Start(context.Background()))
	require.Eventually(t, func() bool { return hooks.completions() == 1 }, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.orch.IsReady())
	assert.Equal(t, domain.RecoveryCompleted, s.states.State().Status)
}

func TestOpenOrdersUnavailableDegrades(t *testing.T) {
	cfg := testRecoveryConfig(t)
	cache := guardCache()
	cache.ordersErr = errors.New("orders hash missing")
	s := newOrchSetup(t, cfg, cache, nil, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))

	assert.True(t, s.orch.IsReady())
	assert.Equal(t, 1, s.states.State().PositionsRecovered)
}

func TestTimeoutDuringSlowWarmup(t *testing.T) {
	cfg := testRecoveryConfig(t)
	market := &fakeMarket{bars: warmupBars(1), delay: 150 * time.Millisecond}
	s := newOrchSetup(t, cfg, guardCache(), nil, market, nil)

	require.NoError(t, s.orch.Start(context.Background()))
	require.True(t, s.orch.IsWarmingUp())

	s.orch.Timeout()

	assert.Equal(t, domain.RecoveryTimeout, s.states.State().Status)
	evt, ok := s.events.firstOf(domain.RecoveryEventTimeout)
	require.True(t, ok)
	assert.Equal(t, domain.TimeoutMessage, evt.Detail["message"])

	// The late warmup delivery must not complete a timed-out recovery.
	time.Sleep(300 * time.Millisecond)
	assert.False(t, s.orch.IsReady())
	assert.Zero(t, s.events.countOf(domain.RecoveryEventCompleted))
	assert.Equal(t, domain.RecoveryTimeout, s.states.State().Status)
}

func TestTimeoutAfterCompletionIsNoop(t *testing.T) {
	cfg := testRecoveryConfig(t)
	s := newOrchSetup(t, cfg, guardCache(), nil, nil, nil)

	require.NoError(t, s.orch.Start(context.Background()))
	require.True(t, s.orch.IsReady())

	s.orch.Timeout()

	assert.Equal(t, domain.RecoveryCompleted, s.states.State().Status)
	assert.Zero(t, s.events.countOf(domain.RecoveryEventTimeout))
	assert.True(t, s.orch.IsReady())
}

func TestFailEmitsOnce(t *testing.T) {
	cfg := testRecoveryConfig(t)
	market := &fakeMarket{bars: warmupBars(1), delay: 100 * time.Millisecond}
	s := newOrchSetup(t, cfg, guardCache(), nil, market, nil)

	require.NoError(t, s.orch.Start(context.Background()))

	s.orch.Fail("first failure")
	s.orch.Fail("second failure")

	assert.Equal(t, 1, s.events.countOf(domain.RecoveryEventFailed))
	evt, ok := s.events.firstOf(domain.RecoveryEventFailed)
	require.True(t, ok)
	assert.Equal(t, "first failure", evt.Detail["message"])
	assert.Equal(t, "first failure", s.states.State().ErrorMessage)
}
