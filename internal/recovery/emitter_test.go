package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

func TestEmitterInvokesCallback(t *testing.T) {
	clock := newFakeClock(time.Unix(1_700_000_000, 0).UTC())
	e := NewEmitter(clock, testLogger())
	rec := &eventRecorder{}
	e.SetCallback(rec.record)

	e.EmitRecoveryStarted("trader-001", map[string]any{"instrument_id": "BTC-USD-PERP"})

	evt, ok := rec.firstOf(domain.RecoveryEventStarted)
	require.True(t, ok)
	assert.Equal(t, "trader-001", evt.TraderID)
	assert.Equal(t, clock.Now(), evt.Timestamp)
	assert.Equal(t, "BTC-USD-PERP", evt.Detail["instrument_id"])
}

func TestEmitterWithoutCallback(t *testing.T) {
	e := NewEmitter(newFakeClock(time.Now()), testLogger())

	assert.NotPanics(t, func() {
		e.EmitRecoveryCompleted("trader-001", nil)
	})
}

func TestEmitterCallbackPanicContained(t *testing.T) {
	e := NewEmitter(newFakeClock(time.Now()), testLogger())
	calls := 0
	e.SetCallback(func(domain.RecoveryEvent) {
		calls++
		panic("sink exploded")
	})

	assert.NotPanics(t, func() {
		e.EmitRecoveryFailed("trader-001", nil)
		e.EmitRecoveryTimeout("trader-001", nil)
	})
	assert.Equal(t, 2, calls)
}

func TestEmitterCoversEveryMilestone(t *testing.T) {
	e := NewEmitter(newFakeClock(time.Unix(1_700_000_000, 0).UTC()), testLogger())
	rec := &eventRecorder{}
	e.SetCallback(rec.record)

	e.EmitRecoveryStarted("trader-001", nil)
	e.EmitPositionLoaded("trader-001", nil)
	e.EmitPositionReconciled("trader-001", nil)
	e.EmitPositionDiscrepancy("trader-001", nil)
	e.EmitIndicatorsWarming("trader-001", nil)
	e.EmitIndicatorsReady("trader-001", nil)
	e.EmitRecoveryCompleted("trader-001", nil)
	e.EmitRecoveryFailed("trader-001", nil)
	e.EmitRecoveryTimeout("trader-001", nil)

	assert.Equal(t, []domain.RecoveryEventType{
		domain.RecoveryEventStarted,
		domain.RecoveryEventPositionLoaded,
		domain.RecoveryEventPositionReconciled,
		domain.RecoveryEventPositionDiscrepancy,
		domain.RecoveryEventIndicatorsWarming,
		domain.RecoveryEventIndicatorsReady,
		domain.RecoveryEventCompleted,
		domain.RecoveryEventFailed,
		domain.RecoveryEventTimeout,
	}, rec.types())
}

func TestEmitterSetCallbackNilRemoves(t *testing.T) {
	e := NewEmitter(newFakeClock(time.Now()), testLogger())
	rec := &eventRecorder{}
	e.SetCallback(rec.record)
	e.SetCallback(nil)

	e.EmitRecoveryStarted("trader-001", nil)

	assert.Empty(t, rec.types())
}
