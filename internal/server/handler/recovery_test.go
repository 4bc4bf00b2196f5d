package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/recovery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSupervisor struct {
	phase     string
	ready     bool
	recovered []domain.PositionSnapshot
}

func (f *fakeSupervisor) Phase() string { return f.phase }
func (f *fakeSupervisor) IsReady() bool { return f.ready }
func (f *fakeSupervisor) RecoveredPositions() []domain.PositionSnapshot {
	return f.recovered
}

type fakeStates struct {
	state domain.RecoveryState
}

func (f *fakeStates) State() domain.RecoveryState { return f.state }

type fakeGapDetector struct {
	events []domain.PositionEvent
	gaps   []domain.EventGap
	err    error

	gotTrader     string
	gotInstrument string
	gotMaxGap     float64
}

func (f *fakeGapDetector) ReplayEvents(ctx context.Context, traderID, instrumentID string, startNs, endNs int64) ([]domain.PositionEvent, error) {
	f.gotTrader = traderID
	f.gotInstrument = instrumentID
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

func (f *fakeGapDetector) DetectEventGaps(ctx context.Context, traderID string, maxGapSecs float64) ([]domain.EventGap, error) {
	f.gotMaxGap = maxGapSecs
	if f.err != nil {
		return nil, f.err
	}
	return f.gaps, nil
}

func TestGetStateReportsSupervisor(t *testing.T) {
	sup := &fakeSupervisor{
		phase: "warming_up",
		ready: false,
		recovered: []domain.PositionSnapshot{
			{InstrumentID: "BTC-USD-PERP", Side: domain.SideLong, Quantity: 0.5, IsOpen: true},
		},
	}
	states := &fakeStates{
		state: domain.NewRecoveryState().Begin(1_700_000_000_000_000_000).AddRecovered(1),
	}
	h := NewRecoveryHandler("trader-001", sup, states, nil, testLogger())

	rec := httptest.NewRecorder()
	h.GetState(rec, httptest.NewRequest(http.MethodGet, "/api/recovery/state", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		TraderID  string                    `json:"trader_id"`
		Phase     string                    `json:"phase"`
		Ready     bool                      `json:"ready"`
		State     domain.RecoveryState      `json:"state"`
		Recovered []domain.PositionSnapshot `json:"recovered_positions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trader-001", resp.TraderID)
	assert.Equal(t, "warming_up", resp.Phase)
	assert.False(t, resp.Ready)
	assert.Equal(t, domain.RecoveryInProgress, resp.State.Status)
	assert.Equal(t, 1, resp.State.PositionsRecovered)
	require.Len(t, resp.Recovered, 1)
	assert.Equal(t, "BTC-USD-PERP", resp.Recovered[0].InstrumentID)
}

func TestGetStateWithoutSupervisor(t *testing.T) {
	h := NewRecoveryHandler("trader-001", nil, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.GetState(rec, httptest.NewRequest(http.MethodGet, "/api/recovery/state", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no recovery supervisor")
}

func TestRunReplayDefaults(t *testing.T) {
	detector := &fakeGapDetector{
		events: []domain.PositionEvent{
			{EventType: domain.EventPositionOpened, InstrumentID: "BTC-USD-PERP", Sequence: 1, TsEvent: 100},
			{EventType: domain.EventOrderFilled, InstrumentID: "BTC-USD-PERP", Sequence: 2, TsEvent: 200},
			{EventType: domain.EventPositionSnapshot, InstrumentID: "BTC-USD-PERP", Sequence: 5, TsEvent: 500, IsSynthetic: true},
		},
		gaps: []domain.EventGap{{StartSeq: 3, EndSeq: 4, StartTs: 200, EndTs: 500}},
	}
	h := NewRecoveryHandler("trader-001", nil, nil, detector, testLogger())

	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trader-001", detector.gotTrader)
	assert.Equal(t, recovery.DefaultMaxGapSecs, detector.gotMaxGap)

	var resp struct {
		TraderID       string            `json:"trader_id"`
		EventCount     int               `json:"event_count"`
		SyntheticCount int               `json:"synthetic_count"`
		MaxGapSecs     float64           `json:"max_gap_secs"`
		Gaps           []domain.EventGap `json:"gaps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trader-001", resp.TraderID)
	assert.Equal(t, 3, resp.EventCount)
	assert.Equal(t, 1, resp.SyntheticCount)
	assert.Equal(t, recovery.DefaultMaxGapSecs, resp.MaxGapSecs)
	require.Len(t, resp.Gaps, 1)
	assert.Equal(t, int64(3), resp.Gaps[0].StartSeq)

	// Events are only included on request.
	assert.NotContains(t, rec.Body.String(), `"events"`)
}

func TestRunReplayBodyOverrides(t *testing.T) {
	detector := &fakeGapDetector{
		events: []domain.PositionEvent{
			{EventType: domain.EventPositionOpened, InstrumentID: "ETH-USD-PERP", Sequence: 1, TsEvent: 100},
		},
	}
	h := NewRecoveryHandler("trader-001", nil, nil, detector, testLogger())

	body := `{"trader_id":"trader-002","instrument_id":"ETH-USD-PERP","max_gap_secs":60,"include_events":true}`
	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trader-002", detector.gotTrader)
	assert.Equal(t, "ETH-USD-PERP", detector.gotInstrument)
	assert.Equal(t, 60.0, detector.gotMaxGap)

	var resp struct {
		Events []domain.PositionEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "ETH-USD-PERP", resp.Events[0].InstrumentID)
}

func TestRunReplayRequiresTrader(t *testing.T) {
	h := NewRecoveryHandler("", nil, nil, &fakeGapDetector{}, testLogger())

	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "trader_id is required")
}

func TestRunReplayWithoutCache(t *testing.T) {
	h := NewRecoveryHandler("trader-001", nil, nil, nil, testLogger())

	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunReplayCacheError(t *testing.T) {
	detector := &fakeGapDetector{err: errors.New("redis down")}
	h := NewRecoveryHandler("trader-001", nil, nil, detector, testLogger())

	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "failed to replay events")
}

func TestRunReplayMalformedBody(t *testing.T) {
	h := NewRecoveryHandler("trader-001", nil, nil, &fakeGapDetector{}, testLogger())

	rec := httptest.NewRecorder()
	h.RunReplay(rec, httptest.NewRequest(http.MethodPost, "/api/recovery/replay", strings.NewReader("{not json")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
