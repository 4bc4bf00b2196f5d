package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/recovery"
)

// RecoverySupervisor is the live orchestrator surface the state endpoint
// reports on. Only guard mode runs one.
type RecoverySupervisor interface {
	Phase() string
	IsReady() bool
	RecoveredPositions() []domain.PositionSnapshot
}

// StateSource exposes the current recovery progress record.
type StateSource interface {
	State() domain.RecoveryState
}

// GapDetector runs the replay diagnostic over the cached event history.
type GapDetector interface {
	ReplayEvents(ctx context.Context, traderID, instrumentID string, startNs, endNs int64) ([]domain.PositionEvent, error)
	DetectEventGaps(ctx context.Context, traderID string, maxGapSecs float64) ([]domain.EventGap, error)
}

// RecoveryHandler serves the recovery state and replay-diagnostic endpoints.
type RecoveryHandler struct {
	traderID   string
	supervisor RecoverySupervisor
	states     StateSource
	replay     GapDetector
	logger     *slog.Logger
}

// NewRecoveryHandler creates a RecoveryHandler. supervisor and states are nil
// outside guard mode; replay is nil when no cache is wired.
func NewRecoveryHandler(traderID string, supervisor RecoverySupervisor, states StateSource, replay GapDetector, logger *slog.Logger) *RecoveryHandler {
	return &RecoveryHandler{
		traderID:   traderID,
		supervisor: supervisor,
		states:     states,
		replay:     replay,
		logger:     logHandler(logger, "recovery"),
	}
}

// recoveryStateResponse wraps the recovery state response.
type recoveryStateResponse struct {
	TraderID  string                    `json:"trader_id"`
	Phase     string                    `json:"phase"`
	Ready     bool                      `json:"ready"`
	State     domain.RecoveryState      `json:"state"`
	Recovered []domain.PositionSnapshot `json:"recovered_positions"`
}

// GetState reports the live recovery progress for the supervised trader.
// GET /api/recovery/state
func (h *RecoveryHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if h.supervisor == nil || h.states == nil {
		writeError(w, http.StatusNotFound, "no recovery supervisor running in this mode")
		return
	}

	recovered := h.supervisor.RecoveredPositions()
	if recovered == nil {
		recovered = []domain.PositionSnapshot{}
	}

	writeJSON(w, http.StatusOK, recoveryStateResponse{
		TraderID:  h.traderID,
		Phase:     h.supervisor.Phase(),
		Ready:     h.supervisor.IsReady(),
		State:     h.states.State(),
		Recovered: recovered,
	})
}

// replayRequest is the optional JSON body for the replay diagnostic.
type replayRequest struct {
	TraderID      string  `json:"trader_id"`
	InstrumentID  string  `json:"instrument_id"`
	MaxGapSecs    float64 `json:"max_gap_secs"`
	IncludeEvents bool    `json:"include_events"`
}

// replayResponse wraps the replay diagnostic result.
type replayResponse struct {
	TraderID       string                 `json:"trader_id"`
	InstrumentID   string                 `json:"instrument_id,omitempty"`
	EventCount     int                    `json:"event_count"`
	SyntheticCount int                    `json:"synthetic_count"`
	MaxGapSecs     float64                `json:"max_gap_secs"`
	Gaps           []domain.EventGap      `json:"gaps"`
	Events         []domain.PositionEvent `json:"events,omitempty"`
}

// RunReplay replays the cached event history for a trader and reports the
// detected sequence gaps. The body is optional; an empty body diagnoses the
// supervised trader with the default gap threshold.
// POST /api/recovery/replay
func (h *RecoveryHandler) RunReplay(w http.ResponseWriter, r *http.Request) {
	if h.replay == nil {
		writeError(w, http.StatusServiceUnavailable, "replay diagnostics unavailable: no event cache wired")
		return
	}

	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	traderID := req.TraderID
	if traderID == "" {
		traderID = h.traderID
	}
	if traderID == "" {
		writeError(w, http.StatusBadRequest, "trader_id is required")
		return
	}

	maxGap := req.MaxGapSecs
	if maxGap <= 0 {
		maxGap = recovery.DefaultMaxGapSecs
	}

	events, err := h.replay.ReplayEvents(r.Context(), traderID, req.InstrumentID, 0, 0)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: replay failed",
			slog.String("trader_id", traderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to replay events")
		return
	}

	gaps, err := h.replay.DetectEventGaps(r.Context(), traderID, maxGap)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: gap detection failed",
			slog.String("trader_id", traderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to detect event gaps")
		return
	}
	if gaps == nil {
		gaps = []domain.EventGap{}
	}

	synthetic := 0
	for _, evt := range events {
		if evt.IsSynthetic {
			synthetic++
		}
	}

	resp := replayResponse{
		TraderID:       traderID,
		InstrumentID:   req.InstrumentID,
		EventCount:     len(events),
		SyntheticCount: synthetic,
		MaxGapSecs:     maxGap,
		Gaps:           gaps,
	}
	if req.IncludeEvents {
		resp.Events = events
	}

	writeJSON(w, http.StatusOK, resp)
}
