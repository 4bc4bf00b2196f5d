package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// JournalReader defines the read side of the recovery journal the listing
// endpoints require.
type JournalReader interface {
	ListAttempts(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryAttempt, error)
	ListEvents(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryEvent, error)
}

// JournalHandler serves the recovery-journal listing endpoints.
type JournalHandler struct {
	journal JournalReader
	logger  *slog.Logger
}

// NewJournalHandler creates a JournalHandler. journal is nil when postgres is
// disabled; the endpoints then report the journal as unavailable.
func NewJournalHandler(journal JournalReader, logger *slog.Logger) *JournalHandler {
	return &JournalHandler{
		journal: journal,
		logger:  logHandler(logger, "journal"),
	}
}

// listAttemptsResponse wraps the list attempts response.
type listAttemptsResponse struct {
	Attempts []domain.RecoveryAttempt `json:"attempts"`
	Count    int                      `json:"count"`
}

// listEventsResponse wraps the list events response.
type listEventsResponse struct {
	Events []domain.RecoveryEvent `json:"events"`
	Count  int                    `json:"count"`
}

// ListAttempts returns journaled recovery attempts, newest first.
// GET /api/recovery/attempts?trader_id=...&limit=50&offset=0&since=...&until=...
func (h *JournalHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal storage disabled")
		return
	}

	traderID := r.URL.Query().Get("trader_id")
	opts := parseListOpts(r)

	attempts, err := h.journal.ListAttempts(r.Context(), traderID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list attempts failed",
			slog.String("trader_id", traderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list recovery attempts")
		return
	}

	if attempts == nil {
		attempts = []domain.RecoveryAttempt{}
	}

	writeJSON(w, http.StatusOK, listAttemptsResponse{
		Attempts: attempts,
		Count:    len(attempts),
	})
}

// ListEvents returns journaled recovery lifecycle events, newest first.
// GET /api/recovery/events?trader_id=...&limit=50&offset=0&since=...&until=...
func (h *JournalHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal storage disabled")
		return
	}

	traderID := r.URL.Query().Get("trader_id")
	opts := parseListOpts(r)

	events, err := h.journal.ListEvents(r.Context(), traderID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("trader_id", traderID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list recovery events")
		return
	}

	if events == nil {
		events = []domain.RecoveryEvent{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Count:  len(events),
	})
}
