package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/shutdown"
)

// ShutdownTrigger is the graceful-shutdown surface the endpoint drives.
type ShutdownTrigger interface {
	State() string
	Trigger(ctx context.Context, reason domain.ShutdownReason) shutdown.Result
}

// ShutdownHandler serves the manual shutdown endpoint.
type ShutdownHandler struct {
	trigger ShutdownTrigger
	logger  *slog.Logger
}

// NewShutdownHandler creates a ShutdownHandler. trigger is nil outside guard
// mode, where no engine is attached.
func NewShutdownHandler(trigger ShutdownTrigger, logger *slog.Logger) *ShutdownHandler {
	return &ShutdownHandler{
		trigger: trigger,
		logger:  logHandler(logger, "shutdown"),
	}
}

// shutdownRequest is the optional JSON body for the shutdown endpoint.
type shutdownRequest struct {
	Reason string `json:"reason"`
}

// TriggerShutdown starts the graceful-shutdown sequence in the background and
// returns immediately. The sequence exits the process when it completes, so
// this response is the last the caller will get.
// POST /api/shutdown
func (h *ShutdownHandler) TriggerShutdown(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine attached in this mode")
		return
	}

	var req shutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if h.trigger.State() != "idle" {
		writeError(w, http.StatusConflict, "shutdown already in progress")
		return
	}

	reason := domain.ParseShutdownReason(req.Reason)
	h.logger.InfoContext(r.Context(), "handler: shutdown requested",
		slog.String("reason", string(reason)),
	)

	// The request context dies with this response; the sequence needs a
	// context that outlives it.
	go h.trigger.Trigger(context.Background(), reason)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"reason": string(reason),
	})
}
