// Package shutdown executes the bounded, ordered safety sequence that runs
// before the guarded trading process exits: halt trading, cancel pending
// orders, verify stop protection, stop the host.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// Result reports how a Trigger call concluded.
type Result int

const (
	// Completed means the sequence ran every step and exited cleanly.
	Completed Result = iota
	// Failed means a step errored or the deadline expired.
	Failed
	// AlreadyRunning means an earlier trigger won and this call did nothing.
	AlreadyRunning
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case AlreadyRunning:
		return "already_running"
	default:
		return "unknown"
	}
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateTerminated
)

// Recorder receives shutdown measurements. A nil Recorder disables them.
type Recorder interface {
	ObserveShutdownDuration(seconds float64)
	AddOrdersCancelled(n int)
}

// Notifier delivers the shutdown summary to external channels. A nil Notifier
// disables delivery.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Handler runs the graceful-shutdown sequence exactly once per process. It is
// independent of the recovery orchestrator and shares only the cache and host
// collaborators.
type Handler struct {
	cfg      config.ShutdownConfig
	traderID string
	cache    domain.TradingCache
	host     domain.TradingHost
	journal  domain.JournalStore
	notifier Notifier
	metrics  Recorder
	clock    domain.Clock
	logger   *slog.Logger

	exit   func(int)
	settle time.Duration

	mu    sync.Mutex
	state state
}

// NewHandler builds a Handler. journal, notifier and metrics may be nil.
func NewHandler(
	cfg config.ShutdownConfig,
	traderID string,
	cache domain.TradingCache,
	host domain.TradingHost,
	journal domain.JournalStore,
	notifier Notifier,
	metrics Recorder,
	clock domain.Clock,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		traderID: traderID,
		cache:    cache,
		host:     host,
		journal:  journal,
		notifier: notifier,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
		exit:     os.Exit,
		settle:   2 * time.Second,
	}
}

// State reports the handler lifecycle for the ops API.
func (h *Handler) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateRunning:
		return "running"
	case stateTerminated:
		return "terminated"
	default:
		return "idle"
	}
}

// Trigger executes the shutdown sequence under the configured deadline. Only
// the first call runs; later and concurrent calls return AlreadyRunning. A
// clean sequence exits the process with code 0, a step error or deadline
// expiry with code 1. The lifecycle events are journaled and notified on a
// fresh context so they survive the sequence deadline. ctx must be live; the
// signal-cancelled context from the app layer is not suitable here.
func (h *Handler) Trigger(ctx context.Context, reason domain.ShutdownReason) Result {
	h.mu.Lock()
	if h.state != stateIdle {
		h.mu.Unlock()
		h.logger.WarnContext(ctx, "shutdown: already in progress, ignoring duplicate trigger",
			slog.String("reason", string(reason)))
		return AlreadyRunning
	}
	h.state = stateRunning
	h.mu.Unlock()

	started := h.clock.Now()
	h.logger.InfoContext(ctx, "shutdown: starting graceful sequence",
		slog.String("reason", string(reason)),
		slog.Float64("timeout_secs", h.cfg.TimeoutSecs))

	ctx, cancel := context.WithTimeout(ctx, time.Duration(h.cfg.TimeoutSecs*float64(time.Second)))
	defer cancel()

	report := domain.ShutdownReport{
		Reason:    reason,
		TsStarted: started.UnixNano(),
	}
	err := h.sequence(ctx, &report)

	completed := h.clock.Now()
	report.TsCompleted = completed.UnixNano()
	report.DurationMs = float64(completed.Sub(started)) / float64(time.Millisecond)

	code := 0
	if err != nil {
		code = 1
		report.Error = err.Error()
		report.TimedOut = errors.Is(err, context.DeadlineExceeded)
		h.logger.ErrorContext(ctx, "shutdown: sequence failed",
			slog.Any("error", err),
			slog.Bool("timed_out", report.TimedOut))
	} else {
		h.logger.InfoContext(ctx, "shutdown: complete",
			slog.Float64("elapsed_ms", report.DurationMs),
			slog.Int("orders_cancelled", report.OrdersCancelled),
			slog.Int("unprotected_positions", report.UnprotectedPositions))
	}
	report.ExitCode = code

	h.journalReport(report)
	h.notifySummary(report)
	if h.metrics != nil {
		h.metrics.ObserveShutdownDuration(report.DurationMs / 1e3)
		h.metrics.AddOrdersCancelled(report.OrdersCancelled)
	}

	h.mu.Lock()
	h.state = stateTerminated
	h.mu.Unlock()

	h.logger.Info("shutdown: exiting", slog.Int("code", code))
	h.exit(code)

	// Reached only when exit does not terminate the process.
	if code == 0 {
		return Completed
	}
	return Failed
}

func (h *Handler) sequence(ctx context.Context, report *domain.ShutdownReport) error {
	if err := h.host.HaltTrading(ctx); err != nil {
		return fmt.Errorf("shutdown: halt trading: %w", err)
	}
	h.logger.InfoContext(ctx, "shutdown: trading halted")

	if h.cfg.CancelOrders {
		cancelled, err := h.cancelPendingOrders(ctx)
		report.OrdersCancelled = cancelled
		if err != nil {
			return err
		}
	}

	if h.cfg.VerifyStopLosses {
		unprotected, err := h.verifyStopLosses(ctx)
		report.UnprotectedPositions = unprotected
		if err != nil {
			return err
		}
	}

	if h.cfg.FlushCache {
		h.logger.InfoContext(ctx, "shutdown: cache flush delegated to host teardown")
	}

	if err := h.host.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown: stop host: %w", err)
	}
	h.logger.InfoContext(ctx, "shutdown: host stopped")
	return nil
}

// cancelPendingOrders snapshots the pending open orders once and cancels each
// at most once. Per-order failures are logged and skipped, never retried.
func (h *Handler) cancelPendingOrders(ctx context.Context) (int, error) {
	orders, err := h.cache.OpenOrders(ctx, h.traderID, "")
	if err != nil {
		return 0, fmt.Errorf("shutdown: list open orders: %w", err)
	}

	pending := make([]domain.OrderInfo, 0, len(orders))
	for _, o := range orders {
		if o.IsPending {
			pending = append(pending, o)
		}
	}
	h.logger.InfoContext(ctx, "shutdown: cancelling pending orders", slog.Int("count", len(pending)))

	cancelled := 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return cancelled, fmt.Errorf("shutdown: cancel orders interrupted: %w", err)
		}
		if err := h.host.CancelOrder(ctx, o); err != nil {
			h.logger.ErrorContext(ctx, "shutdown: cancel order failed",
				slog.String("order_id", o.OrderID),
				slog.Any("error", err))
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		select {
		case <-time.After(h.settle):
		case <-ctx.Done():
			return cancelled, fmt.Errorf("shutdown: settle wait: %w", ctx.Err())
		}
		h.logger.InfoContext(ctx, "shutdown: orders cancelled", slog.Int("count", cancelled))
	}
	return cancelled, nil
}

// verifyStopLosses counts open positions without a stop-type order. An
// unprotected position is a warning, never an error and never an order
// placement.
func (h *Handler) verifyStopLosses(ctx context.Context) (int, error) {
	positions, err := h.cache.Positions(ctx, h.traderID, "")
	if err != nil {
		return 0, fmt.Errorf("shutdown: list positions: %w", err)
	}
	orders, err := h.cache.OpenOrders(ctx, h.traderID, "")
	if err != nil {
		return 0, fmt.Errorf("shutdown: list open orders: %w", err)
	}

	open := 0
	unprotected := 0
	for _, pos := range positions {
		if !pos.IsOpen {
			continue
		}
		open++
		if hasStopOrder(orders, pos.InstrumentID) {
			continue
		}
		unprotected++
		h.logger.WarnContext(ctx, "shutdown: open position has no stop order",
			slog.String("instrument_id", pos.InstrumentID),
			slog.String("side", string(pos.Side)),
			slog.Float64("quantity", pos.Quantity))
	}
	if open > 0 && unprotected == 0 {
		h.logger.InfoContext(ctx, "shutdown: all open positions protected", slog.Int("count", open))
	}
	return unprotected, nil
}

func (h *Handler) journalReport(report domain.ShutdownReport) {
	if h.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.journal.RecordShutdown(ctx, h.traderID, report); err != nil {
		h.logger.Warn("shutdown: journal write failed", slog.Any("error", err))
	}
}

func (h *Handler) notifySummary(report domain.ShutdownReport) {
	if h.notifier == nil {
		return
	}
	event := "shutdown.completed"
	title := "Shutdown complete"
	msg := fmt.Sprintf("reason=%s orders_cancelled=%d unprotected=%d elapsed=%.0fms",
		report.Reason, report.OrdersCancelled, report.UnprotectedPositions, report.DurationMs)
	if report.ExitCode != 0 {
		event = "shutdown.failed"
		title = "Shutdown failed"
		msg = fmt.Sprintf("reason=%s error=%s timed_out=%t", report.Reason, report.Error, report.TimedOut)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.notifier.Notify(ctx, event, title, msg); err != nil {
		h.logger.Warn("shutdown: notification failed", slog.Any("error", err))
	}
}

func hasStopOrder(orders []domain.OrderInfo, instrumentID string) bool {
	for _, o := range orders {
		if o.InstrumentID == instrumentID && o.IsStopOrder() {
			return true
		}
	}
	return false
}
