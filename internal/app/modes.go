package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeguard/internal/domain"
	"github.com/alanyoungcy/tradeguard/internal/host"
	"github.com/alanyoungcy/tradeguard/internal/recovery"
	"github.com/alanyoungcy/tradeguard/internal/server"
	"github.com/alanyoungcy/tradeguard/internal/server/handler"
	"github.com/alanyoungcy/tradeguard/internal/server/ws"
	"github.com/alanyoungcy/tradeguard/internal/shutdown"
)

// GuardMode supervises one trading process: it recovers positions and
// indicator state on startup, serves the ops API, and runs the graceful
// shutdown sequence when the process is asked to stop.
func (a *App) GuardMode(ctx context.Context, deps *Dependencies) error {
	traderID := a.cfg.Recovery.TraderID
	a.logger.InfoContext(ctx, "starting guard mode",
		slog.String("trader_id", traderID),
		slog.String("instrument_id", a.cfg.Recovery.InstrumentID),
	)

	// Serialize recovery per trader. The TTL spans the recovery window plus
	// slack; the lock guards the recovery sequence, not the whole session.
	lockTTL := secsToDuration(a.cfg.Recovery.StartupDelaySecs+a.cfg.Recovery.MaxRecoveryTimeSecs) + 30*time.Second
	unlock, err := deps.LockManager.Acquire(ctx, "recovery:"+traderID, lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("guard mode: trader %s is already being recovered elsewhere: %w", traderID, err)
		}
		return fmt.Errorf("guard mode: acquire recovery lock: %w", err)
	}
	defer unlock()

	g, gctx := errgroup.WithContext(ctx)

	clock := domain.SystemClock{}
	engine := host.NewEngineHost(deps.Gateway, a.logger)
	states := recovery.NewStateManager(traderID, a.cfg.Recovery.StateDir, clock, a.logger)
	emitter := recovery.NewEmitter(clock, a.logger)
	provider := recovery.NewPositionRecoveryProvider(deps.TradingCache, deps.Gateway, a.logger)
	orch := recovery.NewOrchestrator(
		a.cfg.Recovery, deps.TradingCache, deps.Gateway,
		provider, states, emitter, clock, engine, engine, a.logger,
	)
	replayMgr := recovery.NewEventReplayManager(deps.TradingCache, a.logger)

	var rec shutdown.Recorder
	if deps.Metrics != nil {
		rec = deps.Metrics
	}
	shut := shutdown.NewHandler(
		a.cfg.Shutdown, traderID, deps.TradingCache, engine,
		deps.JournalStore, deps.Notifier, rec, clock, a.logger,
	)

	// Ops API + WebSocket hub.
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			TraderID:  traderID,
			StartedAt: clock.Now(),
		})
		g.Go(func() error {
			return hub.Run(gctx)
		})

		a.startOpsServer(gctx, g, deps, hub, server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode, a.logger),
			Recovery: handler.NewRecoveryHandler(traderID, orch, states, replayMgr, a.logger),
			Journal:  handler.NewJournalHandler(deps.JournalStore, a.logger),
			Shutdown: handler.NewShutdownHandler(shut, a.logger),
		})
	}

	// Milestone fan-out: journal, signal bus, hub phase, metrics, notify.
	fan := newRecoveryFanOut(a, deps, hub, orch, states)
	emitter.SetCallback(fan.handle)
	g.Go(func() error {
		return fan.run(gctx)
	})

	// Recovery sequence: settle delay, watchdog, start.
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("guard mode: panic during recovery, forcing shutdown",
					slog.Any("panic", r))
				shut.Trigger(context.Background(), domain.ShutdownException)
			}
		}()

		delay := secsToDuration(a.cfg.Recovery.StartupDelaySecs)
		a.logger.InfoContext(gctx, "guard mode: letting engine subscriptions settle",
			slog.Duration("delay", delay))
		select {
		case <-gctx.Done():
			return gctx.Err()
		case <-time.After(delay):
		}

		// The watchdog is never disarmed: firing after a terminal state is
		// a logged no-op inside the orchestrator.
		time.AfterFunc(secsToDuration(a.cfg.Recovery.MaxRecoveryTimeSecs), func() {
			if !orch.IsReady() {
				a.logger.Warn("guard mode: recovery exceeded its deadline",
					slog.Float64("max_recovery_time_secs", a.cfg.Recovery.MaxRecoveryTimeSecs))
				orch.Timeout()
			}
		})

		if err := orch.Start(gctx); err != nil {
			// The orchestrator has already recorded the failure; the
			// sidecar stays up so operators can inspect the state and
			// decide whether to trigger shutdown.
			a.logger.ErrorContext(gctx, "guard mode: recovery failed, trading stays gated",
				slog.String("error", err.Error()))
		}
		return nil
	})

	// Shutdown arbitration: the first of an OS signal, an engine stop
	// request, or a dying parent context runs the safety sequence.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	g.Go(func() error {
		defer signal.Stop(sigCh)

		var reason domain.ShutdownReason
		select {
		case sig := <-sigCh:
			a.logger.InfoContext(gctx, "guard mode: signal received",
				slog.String("signal", sig.String()))
			reason = signalReason(sig)
		case why := <-engine.StopRequests():
			a.logger.WarnContext(gctx, "guard mode: engine requested stop",
				slog.String("reason", why))
			reason = domain.ShutdownException
		case <-gctx.Done():
			if ctx.Err() == nil {
				// A sibling goroutine failed. Exit without touching the
				// engine rather than halting trading over a sidecar fault.
				return gctx.Err()
			}
			// The parent context caught the signal first; drain the channel
			// for the specific signal.
			reason = domain.ShutdownSigterm
			select {
			case sig := <-sigCh:
				reason = signalReason(sig)
			default:
			}
		}

		// The surrounding context dies with the process; the sequence runs
		// under its own deadline.
		if res := shut.Trigger(context.Background(), reason); res == shutdown.Failed {
			return fmt.Errorf("guard mode: shutdown sequence failed")
		}
		return nil
	})

	return g.Wait()
}

// ServeMode runs the ops API without supervising an engine: journal listings,
// gap diagnostics, and the live feed stay available while no recovery runs.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("serve mode: server.enabled must be true")
	}

	g, gctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		TraderID:  a.cfg.Recovery.TraderID,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})

	replayMgr := recovery.NewEventReplayManager(deps.TradingCache, a.logger)

	// No supervisor and no engine in this mode; the recovery-state and
	// shutdown endpoints answer 404 and 503.
	a.startOpsServer(gctx, g, deps, hub, server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, a.logger),
		Recovery: handler.NewRecoveryHandler(a.cfg.Recovery.TraderID, nil, nil, replayMgr, a.logger),
		Journal:  handler.NewJournalHandler(deps.JournalStore, a.logger),
		Shutdown: handler.NewShutdownHandler(nil, a.logger),
	})

	return g.Wait()
}

// ReplayMode runs one gap diagnostic for the configured trader and prints
// the result as JSON for scripting.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	traderID := a.cfg.Recovery.TraderID
	a.logger.InfoContext(ctx, "starting replay mode",
		slog.String("trader_id", traderID),
		slog.String("instrument_id", a.cfg.Recovery.InstrumentID),
	)

	replayMgr := recovery.NewEventReplayManager(deps.TradingCache, a.logger)

	events, err := replayMgr.ReplayEvents(ctx, traderID, a.cfg.Recovery.InstrumentID, 0, 0)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}
	gaps, err := replayMgr.DetectEventGaps(ctx, traderID, recovery.DefaultMaxGapSecs)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
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
	if deps.Metrics != nil {
		deps.Metrics.AddReplayedEvents(len(events))
		deps.Metrics.AddSyntheticEvents(synthetic)
	}

	report := struct {
		TraderID       string            `json:"trader_id"`
		InstrumentID   string            `json:"instrument_id,omitempty"`
		EventCount     int               `json:"event_count"`
		SyntheticCount int               `json:"synthetic_count"`
		Approximate    bool              `json:"approximate"`
		MaxGapSecs     float64           `json:"max_gap_secs"`
		Gaps           []domain.EventGap `json:"gaps"`
	}{
		TraderID:       traderID,
		InstrumentID:   a.cfg.Recovery.InstrumentID,
		EventCount:     len(events),
		SyntheticCount: synthetic,
		Approximate:    synthetic > 0 || len(gaps) > 0,
		MaxGapSecs:     recovery.DefaultMaxGapSecs,
		Gaps:           gaps,
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("replay mode: marshal report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// ArchiveMode exports journal rows older than the retention cutoff to S3 and
// exits. Row deletion is a separate step run after the export is verified.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (postgres and s3 must be enabled)")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.S3.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
	)

	eventCount, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	shutdownCount, err := deps.Archiver.ArchiveShutdowns(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("events_archived", eventCount),
		slog.Int64("shutdowns_archived", shutdownCount),
	)
	return nil
}

// startOpsServer adds the ops API server goroutines to the given errgroup.
// The server shuts down gracefully when the context is cancelled.
func (a *App) startOpsServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	hub *ws.Hub,
	handlers server.Handlers,
) {
	var metricsHandler http.Handler
	if deps.Metrics != nil {
		metricsHandler = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Host:        a.cfg.Server.Host,
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
	}, handlers, hub, metricsHandler, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "ops API listening",
			slog.String("host", a.cfg.Server.Host),
			slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "ops API shutting down")
		return srv.Shutdown(shutCtx)
	})
}

// recoveryFanOut pushes each milestone event to every wired observability
// sink: the postgres journal, the Redis signal bus feeding the WebSocket hub,
// Prometheus counters, and external notifications on terminal events. Every
// sink is best-effort; a failure is logged and never gates recovery.
//
// Delivery runs on a single worker goroutine so journal rows land in emit
// order. The emitter callback itself only records the event and returns.
type recoveryFanOut struct {
	app    *App
	deps   *Dependencies
	hub    *ws.Hub // nil when the ops server is disabled
	orch   *recovery.Orchestrator
	states *recovery.StateManager
	events chan domain.RecoveryEvent

	mu            sync.Mutex
	discrepancies []string
}

func newRecoveryFanOut(app *App, deps *Dependencies, hub *ws.Hub, orch *recovery.Orchestrator, states *recovery.StateManager) *recoveryFanOut {
	return &recoveryFanOut{
		app:    app,
		deps:   deps,
		hub:    hub,
		orch:   orch,
		states: states,
		events: make(chan domain.RecoveryEvent, 64),
	}
}

// handle is the emitter callback. It must not block: the cheap bookkeeping
// happens inline and delivery is queued for the worker.
func (f *recoveryFanOut) handle(evt domain.RecoveryEvent) {
	// Collected synchronously so a terminal event sees every discrepancy
	// that preceded it.
	if evt.Type == domain.RecoveryEventPositionDiscrepancy {
		if msg, ok := evt.Detail["message"].(string); ok {
			f.mu.Lock()
			f.discrepancies = append(f.discrepancies, msg)
			f.mu.Unlock()
		}
	}
	if f.hub != nil {
		f.hub.SetPhase(f.orch.Phase())
	}

	select {
	case f.events <- evt:
	default:
		f.app.logger.Warn("guard mode: fan-out queue full, dropping event",
			slog.String("type", string(evt.Type)))
	}
}

// run delivers queued events until the context ends.
func (f *recoveryFanOut) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-f.events:
			f.deliver(evt)
		}
	}
}

func (f *recoveryFanOut) deliver(evt domain.RecoveryEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger := f.app.logger

	if f.deps.JournalStore != nil {
		if err := f.deps.JournalStore.RecordEvent(ctx, evt); err != nil {
			logger.WarnContext(ctx, "guard mode: journal event write failed",
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()))
		}
	}

	if payload, err := json.Marshal(evt); err == nil {
		if err := f.deps.SignalBus.Publish(ctx, "ch:recovery", payload); err != nil {
			logger.WarnContext(ctx, "guard mode: event publish failed",
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()))
		}
		if err := f.deps.SignalBus.StreamAppend(ctx, "stream:recovery:"+evt.TraderID, payload); err != nil {
			logger.WarnContext(ctx, "guard mode: event stream append failed",
				slog.String("type", string(evt.Type)),
				slog.String("error", err.Error()))
		}
	}

	f.bumpMetrics(evt)

	switch evt.Type {
	case domain.RecoveryEventCompleted, domain.RecoveryEventFailed, domain.RecoveryEventTimeout:
		f.journalAttempt(ctx, evt)
		f.notify(ctx, evt)
	}
}

func (f *recoveryFanOut) bumpMetrics(evt domain.RecoveryEvent) {
	m := f.deps.Metrics
	if m == nil {
		return
	}
	switch evt.Type {
	case domain.RecoveryEventPositionDiscrepancy:
		m.AddDiscrepancy("position")
	case domain.RecoveryEventCompleted:
		m.AddRecoveryAttempt("completed")
		m.SetReady(true)
		if ms, ok := evt.Detail["duration_ms"].(int64); ok {
			m.ObserveRecoveryDuration(float64(ms) / 1000.0)
		}
	case domain.RecoveryEventFailed:
		m.AddRecoveryAttempt("failed")
		m.SetReady(false)
	case domain.RecoveryEventTimeout:
		m.AddRecoveryAttempt("timeout")
		m.SetReady(false)
	}
}

// journalAttempt records the terminal recovery state as one attempt row,
// including every discrepancy reconciliation reported along the way.
func (f *recoveryFanOut) journalAttempt(ctx context.Context, evt domain.RecoveryEvent) {
	if f.deps.JournalStore == nil {
		return
	}

	f.mu.Lock()
	discrepancies := append([]string(nil), f.discrepancies...)
	f.mu.Unlock()

	attempt := domain.RecoveryAttempt{
		TraderID:      evt.TraderID,
		State:         f.states.State(),
		Discrepancies: discrepancies,
		CreatedAt:     evt.Timestamp,
	}
	if err := f.deps.JournalStore.RecordAttempt(ctx, attempt); err != nil {
		f.app.logger.WarnContext(ctx, "guard mode: journal attempt write failed",
			slog.String("error", err.Error()))
	}
}

func (f *recoveryFanOut) notify(ctx context.Context, evt domain.RecoveryEvent) {
	title := "tradeguard: " + string(evt.Type)
	msg := fmt.Sprintf("trader %s: %s", evt.TraderID, evt.Type)
	if detail, ok := evt.Detail["message"].(string); ok && detail != "" {
		msg += " (" + detail + ")"
	}
	if err := f.deps.Notifier.Notify(ctx, string(evt.Type), title, msg); err != nil {
		f.app.logger.WarnContext(ctx, "guard mode: notification failed",
			slog.String("error", err.Error()))
	}
}

// secsToDuration converts a fractional-seconds config value to a Duration.
func secsToDuration(secs float64) time.Duration {
	return time.Duration(secs * float64(time.Second))
}

// signalReason maps an OS signal to its shutdown reason tag.
func signalReason(sig os.Signal) domain.ShutdownReason {
	if sig == syscall.SIGINT {
		return domain.ShutdownSigint
	}
	return domain.ShutdownSigterm
}
