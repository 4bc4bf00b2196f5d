package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/config"
	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// phase is the orchestrator's position in the startup sequence.
type phase int

const (
	phaseNotStarted phase = iota
	phaseDetecting
	phaseWarmingUp
	phaseReady
	phaseStopped
)

func (p phase) String() string {
	switch p {
	case phaseNotStarted:
		return "not_started"
	case phaseDetecting:
		return "detecting"
	case phaseWarmingUp:
		return "warming_up"
	case phaseReady:
		return "ready"
	case phaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Orchestrator drives the ordered recovery sequence for one trader and one
// traded instrument: instrument load, position detection and reconciliation,
// indicator warmup, completion. The sequence is strictly ordered; only the
// historical-data request runs off the calling goroutine.
//
// Timeout enforcement is the caller's job: guard mode arms a watchdog that
// calls Timeout() when the sequence overruns max_recovery_time_secs.
type Orchestrator struct {
	cfg      config.RecoveryConfig
	cache    domain.TradingCache
	market   domain.MarketData
	provider *PositionRecoveryProvider
	states   *StateManager
	emitter  *Emitter
	clock    domain.Clock
	host     domain.TradingHost
	hooks    domain.RecoveryHooks
	logger   *slog.Logger

	mu            sync.Mutex
	phase         phase
	recovered     []domain.PositionSnapshot
	warmupStartNs int64
	warmupDone    bool
}

// NewOrchestrator wires the recovery sequence. market may be nil, in which
// case warmup completes immediately with zero bars. hooks may be nil, which
// disables all host override points.
func NewOrchestrator(
	cfg config.RecoveryConfig,
	cache domain.TradingCache,
	market domain.MarketData,
	provider *PositionRecoveryProvider,
	states *StateManager,
	emitter *Emitter,
	clock domain.Clock,
	host domain.TradingHost,
	hooks domain.RecoveryHooks,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		cache:    cache,
		market:   market,
		provider: provider,
		states:   states,
		emitter:  emitter,
		clock:    clock,
		host:     host,
		hooks:    hooks,
		logger:   logger,
	}
}

// Start runs the startup sequence. It returns once detection is done and the
// historical request is in flight; warmup continues on a background
// goroutine. A second call is a logged no-op. A missing traded instrument
// requests a process stop and returns nil, since there is nothing to recover
// into.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.phase != phaseNotStarted {
		o.mu.Unlock()
		o.logger.WarnContext(ctx, "recovery: start ignored, already started",
			slog.String("phase", o.phase.String()))
		return nil
	}
	o.phase = phaseDetecting
	o.mu.Unlock()

	inst, err := o.cache.Instrument(ctx, o.cfg.InstrumentID)
	if err != nil {
		o.logger.ErrorContext(ctx, "recovery: instrument not found, requesting stop",
			slog.String("instrument_id", o.cfg.InstrumentID),
			slog.Any("error", err))
		o.host.RequestStop("instrument not found: " + o.cfg.InstrumentID)
		o.mu.Lock()
		o.phase = phaseStopped
		o.mu.Unlock()
		return nil
	}

	o.states.StartRecovery()
	o.emitter.EmitRecoveryStarted(o.cfg.TraderID, map[string]any{
		"instrument_id":    inst.ID,
		"recovery_enabled": o.cfg.Enabled,
	})
	if err := o.states.SaveState(); err != nil {
		o.logger.WarnContext(ctx, "recovery: save state", slog.Any("error", err))
	}

	if o.cfg.Enabled {
		if err := o.detectPositions(ctx); err != nil {
			o.Fail(err.Error())
			return err
		}
	}

	o.emitter.EmitIndicatorsWarming(o.cfg.TraderID, map[string]any{
		"lookback_days": o.cfg.WarmupLookbackDays,
	})

	now := o.clock.Now()
	fromNs := now.AddDate(0, 0, -o.cfg.WarmupLookbackDays).UnixNano()
	toNs := now.UnixNano()

	o.mu.Lock()
	o.phase = phaseWarmingUp
	o.warmupStartNs = o.clock.NowNanos()
	o.mu.Unlock()

	if o.market == nil {
		o.handleWarmupData(ctx, nil)
		return nil
	}

	go func() {
		bars, err := o.market.Candles(ctx, o.cfg.InstrumentID, fromNs, toNs)
		if err != nil {
			o.Fail(fmt.Sprintf("historical data request failed: %v", err))
			return
		}
		o.handleWarmupData(ctx, bars)
	}()
	return nil
}

// detectPositions loads open cached positions, reconciles them against the
// exchange when one is wired, and adopts the result. Exchange-only positions
// are adopted only when claim_external_positions is set.
func (o *Orchestrator) detectPositions(ctx context.Context) error {
	cached, err := o.provider.CachedPositions(ctx, o.cfg.TraderID)
	if err != nil {
		return err
	}

	open := make([]domain.PositionSnapshot, 0, len(cached))
	cachedIDs := make(map[string]bool, len(cached))
	for _, pos := range cached {
		if !pos.IsOpen {
			continue
		}
		if err := pos.Validate(); err != nil {
			o.logger.WarnContext(ctx, "recovery: invalid cached position skipped",
				slog.String("instrument_id", pos.InstrumentID),
				slog.Any("error", err))
			continue
		}
		open = append(open, pos)
		cachedIDs[pos.InstrumentID] = true
	}

	recovered := open
	discrepancyCount := 0
	if o.provider.HasExchange() {
		exch, err := o.provider.ExchangePositions(ctx, o.cfg.TraderID)
		if err != nil {
			return err
		}

		reconciled, discrepancies := o.provider.ReconcilePositions(open, exch)
		discrepancyCount = len(discrepancies)
		for _, d := range discrepancies {
			o.emitter.EmitPositionDiscrepancy(o.cfg.TraderID, map[string]any{
				"message": d,
			})
		}

		recovered = make([]domain.PositionSnapshot, 0, len(reconciled))
		for _, pos := range reconciled {
			if !cachedIDs[pos.InstrumentID] && !o.cfg.ClaimExternalPositions {
				o.logger.WarnContext(ctx, "recovery: external position skipped",
					slog.String("instrument_id", pos.InstrumentID),
					slog.String("side", string(pos.Side)))
				continue
			}
			recovered = append(recovered, pos)
		}
	}

	orders, err := o.cache.OpenOrders(ctx, o.cfg.TraderID, "")
	if err != nil {
		o.logger.WarnContext(ctx, "recovery: open orders unavailable, stop order check degraded",
			slog.Any("error", err))
		orders = nil
	}

	for _, pos := range recovered {
		o.mu.Lock()
		o.recovered = append(o.recovered, pos)
		o.mu.Unlock()
		o.states.IncrementPositionsRecovered(1)

		o.logger.InfoContext(ctx, "recovery: position recovered",
			slog.String("instrument_id", pos.InstrumentID),
			slog.String("side", string(pos.Side)),
			slog.Float64("quantity", pos.Quantity))
		o.emitter.EmitPositionLoaded(o.cfg.TraderID, map[string]any{
			"instrument_id": pos.InstrumentID,
			"side":          string(pos.Side),
			"quantity":      pos.Quantity,
		})

		if !hasStopOrder(orders, pos.InstrumentID) {
			o.logger.WarnContext(ctx, "recovery: recovered position has no stop order",
				slog.String("instrument_id", pos.InstrumentID))
		}

		o.safeHook("on_position_recovered", func() { o.hooks.OnPositionRecovered(pos) })
	}

	o.emitter.EmitPositionReconciled(o.cfg.TraderID, map[string]any{
		"recovered":     len(recovered),
		"discrepancies": discrepancyCount,
	})
	return nil
}

// handleWarmupData consumes one historical delivery, empty or not. Bars are
// fed to the host oldest first. A delivery after warmup completion is
// ignored; exactly one delivery completes the warmup.
func (o *Orchestrator) handleWarmupData(ctx context.Context, bars []domain.Bar) {
	o.mu.Lock()
	if o.warmupDone {
		o.mu.Unlock()
		o.logger.WarnContext(ctx, "recovery: warmup data ignored, warmup already complete",
			slog.Int("bars", len(bars)))
		return
	}
	o.warmupDone = true
	o.mu.Unlock()

	sort.Slice(bars, func(i, j int) bool { return bars[i].TsEvent < bars[j].TsEvent })
	for _, bar := range bars {
		o.safeHook("on_historical_data", func() { o.hooks.OnHistoricalData(bar) })
	}

	o.completeWarmup(ctx, len(bars))
}

func (o *Orchestrator) completeWarmup(ctx context.Context, barCount int) {
	o.states.SetIndicatorsWarmed()
	o.states.SetOrdersReconciled()

	st := o.states.CompleteRecovery()
	if st.Status != domain.RecoveryCompleted {
		o.logger.WarnContext(ctx, "recovery: completion skipped, recovery already terminal",
			slog.String("status", string(st.Status)))
		return
	}
	if err := o.states.SaveState(); err != nil {
		o.logger.WarnContext(ctx, "recovery: save state", slog.Any("error", err))
	}

	o.mu.Lock()
	o.phase = phaseReady
	elapsedMs := (o.clock.NowNanos() - o.warmupStartNs) / 1e6
	o.mu.Unlock()

	o.emitter.EmitIndicatorsReady(o.cfg.TraderID, map[string]any{
		"bars":       barCount,
		"elapsed_ms": elapsedMs,
	})
	o.emitter.EmitRecoveryCompleted(o.cfg.TraderID, map[string]any{
		"duration_ms":         st.RecoveryDurationMs(),
		"positions_recovered": st.PositionsRecovered,
	})
	o.safeHook("on_warmup_complete", func() { o.hooks.OnWarmupComplete() })

	o.logger.InfoContext(ctx, "recovery: complete",
		slog.Int64("duration_ms", st.RecoveryDurationMs()),
		slog.Int("positions_recovered", st.PositionsRecovered),
		slog.Int("warmup_bars", barCount))
}

// Fail records the failed terminal state, saves it, and emits
// recovery.failed. Safe to call from any goroutine; after a terminal state
// is reached further calls are logged no-ops.
func (o *Orchestrator) Fail(msg string) {
	st := o.states.FailRecovery(msg)
	if st.Status != domain.RecoveryFailed {
		o.logger.Warn("recovery: fail ignored, recovery already terminal",
			slog.String("status", string(st.Status)))
		return
	}

	o.mu.Lock()
	if o.phase == phaseStopped {
		o.mu.Unlock()
		return
	}
	o.phase = phaseStopped
	o.mu.Unlock()

	if err := o.states.SaveState(); err != nil {
		o.logger.Warn("recovery: save state", slog.Any("error", err))
	}
	o.emitter.EmitRecoveryFailed(o.cfg.TraderID, map[string]any{
		"message": st.ErrorMessage,
	})
}

// Timeout records the timeout terminal state. It is the watchdog entry
// point and loses cleanly to a completion that got there first.
func (o *Orchestrator) Timeout() {
	st := o.states.TimeoutRecovery()
	if st.Status != domain.RecoveryTimeout {
		o.logger.Warn("recovery: timeout ignored, recovery already terminal",
			slog.String("status", string(st.Status)))
		return
	}

	o.mu.Lock()
	if o.phase == phaseStopped {
		o.mu.Unlock()
		return
	}
	o.phase = phaseStopped
	o.mu.Unlock()

	if err := o.states.SaveState(); err != nil {
		o.logger.Warn("recovery: save state", slog.Any("error", err))
	}
	o.emitter.EmitRecoveryTimeout(o.cfg.TraderID, map[string]any{
		"message": st.ErrorMessage,
	})
}

// IsWarmingUp reports whether the orchestrator is between the historical
// request and warmup completion.
func (o *Orchestrator) IsWarmingUp() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase == phaseWarmingUp
}

// IsReady reports whether trading may be ungated: warmup finished and the
// recovery record completed. Downstream trading logic must consult this, not
// the phase alone.
func (o *Orchestrator) IsReady() bool {
	o.mu.Lock()
	ready := o.phase == phaseReady
	o.mu.Unlock()
	return ready && o.states.State().IsComplete()
}

// Phase returns the current phase name for status surfaces.
func (o *Orchestrator) Phase() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase.String()
}

// RecoveredPositions returns a copy of the positions adopted during
// detection.
func (o *Orchestrator) RecoveredPositions() []domain.PositionSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.PositionSnapshot, len(o.recovered))
	copy(out, o.recovered)
	return out
}

// safeHook contains one host hook call. A panicking override is logged and
// never aborts the sequence. Nil hooks disable every call site.
func (o *Orchestrator) safeHook(name string, fn func()) {
	if o.hooks == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("recovery: hook panicked",
				slog.String("hook", name),
				slog.Any("panic", r))
		}
	}()
	fn()
}

func hasStopOrder(orders []domain.OrderInfo, instrumentID string) bool {
	for _, ord := range orders {
		if ord.InstrumentID == instrumentID && ord.IsStopOrder() {
			return true
		}
	}
	return false
}
