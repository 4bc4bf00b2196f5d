package recovery

import (
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// EventCallback receives recovery milestone events. Callbacks run on the
// emitting goroutine and must not block.
type EventCallback func(domain.RecoveryEvent)

// Emitter publishes recovery milestone events to the log and to an optional
// registered callback. A panicking callback is contained and logged; it never
// takes down the recovery flow.
type Emitter struct {
	clock  domain.Clock
	logger *slog.Logger

	mu       sync.Mutex
	callback EventCallback
}

// NewEmitter creates an emitter with no callback registered.
func NewEmitter(clock domain.Clock, logger *slog.Logger) *Emitter {
	return &Emitter{
		clock:  clock,
		logger: logger,
	}
}

// SetCallback registers the sink for subsequent events. Passing nil removes
// the current callback.
func (e *Emitter) SetCallback(cb EventCallback) {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
}

func (e *Emitter) emit(eventType domain.RecoveryEventType, traderID string, detail map[string]any) {
	evt := domain.RecoveryEvent{
		Type:      eventType,
		TraderID:  traderID,
		Timestamp: e.clock.Now(),
		Detail:    detail,
	}

	attrs := []any{
		slog.String("event", string(eventType)),
		slog.String("trader_id", traderID),
	}
	switch eventType {
	case domain.RecoveryEventFailed:
		e.logger.Error("recovery: milestone", attrs...)
	case domain.RecoveryEventTimeout, domain.RecoveryEventPositionDiscrepancy:
		e.logger.Warn("recovery: milestone", attrs...)
	default:
		e.logger.Info("recovery: milestone", attrs...)
	}

	e.mu.Lock()
	cb := e.callback
	e.mu.Unlock()
	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("recovery: event callback panicked",
				slog.String("event", string(eventType)),
				slog.Any("panic", r))
		}
	}()
	cb(evt)
}

func (e *Emitter) EmitRecoveryStarted(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventStarted, traderID, detail)
}

func (e *Emitter) EmitPositionLoaded(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventPositionLoaded, traderID, detail)
}

func (e *Emitter) EmitPositionReconciled(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventPositionReconciled, traderID, detail)
}

func (e *Emitter) EmitPositionDiscrepancy(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventPositionDiscrepancy, traderID, detail)
}

func (e *Emitter) EmitIndicatorsWarming(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventIndicatorsWarming, traderID, detail)
}

func (e *Emitter) EmitIndicatorsReady(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventIndicatorsReady, traderID, detail)
}

func (e *Emitter) EmitRecoveryCompleted(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventCompleted, traderID, detail)
}

func (e *Emitter) EmitRecoveryFailed(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventFailed, traderID, detail)
}

func (e *Emitter) EmitRecoveryTimeout(traderID string, detail map[string]any) {
	e.emit(domain.RecoveryEventTimeout, traderID, detail)
}
