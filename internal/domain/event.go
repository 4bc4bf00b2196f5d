package domain

import "time"

// PositionEventType identifies the kind of a position event, recorded or
// synthetic.
type PositionEventType string

const (
	EventPositionOpened   PositionEventType = "position.opened"
	EventPositionChanged  PositionEventType = "position.changed"
	EventOrderFilled      PositionEventType = "order.filled"
	EventPositionSnapshot PositionEventType = "position.snapshot"
)

// PositionEvent is one entry in a trader's position-event history. Synthetic
// events are manufactured by the replay manager to stand in for missing
// history; they are tagged IsSynthetic and are transient, never persisted by
// the core.
type PositionEvent struct {
	EventType        PositionEventType `json:"event_type"`
	InstrumentID     string            `json:"instrument_id"`
	TsEvent          int64             `json:"ts_event"`
	Sequence         int64             `json:"sequence"`
	IsSynthetic      bool              `json:"is_synthetic"`
	Side             Side              `json:"side,omitempty"`
	Quantity         float64           `json:"quantity,omitempty"`
	Price            float64           `json:"price,omitempty"`
	PreviousQuantity float64           `json:"previous_quantity,omitempty"`
}

// EventGap is a detected discontinuity in a trader's event sequence:
// sequence numbers StartSeq..EndSeq are missing between the events recorded
// at StartTs and EndTs.
type EventGap struct {
	StartSeq int64 `json:"start_seq"`
	EndSeq   int64 `json:"end_seq"`
	StartTs  int64 `json:"start_ts"`
	EndTs    int64 `json:"end_ts"`
}

// RecoveryEventType identifies a recovery lifecycle milestone.
type RecoveryEventType string

const (
	RecoveryEventStarted             RecoveryEventType = "recovery.started"
	RecoveryEventPositionLoaded      RecoveryEventType = "recovery.position.loaded"
	RecoveryEventPositionReconciled  RecoveryEventType = "recovery.position.reconciled"
	RecoveryEventPositionDiscrepancy RecoveryEventType = "recovery.position.discrepancy"
	RecoveryEventIndicatorsWarming   RecoveryEventType = "recovery.indicators.warming"
	RecoveryEventIndicatorsReady     RecoveryEventType = "recovery.indicators.ready"
	RecoveryEventCompleted           RecoveryEventType = "recovery.completed"
	RecoveryEventFailed              RecoveryEventType = "recovery.failed"
	RecoveryEventTimeout             RecoveryEventType = "recovery.timeout"
)

// ArchiveCompleted journals a finished cold-storage export. Archive events
// share the journal with recovery milestones and carry no trader ID.
const ArchiveCompleted RecoveryEventType = "archive.completed"

// RecoveryEvent is the externally observable record of one lifecycle
// milestone. Emitting one never influences control flow.
type RecoveryEvent struct {
	Type      RecoveryEventType `json:"type"`
	TraderID  string            `json:"trader_id"`
	Timestamp time.Time         `json:"timestamp"`
	Detail    map[string]any    `json:"detail,omitempty"`
}
