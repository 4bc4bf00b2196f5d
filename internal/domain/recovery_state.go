// Package domain defines the core value types, collaborator interfaces, and
// sentinel errors shared by every tradeguard component. Types here carry no
// behavior beyond pure functions; adapters and services live in their own
// packages and depend inward on this one.
package domain

import "fmt"

// RecoveryStatus is the lifecycle status of one recovery attempt.
//
// Statuses only move forward: pending -> in_progress -> one of
// {completed, failed, timeout}. A terminal status never transitions again
// within the same lifecycle instance; only an explicit Reset returns to
// pending.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryInProgress RecoveryStatus = "in_progress"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
	RecoveryTimeout    RecoveryStatus = "timeout"
)

// TimeoutMessage is the fixed error message recorded on a timeout transition.
const TimeoutMessage = "Recovery exceeded max_recovery_time_secs"

// Terminal reports whether the status is one of the three end states.
func (s RecoveryStatus) Terminal() bool {
	switch s {
	case RecoveryCompleted, RecoveryFailed, RecoveryTimeout:
		return true
	}
	return false
}

// rank orders statuses for the forward-only invariant. All terminal states
// share the same rank; moving between them is as illegal as moving backward.
func (s RecoveryStatus) rank() int {
	switch s {
	case RecoveryPending:
		return 0
	case RecoveryInProgress:
		return 1
	case RecoveryCompleted, RecoveryFailed, RecoveryTimeout:
		return 2
	}
	return -1
}

// RecoveryState is the progress record for one recovery attempt. It is an
// immutable value: every transition is a pure old-state -> new-state function
// and callers must treat returned values as replacements, never mutate fields
// in place. The zero value is not meaningful; use NewRecoveryState.
type RecoveryState struct {
	Status             RecoveryStatus `json:"status"`
	PositionsRecovered int            `json:"positions_recovered"`
	IndicatorsWarmed   bool           `json:"indicators_warmed"`
	OrdersReconciled   bool           `json:"orders_reconciled"`
	TsStarted          int64          `json:"ts_started,omitempty"`
	TsCompleted        int64          `json:"ts_completed,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
}

// NewRecoveryState returns the initial pending state.
func NewRecoveryState() RecoveryState {
	return RecoveryState{Status: RecoveryPending}
}

// Begin starts a recovery attempt: counters reset, start time recorded.
// Allowed from any status (a restart begins a fresh attempt).
func (s RecoveryState) Begin(nowNs int64) RecoveryState {
	return RecoveryState{
		Status:    RecoveryInProgress,
		TsStarted: nowNs,
	}
}

// AddRecovered returns a copy with n more positions counted as recovered.
// Negative n is ignored.
func (s RecoveryState) AddRecovered(n int) RecoveryState {
	if n < 0 {
		return s
	}
	s.PositionsRecovered += n
	return s
}

// WithIndicatorsWarmed marks indicator warmup as finished.
func (s RecoveryState) WithIndicatorsWarmed() RecoveryState {
	s.IndicatorsWarmed = true
	return s
}

// WithOrdersReconciled marks order reconciliation as finished.
func (s RecoveryState) WithOrdersReconciled() RecoveryState {
	s.OrdersReconciled = true
	return s
}

// Complete moves the attempt to its successful terminal state.
func (s RecoveryState) Complete(nowNs int64) RecoveryState {
	s.Status = RecoveryCompleted
	s.TsCompleted = nowNs
	return s
}

// Fail moves the attempt to the failed terminal state, recording why.
func (s RecoveryState) Fail(nowNs int64, msg string) RecoveryState {
	s.Status = RecoveryFailed
	s.TsCompleted = nowNs
	s.ErrorMessage = msg
	return s
}

// Timeout moves the attempt to the timeout terminal state with the fixed
// timeout message.
func (s RecoveryState) Timeout(nowNs int64) RecoveryState {
	s.Status = RecoveryTimeout
	s.TsCompleted = nowNs
	s.ErrorMessage = TimeoutMessage
	return s
}

// Reset returns the attempt to a clean pending state, clearing all counters,
// timestamps, and messages.
func (s RecoveryState) Reset() RecoveryState {
	return NewRecoveryState()
}

// CanTransition reports whether moving from the current status to next obeys
// the forward-only ordering. Begin and Reset are exempt: Begin starts a fresh
// attempt from any status, Reset is the explicit escape hatch.
func (s RecoveryState) CanTransition(next RecoveryStatus) bool {
	return next.rank() > s.Status.rank()
}

// RecoveryDurationMs returns the elapsed recovery time in whole milliseconds,
// or 0 when either timestamp is unset.
func (s RecoveryState) RecoveryDurationMs() int64 {
	if s.TsStarted == 0 || s.TsCompleted == 0 {
		return 0
	}
	return (s.TsCompleted - s.TsStarted) / 1_000_000
}

// IsComplete reports whether recovery finished fully: completed status with
// both indicator warmup and order reconciliation done.
func (s RecoveryState) IsComplete() bool {
	return s.Status == RecoveryCompleted && s.IndicatorsWarmed && s.OrdersReconciled
}

func (s RecoveryState) String() string {
	return fmt.Sprintf("RecoveryState{status=%s positions=%d warmed=%t reconciled=%t}",
		s.Status, s.PositionsRecovered, s.IndicatorsWarmed, s.OrdersReconciled)
}
