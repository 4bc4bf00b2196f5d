package domain

import "time"

// ShutdownReason tags what triggered the shutdown sequence.
type ShutdownReason string

const (
	ShutdownSigterm   ShutdownReason = "sigterm"
	ShutdownSigint    ShutdownReason = "sigint"
	ShutdownException ShutdownReason = "exception"
	ShutdownManual    ShutdownReason = "manual"
)

// ParseShutdownReason maps a free-form reason string onto one of the known
// tags. Anything unrecognized is an explicit manual request, not an error.
func ParseShutdownReason(s string) ShutdownReason {
	switch ShutdownReason(s) {
	case ShutdownSigterm:
		return ShutdownSigterm
	case ShutdownSigint:
		return ShutdownSigint
	case ShutdownException:
		return ShutdownException
	default:
		return ShutdownManual
	}
}

// ShutdownReport summarizes one executed shutdown sequence for the journal
// and the final log line.
type ShutdownReport struct {
	Reason               ShutdownReason `json:"reason"`
	TsStarted            int64          `json:"ts_started"`
	TsCompleted          int64          `json:"ts_completed"`
	DurationMs           float64        `json:"duration_ms"`
	OrdersCancelled      int            `json:"orders_cancelled"`
	UnprotectedPositions int            `json:"unprotected_positions"`
	TimedOut             bool           `json:"timed_out"`
	Error                string         `json:"error,omitempty"`
	ExitCode             int            `json:"exit_code"`
}

// ShutdownRecord is a journaled shutdown report as read back from storage.
type ShutdownRecord struct {
	ID        int64          `json:"id"`
	TraderID  string         `json:"trader_id"`
	Report    ShutdownReport `json:"report"`
	CreatedAt time.Time      `json:"created_at"`
}
