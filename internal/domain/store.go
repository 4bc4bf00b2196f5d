package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RecoveryAttempt is one journaled recovery run: the terminal RecoveryState
// plus the discrepancies reconciliation found along the way.
type RecoveryAttempt struct {
	ID            int64         `json:"id"`
	TraderID      string        `json:"trader_id"`
	State         RecoveryState `json:"state"`
	Discrepancies []string      `json:"discrepancies,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// JournalStore persists the append-only recovery journal: attempts,
// milestone events, and shutdown reports. Journal writes are observability;
// a write failure is logged, never allowed to gate recovery or shutdown.
type JournalStore interface {
	RecordAttempt(ctx context.Context, attempt RecoveryAttempt) error
	RecordEvent(ctx context.Context, event RecoveryEvent) error
	RecordShutdown(ctx context.Context, traderID string, report ShutdownReport) error
	ListAttempts(ctx context.Context, traderID string, opts ListOpts) ([]RecoveryAttempt, error)
	ListEvents(ctx context.Context, traderID string, opts ListOpts) ([]RecoveryEvent, error)
}
