package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL. It also
// serves the cutoff queries the S3 archiver drains. All writes are
// append-only.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// RecordAttempt journals one finished recovery run. The terminal state and
// the discrepancy list are stored as JSONB.
func (s *JournalStore) RecordAttempt(ctx context.Context, attempt domain.RecoveryAttempt) error {
	stateJSON, err := json.Marshal(attempt.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal recovery state: %w", err)
	}
	discJSON, err := json.Marshal(attempt.Discrepancies)
	if err != nil {
		return fmt.Errorf("postgres: marshal discrepancies: %w", err)
	}

	const query = `INSERT INTO recovery_attempts (trader_id, state, discrepancies) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, attempt.TraderID, stateJSON, discJSON); err != nil {
		return fmt.Errorf("postgres: record recovery attempt: %w", err)
	}
	return nil
}

// RecordEvent journals one recovery milestone event.
func (s *JournalStore) RecordEvent(ctx context.Context, event domain.RecoveryEvent) error {
	detailJSON, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal event detail: %w", err)
	}

	const query = `INSERT INTO recovery_events (trader_id, event_type, detail, ts_event) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, event.TraderID, string(event.Type), detailJSON, event.Timestamp); err != nil {
		return fmt.Errorf("postgres: record recovery event %s: %w", event.Type, err)
	}
	return nil
}

// RecordShutdown journals one shutdown report.
func (s *JournalStore) RecordShutdown(ctx context.Context, traderID string, report domain.ShutdownReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal shutdown report: %w", err)
	}

	const query = `INSERT INTO shutdown_reports (trader_id, report) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, traderID, reportJSON); err != nil {
		return fmt.Errorf("postgres: record shutdown report: %w", err)
	}
	return nil
}

// ListAttempts returns journaled recovery attempts, newest first. An empty
// traderID lists attempts across all traders.
func (s *JournalStore) ListAttempts(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryAttempt, error) {
	query := `SELECT id, trader_id, state, discrepancies, created_at FROM recovery_attempts WHERE 1=1`
	args := []any{}
	argIdx := 1

	if traderID != "" {
		query += fmt.Sprintf(" AND trader_id = $%d", argIdx)
		args = append(args, traderID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recovery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []domain.RecoveryAttempt
	for rows.Next() {
		var a domain.RecoveryAttempt
		var stateJSON, discJSON []byte

		if err := rows.Scan(&a.ID, &a.TraderID, &stateJSON, &discJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan recovery attempt: %w", err)
		}

		if err := json.Unmarshal(stateJSON, &a.State); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal recovery state: %w", err)
		}
		if discJSON != nil {
			if err := json.Unmarshal(discJSON, &a.Discrepancies); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal discrepancies: %w", err)
			}
		}

		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recovery attempts rows: %w", err)
	}
	return attempts, nil
}

// ListEvents returns journaled milestone events, newest first. An empty
// traderID lists events across all traders.
func (s *JournalStore) ListEvents(ctx context.Context, traderID string, opts domain.ListOpts) ([]domain.RecoveryEvent, error) {
	query := `SELECT trader_id, event_type, detail, ts_event FROM recovery_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if traderID != "" {
		query += fmt.Sprintf(" AND trader_id = $%d", argIdx)
		args = append(args, traderID)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts_event >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts_event <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts_event DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recovery events: %w", err)
	}
	defer rows.Close()

	var events []domain.RecoveryEvent
	for rows.Next() {
		var e domain.RecoveryEvent
		var eventType string
		var detailJSON []byte

		if err := rows.Scan(&e.TraderID, &eventType, &detailJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan recovery event: %w", err)
		}

		e.Type = domain.RecoveryEventType(eventType)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recovery events rows: %w", err)
	}
	return events, nil
}

// ListEventsBefore returns up to limit milestone events recorded strictly
// before the cutoff, oldest first. The archiver drains cold rows through it.
func (s *JournalStore) ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.RecoveryEvent, error) {
	query := `SELECT trader_id, event_type, detail, ts_event FROM recovery_events WHERE ts_event < $1 ORDER BY ts_event ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var events []domain.RecoveryEvent
	for rows.Next() {
		var e domain.RecoveryEvent
		var eventType string
		var detailJSON []byte

		if err := rows.Scan(&e.TraderID, &eventType, &detailJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan recovery event: %w", err)
		}

		e.Type = domain.RecoveryEventType(eventType)
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events before rows: %w", err)
	}
	return events, nil
}

// ListShutdownsBefore returns up to limit shutdown records created strictly
// before the cutoff, oldest first.
func (s *JournalStore) ListShutdownsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ShutdownRecord, error) {
	query := `SELECT id, trader_id, report, created_at FROM shutdown_reports WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list shutdowns before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var records []domain.ShutdownRecord
	for rows.Next() {
		var rec domain.ShutdownRecord
		var reportJSON []byte

		if err := rows.Scan(&rec.ID, &rec.TraderID, &reportJSON, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan shutdown record: %w", err)
		}

		if err := json.Unmarshal(reportJSON, &rec.Report); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal shutdown report: %w", err)
		}

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list shutdowns before rows: %w", err)
	}
	return records, nil
}

// Compile-time interface check.
var _ domain.JournalStore = (*JournalStore)(nil)
