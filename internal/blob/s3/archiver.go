package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeguard/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the cutoff queries it actually calls, not the
// full journal store. The Postgres JournalStore satisfies all three.
// ---------------------------------------------------------------------------

// EventArchiveStore provides read access to journaled milestone events for
// archival purposes.
type EventArchiveStore interface {
	// ListEventsBefore returns events recorded strictly before the cutoff,
	// oldest first. limit <= 0 means no limit.
	ListEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.RecoveryEvent, error)
}

// ShutdownArchiveStore provides read access to journaled shutdown reports
// for archival purposes.
type ShutdownArchiveStore interface {
	// ListShutdownsBefore returns shutdown records created strictly before
	// the cutoff, oldest first. limit <= 0 means no limit.
	ListShutdownsBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ShutdownRecord, error)
}

// ArchiveJournal records the archival itself.
type ArchiveJournal interface {
	RecordEvent(ctx context.Context, event domain.RecoveryEvent) error
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the journal for cold
// rows, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived rows from the journal is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	events    EventArchiveStore
	shutdowns ShutdownArchiveStore
	journal   ArchiveJournal
	clock     domain.Clock
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	events EventArchiveStore,
	shutdowns ShutdownArchiveStore,
	journal ArchiveJournal,
	clock domain.Clock,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		events:    events,
		shutdowns: shutdowns,
		journal:   journal,
		clock:     clock,
	}
}

// ArchiveEvents queries all milestone events before the cutoff, serializes
// them to JSONL, and uploads the file to S3 at
// archive/recovery_events/YYYY-MM.jsonl. The archival is journaled and the
// count of archived rows is returned.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListEventsBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("recovery_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))

	if err := a.recordArchival(ctx, "recovery_events", path, count, before); err != nil {
		return count, fmt.Errorf("s3blob: archive events journal: %w", err)
	}

	return count, nil
}

// ArchiveShutdowns queries all shutdown records before the cutoff,
// serializes them to JSONL, and uploads the file to S3 at
// archive/shutdown_reports/YYYY-MM.jsonl. The archival is journaled and the
// count of archived rows is returned.
func (a *ArchiveImpl) ArchiveShutdowns(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.shutdowns.ListShutdownsBefore(ctx, before, 0)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive shutdowns query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive shutdowns marshal: %w", err)
	}

	path := archivePath("shutdown_reports", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive shutdowns upload: %w", err)
	}

	count := int64(len(records))

	if err := a.recordArchival(ctx, "shutdown_reports", path, count, before); err != nil {
		return count, fmt.Errorf("s3blob: archive shutdowns journal: %w", err)
	}

	return count, nil
}

// recordArchival journals one finished export.
func (a *ArchiveImpl) recordArchival(ctx context.Context, kind, path string, count int64, before time.Time) error {
	return a.journal.RecordEvent(ctx, domain.RecoveryEvent{
		Type:      domain.ArchiveCompleted,
		Timestamp: a.clock.Now(),
		Detail: map[string]any{
			"kind":   kind,
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		},
	})
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/recovery_events/2025-01.jsonl
//	archive/shutdown_reports/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
