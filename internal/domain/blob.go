package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver moves old journal rows from the database to cold storage.
// Archived rows are not deleted here; pruning is a separate, explicit step
// run only after the archive has been verified.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	ArchiveShutdowns(ctx context.Context, before time.Time) (int64, error)
}
