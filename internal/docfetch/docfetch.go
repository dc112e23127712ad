// Package docfetch retrieves source document blobs for extraction. The
// production fetcher reads from S3; mock mode uses an in-memory map.
package docfetch

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a document ref with no stored blob.
var ErrNotFound = errors.New("document blob not found")

// Meta describes a fetched blob.
type Meta struct {
	ContentType string
	Size        int64
}

// Fetcher loads document content by storage ref and mints short-lived
// read URLs for inspection pauses.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, Meta, error)
	PresignURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}
