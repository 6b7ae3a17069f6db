package domain

import (
	"context"
	"io"
)

// BlobWriter stores cycle archives in object storage. Paths are slash
// separated keys such as "cycles/2026/10/16/20261016T120000Z-<id>.jsonl".
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
