package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// DefaultBatchSize is the number of reports per archive object.
const DefaultBatchSize = 60

// CycleArchiver batches cycle reports and uploads each batch as one JSONL
// object at <prefix>/YYYY/MM/DD/<first-started-at>-<first-id>.jsonl. A batch
// is also cut when the UTC day rolls over so that no object spans two day
// partitions.
type CycleArchiver struct {
	writer    domain.BlobWriter
	audit     domain.AuditStore // optional
	prefix    string
	batchSize int

	mu      sync.Mutex
	pending []domain.CycleReport
}

// NewArchiver creates a CycleArchiver. audit may be nil; batchSize <= 0 uses
// DefaultBatchSize.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore, prefix string, batchSize int) *CycleArchiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &CycleArchiver{
		writer:    writer,
		audit:     audit,
		prefix:    prefix,
		batchSize: batchSize,
	}
}

// Add queues report and uploads the batch once it is full or when report
// starts a new day. Upload errors keep the batch queued for the next try.
func (a *CycleArchiver) Add(ctx context.Context, report domain.CycleReport) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) > 0 && !sameDay(a.pending[0].StartedAt, report.StartedAt) {
		if err := a.flushLocked(ctx); err != nil {
			return err
		}
	}
	a.pending = append(a.pending, report)
	if len(a.pending) >= a.batchSize {
		return a.flushLocked(ctx)
	}
	return nil
}

// Flush uploads whatever is queued.
func (a *CycleArchiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

// Pending returns the number of queued reports.
func (a *CycleArchiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *CycleArchiver) flushLocked(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}

	buf, err := marshalJSONL(a.pending)
	if err != nil {
		return fmt.Errorf("s3blob: archive cycles marshal: %w", err)
	}
	key := archivePath(a.prefix, a.pending[0])
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive cycles upload: %w", err)
	}

	count := len(a.pending)
	a.pending = nil

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.cycles", map[string]any{
			"path":  key,
			"count": count,
		}); err != nil {
			return fmt.Errorf("s3blob: archive cycles audit log: %w", err)
		}
	}
	return nil
}

// archivePath builds the object key for a batch starting with first:
//
//	cycles/2026/03/01/20260301T120000Z-<id>.jsonl
func archivePath(prefix string, first domain.CycleReport) string {
	t := first.StartedAt.UTC()
	return path.Join(prefix, t.Format("2006/01/02"), t.Format("20060102T150405Z")+"-"+first.ID+".jsonl")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// marshalJSONL encodes each record as one compact JSON line.
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
