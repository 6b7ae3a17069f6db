package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/hedgebot/internal/domain"
)

// archivePartSize keeps multipart uploads at the S3 minimum; archive batches
// rarely exceed a single part.
const archivePartSize = manager.MinUploadPartSize

// Writer uploads archive batches through the transfer manager.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter returns a Writer bound to the client's bucket.
func NewWriter(c *Client) *Writer {
	up := manager.NewUploader(c.s3, func(u *manager.Uploader) {
		u.PartSize = archivePartSize
		u.Concurrency = 2
	})
	return &Writer{uploader: up, bucket: c.bucket}
}

// Put stores data at path, replacing any existing object.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"writer": "hedgebot"},
	})
	if err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
