package port

import (
	"context"
	"io"
)

type CaptureStorage interface {
	DownloadCapture(ctx context.Context, objectKey string, destPath string) error
	UploadDataset(ctx context.Context, objectKey string, reader io.Reader, size int64) error
}
