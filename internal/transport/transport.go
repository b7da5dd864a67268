// Package transport hands finished claim files to the clearinghouse.
package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/drfirst/go-edi837/pkg/circuitbreaker"
)

// UploadResult describes a completed transfer
type UploadResult struct {
	RemotePath string        `json:"remote_path"`
	Bytes      int64         `json:"bytes"`
	Duration   time.Duration `json:"duration"`
}

// Uploader transfers a local file to the clearinghouse under remoteFilename. A nil
// error means the file is fully in place at RemotePath.
type Uploader interface {
	Upload(ctx context.Context, localPath, remoteFilename string) (*UploadResult, error)
}

// UploadError wraps a failed transfer
type UploadError struct {
	RemoteFilename string
	Op             string
	Cause          error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %s: %v", e.RemoteFilename, e.Op, e.Cause)
}

func (e *UploadError) Unwrap() error {
	return e.Cause
}

// DirectoryUploader drops files into a local directory, for test interchanges and
// clearinghouse mailboxes mounted on the host.
type DirectoryUploader struct {
	dir string
}

// NewDirectoryUploader creates an uploader writing into dir
func NewDirectoryUploader(dir string) *DirectoryUploader {
	return &DirectoryUploader{dir: dir}
}

func (d *DirectoryUploader) Upload(ctx context.Context, localPath, remoteFilename string) (*UploadResult, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "mkdir", Cause: err}
	}

	src, err := os.Open(localPath)
	if err != nil {
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "open", Cause: err}
	}
	defer src.Close()

	final := filepath.Join(d.dir, filepath.Base(remoteFilename))
	tmp := final + ".part"
	dst, err := os.Create(tmp)
	if err != nil {
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "create", Cause: err}
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "write", Cause: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return nil, &UploadError{RemoteFilename: remoteFilename, Op: "rename", Cause: err}
	}
	return &UploadResult{RemotePath: final, Bytes: n, Duration: time.Since(start)}, nil
}

// BreakerUploader stops hammering an unreachable clearinghouse
type BreakerUploader struct {
	next    Uploader
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewBreakerUploader wraps next with cb
func NewBreakerUploader(next Uploader, cb *circuitbreaker.CircuitBreaker, logger *zap.Logger) *BreakerUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerUploader{next: next, breaker: cb, logger: logger}
}

func (b *BreakerUploader) Upload(ctx context.Context, localPath, remoteFilename string) (*UploadResult, error) {
	res, err := circuitbreaker.Do(ctx, b.breaker, func(ctx context.Context) (*UploadResult, error) {
		return b.next.Upload(ctx, localPath, remoteFilename)
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			b.logger.Warn("clearinghouse circuit open, upload not attempted",
				zap.String("remote_filename", remoteFilename))
		}
		return nil, err
	}
	return res, nil
}
