package blobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"
)

// LocalFiles reads blobs from the local filesystem. Keys are paths, relative
// to BaseDir when it is set.
type LocalFiles struct {
	BaseDir string
}

var _ Blobstore = (*LocalFiles)(nil)

func (l *LocalFiles) path(info BlobInfo) string {
	if l.BaseDir == "" || filepath.IsAbs(info.Key) {
		return info.Key
	}
	return filepath.Join(l.BaseDir, info.Key)
}

func (l *LocalFiles) ReadAll(ctx context.Context, info BlobInfo) ([]byte, error) {
	p := l.path(info)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", p, err)
	}
	klog.FromContext(ctx).V(2).Info("read local blob", "path", p, "bytes", len(data))
	return data, nil
}

func (l *LocalFiles) Download(ctx context.Context, info BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	p := l.path(info)
	src, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("opening %q: %w", p, err)
	}
	defer src.Close()

	startedAt := time.Now()
	n, err := writeToFile(ctx, src, destPath)
	if err != nil {
		return fmt.Errorf("copying %q: %w", p, err)
	}
	log.Info("copied local blob", "source", p, "destination", destPath, "bytes", n, "duration", time.Since(startedAt))
	return nil
}

// Upload copies sourcePath into the store, unless the key already exists.
func (l *LocalFiles) Upload(ctx context.Context, sourcePath string, info BlobInfo) error {
	log := klog.FromContext(ctx)

	dest := l.path(info)
	if _, err := os.Stat(dest); err == nil {
		log.Info("blob already exists", "path", dest)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("creating directory for %q: %w", dest, err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer src.Close()

	n, err := writeToFile(ctx, src, dest)
	if err != nil {
		return fmt.Errorf("storing %q: %w", dest, err)
	}
	log.Info("stored blob", "source", sourcePath, "destination", dest, "bytes", n)
	return nil
}

// writeToFile writes src to a temporary file next to destinationPath, then
// renames it into place, so readers never see a partial file.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	dir := filepath.Dir(destinationPath)
	tempFile, err := os.CreateTemp(dir, "download")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, fmt.Errorf("downloading from upstream source: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("closing temp file: %w", err)
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, fmt.Errorf("renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false

	return n, nil
}
