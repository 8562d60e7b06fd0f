package blobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// BlobServer reads blobs over HTTP from a graph-store server.
type BlobServer struct {
	// BlobserverURL is the base URL to the blobserver, typically http://graph-store
	BlobserverURL *url.URL

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
}

var _ BlobReader = &BlobServer{}

func (l *BlobServer) Download(ctx context.Context, info BlobInfo, destPath string) error {
	url := l.BlobserverURL.JoinPath(info.Key)

	var buf bytes.Buffer
	if err := l.downloadToWriter(ctx, url.String(), &buf); err != nil {
		return fmt.Errorf("downloading from %q: %w", url, err)
	}
	if _, err := writeToFile(ctx, &buf, destPath); err != nil {
		return fmt.Errorf("writing %q: %w", destPath, err)
	}
	return nil
}

func (l *BlobServer) ReadAll(ctx context.Context, info BlobInfo) ([]byte, error) {
	url := l.BlobserverURL.JoinPath(info.Key)

	var buf bytes.Buffer
	if err := l.downloadToWriter(ctx, url.String(), &buf); err != nil {
		return nil, fmt.Errorf("downloading from %q: %w", url, err)
	}
	return buf.Bytes(), nil
}

func (l *BlobServer) downloadToWriter(ctx context.Context, url string, w io.Writer) error {
	log := klog.FromContext(ctx)

	log.Info("downloading from url", "url", url)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	startedAt := time.Now()

	httpClient := l.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		if resp.StatusCode == 404 {
			return fmt.Errorf("blob not found: %w", os.ErrNotExist)
		}
		return fmt.Errorf("unexpected status downloading from upstream source: %v", resp.Status)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("downloading from upstream source: %w", err)
	}

	log.Info("downloaded blob", "url", url, "bytes", n, "duration", time.Since(startedAt))

	return nil
}
