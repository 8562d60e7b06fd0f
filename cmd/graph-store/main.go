package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/justinsb/kgraph/pkg/blobs"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	listen := ":8080"
	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		// We expect CACHE_DIR to be set when running on kubernetes, but default sensibly for local dev
		cacheDir = "~/.cache/graph-store/blobs"
	}
	flag.StringVar(&listen, "listen", listen, "listen address")
	flag.StringVar(&cacheDir, "cache-dir", cacheDir, "cache directory")
	klog.InitFlags(nil)
	flag.Parse()

	if strings.HasPrefix(cacheDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, strings.TrimPrefix(cacheDir, "~/"))
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory %q: %w", cacheDir, err)
	}

	// Without a bucket only graphs already in the cache directory are served.
	var upstream blobs.BlobReader
	if cacheBucket := os.Getenv("CACHE_BUCKET"); cacheBucket != "" {
		if !strings.HasPrefix(cacheBucket, "gs://") {
			return fmt.Errorf("CACHE_BUCKET must be a GCS bucket URL (gs://<bucketName>)")
		}
		cacheBucket = strings.TrimPrefix(cacheBucket, "gs://")
		log.Info("using GCS cache", "bucket", cacheBucket)

		upstream = &blobs.GCSBlobstore{
			Bucket: cacheBucket,
		}
	}

	blobCache := &blobCache{
		BaseDir:  cacheDir,
		upstream: upstream,
	}

	s := &httpServer{
		blobCache: blobCache,
	}

	log.Info("serving graphs", "listen", listen, "cacheDir", cacheDir)
	if err := http.ListenAndServe(listen, s); err != nil {
		return fmt.Errorf("serving on %q: %w", listen, err)
	}

	return nil
}

type httpServer struct {
	blobCache *blobCache
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) == 1 {
		if r.Method == "GET" {
			key := tokens[0]
			s.serveGETBlob(w, r, key)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	http.Error(w, "not found", http.StatusNotFound)
}

func (s *httpServer) serveGETBlob(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()

	log := klog.FromContext(ctx)

	if !validKey(key) {
		http.Error(w, "invalid graph name", http.StatusBadRequest)
		return
	}

	f, err := s.blobCache.GetBlob(ctx, key)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		log.Error(err, "error getting blob")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	p := f.Name()

	log.Info("serving blob", "path", p)
	http.ServeFile(w, r, p)
}

// validKey accepts plain file names such as "mnist.pb" or "add.hcl".
func validKey(key string) bool {
	if key == "" || key == "." || key == ".." || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`)
}

type blobCache struct {
	BaseDir string

	// upstream is consulted on a cache miss; it may be nil.
	upstream blobs.BlobReader
}

func (c *blobCache) GetBlob(ctx context.Context, key string) (*os.File, error) {
	log := klog.FromContext(ctx)

	localPath := filepath.Join(c.BaseDir, key)
	f, err := os.Open(localPath)
	if err == nil {
		return f, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("opening blob %q: %w", key, err)
	}

	if c.upstream == nil {
		return nil, status.Errorf(codes.NotFound, "blob %q not found", key)
	}

	log.Info("cache miss, fetching from upstream", "key", key)
	if err := c.upstream.Download(ctx, blobs.BlobInfo{Key: key}, localPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "blob %q not found", key)
		}
		return nil, fmt.Errorf("fetching blob %q: %w", key, err)
	}

	f, err = os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening blob %q: %w", key, err)
	}
	return f, nil
}
