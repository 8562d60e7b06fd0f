package blobs

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ForURL picks a reader for a graph location:
//
//	gs://bucket/key       GCSBlobstore
//	http(s)://host/a/key  BlobServer rooted at http(s)://host/a
//	anything else         LocalFiles, the location is a path
func ForURL(location string) (BlobReader, BlobInfo, error) {
	switch {
	case strings.HasPrefix(location, "gs://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(location, "gs://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, BlobInfo{}, fmt.Errorf("GCS location %q must be gs://<bucket>/<key>", location)
		}
		return &GCSBlobstore{Bucket: bucket}, BlobInfo{Key: key}, nil

	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, BlobInfo{}, fmt.Errorf("parsing url %q: %w", location, err)
		}
		dir, key := path.Split(u.Path)
		if key == "" {
			return nil, BlobInfo{}, fmt.Errorf("url %q does not name a blob", location)
		}
		base := *u
		base.Path = dir
		base.RawQuery = ""
		return &BlobServer{BlobserverURL: &base}, BlobInfo{Key: key}, nil

	default:
		return &LocalFiles{}, BlobInfo{Key: location}, nil
	}
}

// StoreForURL is ForURL restricted to locations that can be written.
func StoreForURL(location string) (Blobstore, BlobInfo, error) {
	reader, info, err := ForURL(location)
	if err != nil {
		return nil, BlobInfo{}, err
	}
	store, ok := reader.(Blobstore)
	if !ok {
		return nil, BlobInfo{}, fmt.Errorf("location %q is read-only", location)
	}
	return store, info, nil
}
