package blobs

import "context"

type BlobReader interface {
	// If no such object exists, Download and ReadAll should return an error for which errors.Is(err, os.ErrNotExist) is true.
	Download(ctx context.Context, info BlobInfo, destPath string) error

	// ReadAll returns the whole content of the blob.
	ReadAll(ctx context.Context, info BlobInfo) ([]byte, error)
}

type Blobstore interface {
	BlobReader
	// Upload uploads the file at sourcePath to the blobstore, using info.Key as the object key.
	// If an object with the same key already exists, Upload should do nothing and return no error.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a blob within a store: an object key, a file path, or
// the last segment of a URL.
type BlobInfo struct {
	Key string
}
