// Package storage holds the physical bytes behind image versions and
// thumbnails. Two backends implement BlobStore: a local filesystem store
// that commits through temp-write-then-rename, and a MinIO object store
// where puts are atomic by nature. Keys are slash-separated, with the
// image id as the leading segment.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

type BlobStore interface {
	// Put commits data under key atomically: a reader never observes a
	// partially written blob.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the blob, ErrNotFound if the key has no blob, or
	// ErrStorageIO on read failure.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every blob under prefix. Used when an image and
	// all its versions are destroyed together.
	DeletePrefix(ctx context.Context, prefix string) error

	// List enumerates blobs under prefix, any order.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	Ping(ctx context.Context) error
}

// cleanKey validates a blob key: slash-separated segments restricted to
// [a-zA-Z0-9._-], no empty or dot-only segments. Keys are built by the
// engine from uuids and version numbers, so a violation means a bug or a
// traversal attempt, not user input to normalize.
func cleanKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty blob key", domain.ErrStorageIO)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: bad blob key %q", domain.ErrStorageIO, key)
		}
		for _, r := range segment {
			switch {
			case r >= 'a' && r <= 'z':
			case r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9':
			case r == '-' || r == '_' || r == '.':
			default:
				return fmt.Errorf("%w: bad blob key %q", domain.ErrStorageIO, key)
			}
		}
	}
	return nil
}
