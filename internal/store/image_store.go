// Package store persists logical images and their version metadata. Blob
// bytes live in storage.BlobStore; everything here is small row data, so
// reads never touch an object store.
package store

import (
	"context"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

// ImageStore is the metadata backend. AppendVersion and SetCurrent mutate
// the image row and its version rows together so a crash can never leave
// the current pointer referencing a deleted version.
type ImageStore interface {
	// CreateImage inserts the image row and its base version in one step.
	CreateImage(ctx context.Context, img domain.LogicalImage, base domain.Version) error

	GetImage(ctx context.Context, id string) (domain.LogicalImage, bool, error)

	// ListImages returns images sorted oldest first. An empty owner matches
	// everything.
	ListImages(ctx context.Context, owner string) ([]domain.LogicalImage, error)

	// ListExpired returns ids of images untouched since before cutoff.
	ListExpired(ctx context.Context, cutoff time.Time) ([]string, error)

	// ListVersions returns an image's versions ordered oldest first.
	ListVersions(ctx context.Context, imageID string) ([]domain.Version, error)

	GetVersion(ctx context.Context, imageID string, versionID int64) (domain.Version, bool, error)

	// AppendVersion records v as the new current version, updates the image
	// row from img, and removes the versions named in evictIDs.
	AppendVersion(ctx context.Context, img domain.LogicalImage, v domain.Version, evictIDs []int64) error

	// SetCurrent repoints the image row at an existing version and removes
	// the versions named in dropIDs. Used by undo and restore.
	SetCurrent(ctx context.Context, img domain.LogicalImage, dropIDs []int64) error

	// DeleteImage removes the image row and all its versions.
	DeleteImage(ctx context.Context, id string) error

	Ping(ctx context.Context) error
	Close() error
}
