// Package history implements the bounded version stack that sits between
// the engine and the two storage backends. It owns the blob key layout,
// version id assignment, depth-based eviction and the commit ordering that
// keeps metadata and blobs consistent: new bytes are written first, the
// metadata update is the commit point, and stale blobs are removed after.
// A crash mid-mutation can only leave orphan blobs, never a current pointer
// at missing bytes; the worker's orphan sweep collects the leftovers.
//
// Callers must serialize mutations per image. The engine's lock table does
// this; history itself performs unguarded read-modify-write on metadata.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
	"github.com/githuba42r/ImageTools-sub000/internal/storage"
	"github.com/githuba42r/ImageTools-sub000/internal/store"
)

// Draft carries what a mutation produced before it has a version id.
type Draft struct {
	Operation   domain.Operation
	Params      map[string]string
	Format      domain.Format
	Width       int
	Height      int
	Data        []byte
	Thumb       []byte
	ThumbFormat domain.Format
}

type Store struct {
	meta     store.ImageStore
	blobs    storage.BlobStore
	maxDepth int
	log      *slog.Logger
}

func New(meta store.ImageStore, blobs storage.BlobStore, maxDepth int, log *slog.Logger) *Store {
	if maxDepth < 2 {
		maxDepth = 2
	}
	return &Store{meta: meta, blobs: blobs, maxDepth: maxDepth, log: log}
}

// BlobKey is where a version's encoded bytes live.
func BlobKey(imageID string, versionID int64, f domain.Format) string {
	return fmt.Sprintf("%s/v%d%s", imageID, versionID, f.Ext())
}

// ThumbKey is where the thumbnail for a specific version lives. Keying by
// version id means a thumbnail can never be served for bytes it was not
// rendered from.
func ThumbKey(imageID string, versionID int64, f domain.Format) string {
	return fmt.Sprintf("%s/thumb_v%d%s", imageID, versionID, f.Ext())
}

// Create writes the base version for a brand new image. The skeleton must
// carry ID, OwnerRef and CreatedAt; everything else is filled from the draft.
func (s *Store) Create(ctx context.Context, skeleton domain.LogicalImage, d Draft) (domain.LogicalImage, domain.Version, error) {
	now := skeleton.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	v := domain.Version{
		ImageID:    skeleton.ID,
		VersionID:  0,
		Operation:  d.Operation,
		Params:     d.Params,
		StorageRef: BlobKey(skeleton.ID, 0, d.Format),
		Format:     d.Format,
		Width:      d.Width,
		Height:     d.Height,
		ByteSize:   int64(len(d.Data)),
		CreatedAt:  now,
	}

	img := skeleton
	img.CurrentVersionID = 0
	img.NextVersionID = 1
	img.Format = d.Format
	img.Width = d.Width
	img.Height = d.Height
	img.ByteSize = v.ByteSize
	img.CreatedAt = now
	img.UpdatedAt = now

	if err := s.writeBlobs(ctx, v, d); err != nil {
		return domain.LogicalImage{}, domain.Version{}, err
	}
	if err := s.meta.CreateImage(ctx, img, v); err != nil {
		s.discardBlobs(ctx, v)
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("create image: %w", err)
	}
	return img, v, nil
}

// Append commits a new current version and evicts the oldest non-base
// versions when the stack would exceed its depth. It returns the updated
// image, the committed version, and the ids that were evicted.
func (s *Store) Append(ctx context.Context, img domain.LogicalImage, d Draft) (domain.LogicalImage, domain.Version, []int64, error) {
	versions, err := s.meta.ListVersions(ctx, img.ID)
	if err != nil {
		return domain.LogicalImage{}, domain.Version{}, nil, fmt.Errorf("load version stack: %w", err)
	}

	now := time.Now().UTC()
	v := domain.Version{
		ImageID:    img.ID,
		VersionID:  img.NextVersionID,
		Operation:  d.Operation,
		Params:     d.Params,
		StorageRef: BlobKey(img.ID, img.NextVersionID, d.Format),
		Format:     d.Format,
		Width:      d.Width,
		Height:     d.Height,
		ByteSize:   int64(len(d.Data)),
		CreatedAt:  now,
	}

	// The base version at index 0 is never evicted, so eviction starts at
	// the oldest non-base entry and stops once the post-append stack fits.
	var evicted []domain.Version
	keep := len(versions)
	for i := 1; i < len(versions) && keep+1 > s.maxDepth; i++ {
		evicted = append(evicted, versions[i])
		keep--
	}
	evictIDs := make([]int64, 0, len(evicted))
	for _, old := range evicted {
		evictIDs = append(evictIDs, old.VersionID)
	}

	prev := versions[len(versions)-1]

	updated := img
	updated.CurrentVersionID = v.VersionID
	updated.NextVersionID = v.VersionID + 1
	updated.Format = v.Format
	updated.Width = v.Width
	updated.Height = v.Height
	updated.ByteSize = v.ByteSize
	updated.UpdatedAt = now

	if err := s.writeBlobs(ctx, v, d); err != nil {
		return domain.LogicalImage{}, domain.Version{}, nil, err
	}
	if err := s.meta.AppendVersion(ctx, updated, v, evictIDs); err != nil {
		s.discardBlobs(ctx, v)
		return domain.LogicalImage{}, domain.Version{}, nil, fmt.Errorf("commit version: %w", err)
	}

	// Committed. Everything below is cleanup of bytes nothing references:
	// evicted versions and the stale thumbnail of the outgoing current
	// version. A thumbnail is a per-current-version cache, so dropping the
	// old one is safe even when that version stays in the stack; undoing
	// back to it regenerates on demand.
	for _, old := range evicted {
		s.dropVersionBlobs(ctx, old)
	}
	s.dropThumb(ctx, prev)

	return updated, v, evictIDs, nil
}

// PopCurrent undoes the most recent mutation, restoring the version below
// the top of the stack. Undoing at the base fails with ErrHistoryExhausted.
func (s *Store) PopCurrent(ctx context.Context, img domain.LogicalImage) (domain.LogicalImage, domain.Version, error) {
	versions, err := s.meta.ListVersions(ctx, img.ID)
	if err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("load version stack: %w", err)
	}
	if len(versions) < 2 {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("%w: image %s is at its base version", domain.ErrHistoryExhausted, img.ID)
	}

	top := versions[len(versions)-1]
	restored := versions[len(versions)-2]

	updated := img
	updated.CurrentVersionID = restored.VersionID
	updated.Format = restored.Format
	updated.Width = restored.Width
	updated.Height = restored.Height
	updated.ByteSize = restored.ByteSize
	updated.UpdatedAt = time.Now().UTC()

	if err := s.meta.SetCurrent(ctx, updated, []int64{top.VersionID}); err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("commit undo: %w", err)
	}

	s.dropVersionBlobs(ctx, top)
	return updated, restored, nil
}

// RestoreTo rewinds the stack to an existing version, dropping everything
// above it. Restoring to the current version is a no-op.
func (s *Store) RestoreTo(ctx context.Context, img domain.LogicalImage, versionID int64) (domain.LogicalImage, domain.Version, error) {
	versions, err := s.meta.ListVersions(ctx, img.ID)
	if err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("load version stack: %w", err)
	}

	var target *domain.Version
	var dropped []domain.Version
	for i := range versions {
		switch {
		case versions[i].VersionID == versionID:
			target = &versions[i]
		case versions[i].VersionID > versionID:
			dropped = append(dropped, versions[i])
		}
	}
	if target == nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("%w: version %d of image %s", domain.ErrNotFound, versionID, img.ID)
	}
	if len(dropped) == 0 {
		return img, *target, nil
	}

	dropIDs := make([]int64, 0, len(dropped))
	for _, v := range dropped {
		dropIDs = append(dropIDs, v.VersionID)
	}

	updated := img
	updated.CurrentVersionID = target.VersionID
	updated.Format = target.Format
	updated.Width = target.Width
	updated.Height = target.Height
	updated.ByteSize = target.ByteSize
	updated.UpdatedAt = time.Now().UTC()

	if err := s.meta.SetCurrent(ctx, updated, dropIDs); err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("commit restore: %w", err)
	}

	for _, v := range dropped {
		s.dropVersionBlobs(ctx, v)
	}
	return updated, *target, nil
}

// Current loads an image and the version its current pointer names.
func (s *Store) Current(ctx context.Context, imageID string) (domain.LogicalImage, domain.Version, error) {
	img, ok, err := s.meta.GetImage(ctx, imageID)
	if err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("load image: %w", err)
	}
	if !ok {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("%w: %s", domain.ErrNotFound, imageID)
	}

	v, ok, err := s.meta.GetVersion(ctx, imageID, img.CurrentVersionID)
	if err != nil {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("load current version: %w", err)
	}
	if !ok {
		return domain.LogicalImage{}, domain.Version{}, fmt.Errorf("image %s metadata inconsistent: current version %d has no row", imageID, img.CurrentVersionID)
	}
	return img, v, nil
}

// List returns the version stack oldest first.
func (s *Store) List(ctx context.Context, imageID string) ([]domain.Version, error) {
	return s.meta.ListVersions(ctx, imageID)
}

// ListImages returns image rows oldest first, optionally filtered by owner.
func (s *Store) ListImages(ctx context.Context, owner string) ([]domain.LogicalImage, error) {
	return s.meta.ListImages(ctx, owner)
}

// CanUndo reports whether the stack holds anything above the base.
func (s *Store) CanUndo(ctx context.Context, imageID string) (bool, error) {
	versions, err := s.meta.ListVersions(ctx, imageID)
	if err != nil {
		return false, err
	}
	return len(versions) > 1, nil
}

// GetData fetches a version's encoded bytes.
func (s *Store) GetData(ctx context.Context, v domain.Version) ([]byte, error) {
	return s.blobs.Get(ctx, v.StorageRef)
}

// GetThumb fetches the thumbnail for the image's current version. Missing
// thumbnails surface as ErrNotFound so the caller can regenerate.
func (s *Store) GetThumb(ctx context.Context, img domain.LogicalImage) ([]byte, domain.Format, error) {
	f := domain.ThumbnailFormat(img.Format)
	data, err := s.blobs.Get(ctx, ThumbKey(img.ID, img.CurrentVersionID, f))
	if err != nil {
		return nil, "", err
	}
	return data, f, nil
}

// PutThumb stores a freshly rendered thumbnail for the image's current
// version.
func (s *Store) PutThumb(ctx context.Context, img domain.LogicalImage, data []byte, f domain.Format) error {
	return s.blobs.Put(ctx, ThumbKey(img.ID, img.CurrentVersionID, f), data, f.MIME())
}

// Purge removes an image's metadata and then its blobs. The metadata delete
// is the commit point; blob removal failures only leave orphans for the
// sweep.
func (s *Store) Purge(ctx context.Context, imageID string) error {
	if err := s.meta.DeleteImage(ctx, imageID); err != nil {
		return err
	}
	if err := s.blobs.DeletePrefix(ctx, imageID); err != nil {
		s.log.Warn("purge left orphan blobs", "image_id", imageID, "error", err)
	}
	return nil
}

// ListExpired returns ids of images whose last mutation is older than
// cutoff. The engine drives the actual purging so each removal goes through
// the per-image lock.
func (s *Store) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.meta.ListExpired(ctx, cutoff)
}

// SweepOrphans deletes blobs whose image no longer exists in metadata.
// Blobs newer than olderThan are skipped so an in-flight create whose
// metadata commit has not landed yet is never collected.
func (s *Store) SweepOrphans(ctx context.Context, olderThan time.Time) (int, error) {
	blobs, err := s.blobs.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list blobs: %w", err)
	}

	known := make(map[string]bool)
	removed := 0
	for _, blob := range blobs {
		if blob.ModTime.After(olderThan) {
			continue
		}
		imageID, _, found := strings.Cut(blob.Key, "/")
		if !found {
			continue
		}

		exists, checked := known[imageID]
		if !checked {
			_, exists, err = s.meta.GetImage(ctx, imageID)
			if err != nil {
				return removed, fmt.Errorf("check image %s: %w", imageID, err)
			}
			known[imageID] = exists
		}
		if exists {
			continue
		}

		if err := s.blobs.Delete(ctx, blob.Key); err != nil {
			s.log.Warn("sweep could not delete orphan blob", "key", blob.Key, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *Store) writeBlobs(ctx context.Context, v domain.Version, d Draft) error {
	if err := s.blobs.Put(ctx, v.StorageRef, d.Data, v.Format.MIME()); err != nil {
		return fmt.Errorf("store version blob: %w", err)
	}
	if len(d.Thumb) > 0 {
		key := ThumbKey(v.ImageID, v.VersionID, d.ThumbFormat)
		if err := s.blobs.Put(ctx, key, d.Thumb, d.ThumbFormat.MIME()); err != nil {
			s.discardBlobs(ctx, v)
			return fmt.Errorf("store thumbnail blob: %w", err)
		}
	}
	return nil
}

func (s *Store) discardBlobs(ctx context.Context, v domain.Version) {
	if err := s.blobs.Delete(ctx, v.StorageRef); err != nil {
		s.log.Warn("could not remove uncommitted blob", "key", v.StorageRef, "error", err)
	}
	s.dropThumb(ctx, v)
}

func (s *Store) dropVersionBlobs(ctx context.Context, v domain.Version) {
	if err := s.blobs.Delete(ctx, v.StorageRef); err != nil {
		s.log.Warn("could not remove version blob", "key", v.StorageRef, "error", err)
	}
	s.dropThumb(ctx, v)
}

func (s *Store) dropThumb(ctx context.Context, v domain.Version) {
	key := ThumbKey(v.ImageID, v.VersionID, domain.ThumbnailFormat(v.Format))
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.log.Warn("could not remove thumbnail blob", "key", key, "error", err)
	}
}
