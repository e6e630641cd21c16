package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

// MemoryImageStore keeps everything in maps guarded by a single RWMutex.
// Versions are deep-copied on the way in and out so callers can never
// mutate stored state through a shared params map.
type MemoryImageStore struct {
	mu       sync.RWMutex
	images   map[string]domain.LogicalImage
	versions map[string][]domain.Version
}

func NewMemoryImageStore() *MemoryImageStore {
	return &MemoryImageStore{
		images:   make(map[string]domain.LogicalImage),
		versions: make(map[string][]domain.Version),
	}
}

func (s *MemoryImageStore) CreateImage(ctx context.Context, img domain.LogicalImage, base domain.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[img.ID]; ok {
		return fmt.Errorf("image %s already exists", img.ID)
	}
	s.images[img.ID] = img
	s.versions[img.ID] = []domain.Version{base.Clone()}
	return nil
}

func (s *MemoryImageStore) GetImage(ctx context.Context, id string) (domain.LogicalImage, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[id]
	return img, ok, nil
}

func (s *MemoryImageStore) ListImages(ctx context.Context, owner string) ([]domain.LogicalImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.LogicalImage, 0, len(s.images))
	for _, img := range s.images {
		if owner != "" && img.OwnerRef != owner {
			continue
		}
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryImageStore) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, img := range s.images {
		if img.UpdatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryImageStore) ListVersions(ctx context.Context, imageID string) ([]domain.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.versions[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, imageID)
	}
	out := make([]domain.Version, 0, len(stored))
	for _, v := range stored {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (s *MemoryImageStore) GetVersion(ctx context.Context, imageID string, versionID int64) (domain.Version, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions[imageID] {
		if v.VersionID == versionID {
			return v.Clone(), true, nil
		}
	}
	return domain.Version{}, false, nil
}

func (s *MemoryImageStore) AppendVersion(ctx context.Context, img domain.LogicalImage, v domain.Version, evictIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[img.ID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, img.ID)
	}

	kept := s.versions[img.ID][:0:0]
	for _, existing := range s.versions[img.ID] {
		if containsID(evictIDs, existing.VersionID) {
			continue
		}
		kept = append(kept, existing)
	}
	s.versions[img.ID] = append(kept, v.Clone())
	s.images[img.ID] = img
	return nil
}

func (s *MemoryImageStore) SetCurrent(ctx context.Context, img domain.LogicalImage, dropIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[img.ID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, img.ID)
	}

	kept := s.versions[img.ID][:0:0]
	for _, existing := range s.versions[img.ID] {
		if containsID(dropIDs, existing.VersionID) {
			continue
		}
		kept = append(kept, existing)
	}
	s.versions[img.ID] = kept
	s.images[img.ID] = img
	return nil
}

func (s *MemoryImageStore) DeleteImage(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	delete(s.images, id)
	delete(s.versions, id)
	return nil
}

func (s *MemoryImageStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryImageStore) Close() error { return nil }

func containsID(ids []int64, id int64) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
