package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

func seedImage(t *testing.T, s *MemoryImageStore, id string, created time.Time) domain.LogicalImage {
	t.Helper()

	img := domain.LogicalImage{
		ID:               id,
		OwnerRef:         "tester",
		CurrentVersionID: 0,
		NextVersionID:    1,
		Format:           domain.FormatJPEG,
		Width:            800,
		Height:           600,
		ByteSize:         1024,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	base := domain.Version{
		ImageID:    id,
		VersionID:  0,
		Operation:  domain.OpUploaded,
		StorageRef: id + "/v0.jpg",
		Format:     domain.FormatJPEG,
		Width:      800,
		Height:     600,
		ByteSize:   1024,
		CreatedAt:  created,
	}
	require.NoError(t, s.CreateImage(context.Background(), img, base))
	return img
}

func TestMemoryCreateAndGet(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	img := seedImage(t, s, "img-1", now)

	got, ok, err := s.GetImage(ctx, "img-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, img, got)

	_, ok, err = s.GetImage(ctx, "img-missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.Error(t, s.CreateImage(ctx, img, domain.Version{ImageID: "img-1"}))
}

func TestMemoryAppendEvictsNamedVersions(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	img := seedImage(t, s, "img-1", now)

	for id := int64(1); id <= 3; id++ {
		img.CurrentVersionID = id
		img.NextVersionID = id + 1
		img.UpdatedAt = now.Add(time.Duration(id) * time.Second)
		v := domain.Version{
			ImageID:    "img-1",
			VersionID:  id,
			Operation:  domain.OpRotate,
			Params:     map[string]string{"degrees": "90"},
			StorageRef: "img-1/v1.jpg",
			Format:     domain.FormatJPEG,
			Width:      600,
			Height:     800,
			ByteSize:   900,
			CreatedAt:  img.UpdatedAt,
		}
		require.NoError(t, s.AppendVersion(ctx, img, v, nil))
	}

	// Evict version 1 while appending version 4.
	img.CurrentVersionID = 4
	img.NextVersionID = 5
	v4 := domain.Version{ImageID: "img-1", VersionID: 4, Operation: domain.OpFlip, Format: domain.FormatJPEG, CreatedAt: now}
	require.NoError(t, s.AppendVersion(ctx, img, v4, []int64{1}))

	versions, err := s.ListVersions(ctx, "img-1")
	require.NoError(t, err)

	ids := make([]int64, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.VersionID)
	}
	require.Equal(t, []int64{0, 2, 3, 4}, ids)

	_, ok, err := s.GetVersion(ctx, "img-1", 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemorySetCurrentDropsVersionsAboveTarget(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	img := seedImage(t, s, "img-1", now)
	for id := int64(1); id <= 3; id++ {
		img.CurrentVersionID = id
		img.NextVersionID = id + 1
		v := domain.Version{ImageID: "img-1", VersionID: id, Operation: domain.OpEdit, Format: domain.FormatJPEG, CreatedAt: now}
		require.NoError(t, s.AppendVersion(ctx, img, v, nil))
	}

	img.CurrentVersionID = 1
	require.NoError(t, s.SetCurrent(ctx, img, []int64{2, 3}))

	versions, err := s.ListVersions(ctx, "img-1")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, int64(0), versions[0].VersionID)
	require.Equal(t, int64(1), versions[1].VersionID)

	got, ok, err := s.GetImage(ctx, "img-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), got.CurrentVersionID)
	// The sequence counter never rewinds on undo.
	require.Equal(t, int64(4), got.NextVersionID)
}

func TestMemoryStoredVersionsAreIsolatedFromCallers(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	img := seedImage(t, s, "img-1", now)
	img.CurrentVersionID = 1
	img.NextVersionID = 2
	v := domain.Version{
		ImageID:   "img-1",
		VersionID: 1,
		Operation: domain.OpCompress,
		Params:    map[string]string{"preset": "email"},
		Format:    domain.FormatJPEG,
		CreatedAt: now,
	}
	require.NoError(t, s.AppendVersion(ctx, img, v, nil))

	// Mutating the caller's map after the append must not leak in.
	v.Params["preset"] = "web"

	stored, ok, err := s.GetVersion(ctx, "img-1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "email", stored.Params["preset"])

	// Mutating a returned copy must not change the store either.
	stored.Params["preset"] = "web_hq"
	again, _, err := s.GetVersion(ctx, "img-1", 1)
	require.NoError(t, err)
	require.Equal(t, "email", again.Params["preset"])
}

func TestMemoryListImagesFiltersByOwner(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	base := time.Now().UTC()

	seedImage(t, s, "img-b", base.Add(time.Second))
	seedImage(t, s, "img-a", base)

	all, err := s.ListImages(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "img-a", all[0].ID)
	require.Equal(t, "img-b", all[1].ID)

	none, err := s.ListImages(ctx, "someone-else")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryListExpired(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()
	now := time.Now().UTC()

	seedImage(t, s, "img-old", now.Add(-10*24*time.Hour))
	seedImage(t, s, "img-fresh", now)

	ids, err := s.ListExpired(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"img-old"}, ids)
}

func TestMemoryDeleteImage(t *testing.T) {
	s := NewMemoryImageStore()
	ctx := context.Background()

	seedImage(t, s, "img-1", time.Now().UTC())
	require.NoError(t, s.DeleteImage(ctx, "img-1"))

	_, ok, err := s.GetImage(ctx, "img-1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.ListVersions(ctx, "img-1")
	require.True(t, errors.Is(err, domain.ErrNotFound))

	err = s.DeleteImage(ctx, "img-1")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}
