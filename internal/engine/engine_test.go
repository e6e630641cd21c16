package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/domain"
	"github.com/githuba42r/ImageTools-sub000/internal/history"
	"github.com/githuba42r/ImageTools-sub000/internal/storage"
	"github.com/githuba42r/ImageTools-sub000/internal/store"
)

// blockingCodec lets a test hold an image lock at a known point: once
// armed, the next Encode parks until released. Disarm before releasing so
// the follow-up thumbnail encode passes through.
type blockingCodec struct {
	codec.Codec
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newBlockingCodec() *blockingCodec {
	return &blockingCodec{
		Codec:   codec.New(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingCodec) arm() {
	b.mu.Lock()
	b.armed = true
	b.mu.Unlock()
}

func (b *blockingCodec) disarmAndRelease() {
	b.mu.Lock()
	b.armed = false
	b.mu.Unlock()
	close(b.release)
}

func (b *blockingCodec) Encode(ctx context.Context, p codec.Pixels, format domain.Format, quality int) ([]byte, error) {
	b.mu.Lock()
	armed := b.armed
	b.mu.Unlock()
	if armed {
		b.entered <- struct{}{}
		<-b.release
	}
	return b.Codec.Encode(ctx, p, format, quality)
}

type recordingSink struct {
	mu      sync.Mutex
	mutated []domain.MutationEvent
	deleted []string
}

func (r *recordingSink) ImageMutated(_ context.Context, ev domain.MutationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutated = append(r.mutated, ev)
}

func (r *recordingSink) ImageDeleted(_ context.Context, imageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, imageID)
}

func (r *recordingSink) lastMutated(t *testing.T) domain.MutationEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.mutated)
	return r.mutated[len(r.mutated)-1]
}

type testEnv struct {
	engine *Engine
	meta   *store.MemoryImageStore
	blobs  *storage.LocalStore
	codec  *blockingCodec
	sink   *recordingSink
}

func newTestEngine(t *testing.T, depth int, lockWait time.Duration) testEnv {
	t.Helper()

	meta := store.NewMemoryImageStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bc := newBlockingCodec()
	sink := &recordingSink{}

	eng, err := New(Config{
		History: history.New(meta, blobs, depth, log),
		Codec:   bc,
		Presets: map[string]domain.CompressParams{
			"email": {
				MaxWidth:       800,
				MaxHeight:      800,
				TargetByteSize: 500_000,
				QualityFloor:   40,
				QualityCeiling: 85,
				OutputFormat:   domain.FormatJPEG,
			},
		},
		LockWait: lockWait,
		ImageTTL: time.Hour,
		Metrics:  NopMetrics(),
		Events:   sink,
		Logger:   log,
	})
	require.NoError(t, err)

	return testEnv{engine: eng, meta: meta, blobs: blobs, codec: bc, sink: sink}
}

func buildJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / width), G: uint8(y * 255 / height), B: uint8((x + y) % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}))
	return buf.Bytes()
}

func buildPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: uint8(y % 256), B: uint8(x % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, env testEnv, data []byte) domain.LogicalImage {
	t.Helper()

	img, err := env.engine.Create(context.Background(), domain.CreateRequest{Data: data, OwnerRef: "tester"})
	require.NoError(t, err)
	return img
}

func TestLifecycleCompressRotateUndo(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	source := buildJPEG(t, 2000, 1500)
	img := upload(t, env, source)
	require.Equal(t, domain.FormatJPEG, img.Format)
	require.Equal(t, 2000, img.Width)
	require.Equal(t, int64(0), img.CurrentVersionID)

	// Compress with the email preset: bounded to 800x800 and 500KB.
	res, err := env.engine.Compress(ctx, domain.CompressRequest{ImageID: img.ID, Preset: "email"})
	require.NoError(t, err)
	require.True(t, res.MetTarget)
	require.Equal(t, int64(1), res.Version.VersionID)
	require.Equal(t, 800, res.Version.Width)
	require.Equal(t, 600, res.Version.Height)
	require.LessOrEqual(t, res.Version.ByteSize, int64(500_000))
	require.Greater(t, res.Ratio, 0.0)
	require.Less(t, res.Ratio, 1.0)
	require.Equal(t, "email", res.Version.Params["preset"])
	require.Equal(t, "true", res.Version.Params["met_target"])
	require.NotEmpty(t, res.Version.Params["quality"])

	compressed, data, err := env.engine.Download(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, res.Version.VersionID, compressed.VersionID)
	require.Equal(t, res.Version.ByteSize, int64(len(data)))

	// Rotate 90 degrees clockwise: dimensions swap.
	rotated, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
	require.NoError(t, err)
	require.Equal(t, int64(2), rotated.VersionID)
	require.Equal(t, 600, rotated.Width)
	require.Equal(t, 800, rotated.Height)

	ev := env.sink.lastMutated(t)
	require.Equal(t, domain.OpRotate, ev.Operation)
	require.Equal(t, int64(2), ev.VersionID)
	require.Equal(t, compressed.ByteSize, ev.BytesBefore)

	// Undo restores the compressed version byte for byte.
	restored, err := env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.NoError(t, err)
	require.Equal(t, compressed.VersionID, restored.VersionID)

	_, after, err := env.engine.Download(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, data, after)

	// One more undo reaches the base; the next one has nothing left.
	base, err := env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.NoError(t, err)
	require.True(t, base.IsBase())

	_, err = env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.True(t, errors.Is(err, domain.ErrHistoryExhausted))

	// The base bytes are still exactly what was uploaded.
	_, baseData, err := env.engine.Download(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, source, baseData)
}

func TestCreateRejectsBadInputs(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	_, err := env.engine.Create(ctx, domain.CreateRequest{Data: []byte("not an image"), OwnerRef: "tester"})
	require.True(t, errors.Is(err, domain.ErrUnsupportedFormat))

	corrupt := buildJPEG(t, 100, 100)[:80]
	_, err = env.engine.Create(ctx, domain.CreateRequest{Data: corrupt, OwnerRef: "tester"})
	require.True(t, errors.Is(err, domain.ErrDecode))

	_, err = env.engine.Create(ctx, domain.CreateRequest{OwnerRef: "tester"})
	require.Error(t, err)
}

func TestCreateEnforcesDimensionBound(t *testing.T) {
	meta := store.NewMemoryImageStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := New(Config{
		History:      history.New(meta, blobs, 10, log),
		Codec:        codec.New(),
		MaxDimension: 256,
		Logger:       log,
	})
	require.NoError(t, err)

	_, err = eng.Create(context.Background(), domain.CreateRequest{Data: buildJPEG(t, 300, 100), OwnerRef: "tester"})
	require.True(t, errors.Is(err, domain.ErrDecode))
}

func TestCompressUnknownPreset(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	img := upload(t, env, buildJPEG(t, 400, 300))

	_, err := env.engine.Compress(context.Background(), domain.CompressRequest{ImageID: img.ID, Preset: "print"})
	require.ErrorContains(t, err, "unknown compression preset")
}

func TestMutationsOnMissingImage(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: "nope", Degrees: 90})
	require.True(t, errors.Is(err, domain.ErrNotFound))

	_, _, err = env.engine.Get(ctx, "nope")
	require.True(t, errors.Is(err, domain.ErrNotFound))

	err = env.engine.Delete(ctx, "nope", false)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFailFastConflictsWhileMutationInFlight(t *testing.T) {
	env := newTestEngine(t, 10, 50*time.Millisecond)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))

	env.codec.arm()
	done := make(chan error, 1)
	go func() {
		_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
		done <- err
	}()
	<-env.codec.entered

	// Fail-fast callers bounce immediately.
	_, err := env.engine.Compress(ctx, domain.CompressRequest{ImageID: img.ID, Preset: "email", FailFast: true})
	require.True(t, errors.Is(err, domain.ErrConcurrentModification))

	// Waiting callers give up once the budget runs out.
	_, err = env.engine.Flip(ctx, domain.FlipRequest{ImageID: img.ID, Axis: domain.FlipHorizontal})
	require.True(t, errors.Is(err, domain.ErrConcurrentModification))

	env.codec.disarmAndRelease()
	require.NoError(t, <-done)
}

func TestWaitingMutationProceedsAfterRelease(t *testing.T) {
	env := newTestEngine(t, 10, 5*time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))

	env.codec.arm()
	rotateDone := make(chan error, 1)
	go func() {
		_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
		rotateDone <- err
	}()
	<-env.codec.entered

	flipDone := make(chan domain.Version, 1)
	flipErr := make(chan error, 1)
	go func() {
		v, err := env.engine.Flip(ctx, domain.FlipRequest{ImageID: img.ID, Axis: domain.FlipVertical})
		flipDone <- v
		flipErr <- err
	}()

	// Give the flip a moment to start waiting, then let the rotate finish.
	time.Sleep(30 * time.Millisecond)
	env.codec.disarmAndRelease()

	require.NoError(t, <-rotateDone)
	v := <-flipDone
	require.NoError(t, <-flipErr)

	// The operations serialized: flip committed on top of the rotate.
	require.Equal(t, int64(2), v.VersionID)
	require.Equal(t, domain.OpFlip, v.Operation)
}

func TestHistoryStaysBounded(t *testing.T) {
	env := newTestEngine(t, 3, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))
	for i := 0; i < 4; i++ {
		_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
		require.NoError(t, err)
	}

	versions, err := env.engine.History(ctx, img.ID)
	require.NoError(t, err)

	ids := make([]int64, 0, len(versions))
	for _, v := range versions {
		ids = append(ids, v.VersionID)
	}
	// Four rotates at depth 3: versions 1 and 2 were evicted, the base
	// never is.
	require.Equal(t, []int64{0, 3, 4}, ids)

	// Undo walks the surviving stack, then exhausts.
	v, err := env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.NoError(t, err)
	require.Equal(t, int64(3), v.VersionID)

	v, err = env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.NoError(t, err)
	require.Equal(t, int64(0), v.VersionID)

	_, err = env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.True(t, errors.Is(err, domain.ErrHistoryExhausted))
}

func TestRestoreToVersion(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))
	for i := 0; i < 3; i++ {
		_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
		require.NoError(t, err)
	}

	v, err := env.engine.RestoreTo(ctx, domain.RestoreRequest{ImageID: img.ID, VersionID: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), v.VersionID)

	versions, err := env.engine.History(ctx, img.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	_, err = env.engine.RestoreTo(ctx, domain.RestoreRequest{ImageID: img.ID, VersionID: 3})
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestThumbnailTracksCurrentVersion(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 600, 300))

	thumb1, format, err := env.engine.Thumbnail(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FormatJPEG, format)

	decoded, _, err := image.Decode(bytes.NewReader(thumb1))
	require.NoError(t, err)
	require.Equal(t, 300, decoded.Bounds().Dx())
	require.Equal(t, 150, decoded.Bounds().Dy())

	_, err = env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
	require.NoError(t, err)

	thumb2, _, err := env.engine.Thumbnail(ctx, img.ID)
	require.NoError(t, err)

	decoded2, _, err := image.Decode(bytes.NewReader(thumb2))
	require.NoError(t, err)
	require.Equal(t, 150, decoded2.Bounds().Dx())
	require.Equal(t, 300, decoded2.Bounds().Dy())

	// Undo again serves a preview of the restored version, not the rotated
	// one.
	_, err = env.engine.Undo(ctx, domain.UndoRequest{ImageID: img.ID})
	require.NoError(t, err)

	thumb3, _, err := env.engine.Thumbnail(ctx, img.ID)
	require.NoError(t, err)
	decoded3, _, err := image.Decode(bytes.NewReader(thumb3))
	require.NoError(t, err)
	require.Equal(t, 300, decoded3.Bounds().Dx())
}

func TestApplyEditStoresBytesVerbatim(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))
	edited := buildPNG(t, 400, 300)

	v, err := env.engine.ApplyEdit(ctx, domain.EditRequest{
		ImageID: img.ID,
		Data:    edited,
		Kind:    domain.OpBackgroundRemoved,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OpBackgroundRemoved, v.Operation)
	require.Equal(t, domain.FormatPNG, v.Format)

	_, data, err := env.engine.Download(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, edited, data)

	// PNG sources keep PNG thumbnails.
	_, format, err := env.engine.Thumbnail(ctx, img.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FormatPNG, format)
}

func TestApplyEditRejectsGarbage(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	img := upload(t, env, buildJPEG(t, 400, 300))

	_, err := env.engine.ApplyEdit(context.Background(), domain.EditRequest{
		ImageID: img.ID,
		Data:    []byte("garbage"),
	})
	require.True(t, errors.Is(err, domain.ErrUnsupportedFormat))

	// The failed edit committed nothing.
	versions, err := env.engine.History(context.Background(), img.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
}

func TestDeleteRemovesEverything(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))
	require.NoError(t, env.engine.Delete(ctx, img.ID, false))
	require.Equal(t, []string{img.ID}, env.sink.deleted)

	_, _, err := env.engine.Get(ctx, img.ID)
	require.True(t, errors.Is(err, domain.ErrNotFound))

	left, err := env.blobs.List(ctx, img.ID)
	require.NoError(t, err)
	require.Empty(t, left)

	err = env.engine.Delete(ctx, img.ID, false)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListFiltersByOwner(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	upload(t, env, buildJPEG(t, 100, 100))
	upload(t, env, buildJPEG(t, 100, 100))

	all, err := env.engine.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	none, err := env.engine.List(ctx, "someone-else")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPurgeExpiredSkipsBusyImages(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))

	// Backdate the image past the TTL.
	row, ok, err := env.meta.GetImage(ctx, img.ID)
	require.NoError(t, err)
	require.True(t, ok)
	row.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, env.meta.SetCurrent(ctx, row, nil))

	// While a mutation holds the lock the purge leaves the image alone.
	env.codec.arm()
	done := make(chan error, 1)
	go func() {
		_, err := env.engine.Rotate(ctx, domain.RotateRequest{ImageID: img.ID, Degrees: 90})
		done <- err
	}()
	<-env.codec.entered

	purged, err := env.engine.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, purged)

	env.codec.disarmAndRelease()
	require.NoError(t, <-done)

	// The rotate refreshed the timestamp, so the image is no longer
	// expired.
	purged, err = env.engine.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, purged)

	_, _, err = env.engine.Get(ctx, img.ID)
	require.NoError(t, err)
}

func TestPurgeExpiredRemovesStaleImages(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))

	row, ok, err := env.meta.GetImage(ctx, img.ID)
	require.NoError(t, err)
	require.True(t, ok)
	row.UpdatedAt = time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, env.meta.SetCurrent(ctx, row, nil))

	purged, err := env.engine.PurgeExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{img.ID}, purged)
	require.Contains(t, env.sink.deleted, img.ID)
}

func TestSweepOrphansLeavesLiveImages(t *testing.T) {
	env := newTestEngine(t, 10, time.Second)
	ctx := context.Background()

	img := upload(t, env, buildJPEG(t, 400, 300))
	require.NoError(t, env.blobs.Put(ctx, "ghost/v0.jpg", []byte("orphan"), "image/jpeg"))

	// Inside the grace window nothing is collected.
	removed, err := env.engine.SweepOrphans(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	_, _, err = env.engine.Get(ctx, img.ID)
	require.NoError(t, err)
}
