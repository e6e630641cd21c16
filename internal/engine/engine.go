// Package engine coordinates every image operation: it serializes mutations
// per image, runs the codec transforms, drives target-size compression, and
// commits results through the history store. All public methods are safe for
// concurrent use; writes to the same image are funneled through one lock
// with a configurable waiting policy, writes to different images proceed in
// parallel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/compress"
	"github.com/githuba42r/ImageTools-sub000/internal/domain"
	"github.com/githuba42r/ImageTools-sub000/internal/history"
	"github.com/githuba42r/ImageTools-sub000/internal/thumbnail"
)

// geometryQuality is the encode quality for rotate, flip and resize.
// Geometry changes should not silently degrade the image; shrinking bytes
// is what compress is for.
const geometryQuality = 95

const (
	defaultLockWait     = 30 * time.Second
	defaultMaxDimension = 8192
	defaultImageTTL     = 7 * 24 * time.Hour
	defaultOrphanGrace  = time.Hour
)

// EventSink receives committed mutations. The webhook notifier implements
// it; a nil sink disables events.
type EventSink interface {
	ImageMutated(ctx context.Context, ev domain.MutationEvent)
	ImageDeleted(ctx context.Context, imageID string)
}

type Config struct {
	History      *history.Store
	Codec        codec.Codec
	Search       *compress.Search
	Thumbnails   *thumbnail.Generator
	Presets      map[string]domain.CompressParams
	LockWait     time.Duration
	MaxDimension int
	ImageTTL     time.Duration
	OrphanGrace  time.Duration
	Metrics      *Metrics
	Events       EventSink
	Logger       *slog.Logger
}

type Engine struct {
	history      *history.Store
	codec        codec.Codec
	search       *compress.Search
	thumbs       *thumbnail.Generator
	presets      map[string]domain.CompressParams
	locks        *lockTable
	lockWait     time.Duration
	maxDimension int
	imageTTL     time.Duration
	orphanGrace  time.Duration
	metrics      *Metrics
	events       EventSink
	log          *slog.Logger
	tracer       trace.Tracer
}

func New(cfg Config) (*Engine, error) {
	if cfg.History == nil {
		return nil, errors.New("history store is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("codec is required")
	}
	if cfg.Search == nil {
		cfg.Search = compress.New(cfg.Codec, compress.Options{})
	}
	if cfg.Thumbnails == nil {
		cfg.Thumbnails = thumbnail.New(cfg.Codec, 0, 0)
	}
	if cfg.Presets == nil {
		cfg.Presets = map[string]domain.CompressParams{}
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = defaultMaxDimension
	}
	if cfg.ImageTTL == 0 {
		cfg.ImageTTL = defaultImageTTL
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = defaultOrphanGrace
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		history:      cfg.History,
		codec:        cfg.Codec,
		search:       cfg.Search,
		thumbs:       cfg.Thumbnails,
		presets:      cfg.Presets,
		locks:        newLockTable(),
		lockWait:     cfg.LockWait,
		maxDimension: cfg.MaxDimension,
		imageTTL:     cfg.ImageTTL,
		orphanGrace:  cfg.OrphanGrace,
		metrics:      cfg.Metrics,
		events:       cfg.Events,
		log:          cfg.Logger,
		tracer:       otel.Tracer("imagetools-engine"),
	}, nil
}

// Create registers uploaded bytes as a new image with its base version.
// The data is decoded once to validate it and capture dimensions, then
// stored exactly as received.
func (e *Engine) Create(ctx context.Context, req domain.CreateRequest) (domain.LogicalImage, error) {
	if err := req.Validate(); err != nil {
		return domain.LogicalImage{}, err
	}

	ctx, span := e.tracer.Start(ctx, "engine.create")
	defer span.End()
	start := time.Now()

	fail := func(err error) (domain.LogicalImage, error) {
		span.RecordError(err)
		e.metrics.mutationsTotal.WithLabelValues(string(domain.OpUploaded), statusOf(err)).Inc()
		return domain.LogicalImage{}, err
	}

	p, format, err := e.codec.Decode(ctx, req.Data)
	if err != nil {
		return fail(err)
	}
	w, h := p.Size()
	p.Close()

	if err := e.checkDimensions(w, h); err != nil {
		return fail(err)
	}

	draft := history.Draft{
		Operation: domain.OpUploaded,
		Format:    format,
		Width:     w,
		Height:    h,
		Data:      req.Data,
	}
	e.attachThumb(ctx, &draft)

	skeleton := domain.LogicalImage{
		ID:       uuid.NewString(),
		OwnerRef: strings.TrimSpace(req.OwnerRef),
	}
	img, v, err := e.history.Create(ctx, skeleton, draft)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	e.observeCommit(domain.OpUploaded, elapsed, 0, v)
	e.emitMutated(ctx, 0, v, elapsed)
	e.log.Info("image created",
		"image_id", img.ID,
		"format", img.Format,
		"size", fmt.Sprintf("%dx%d", img.Width, img.Height),
		"bytes", img.ByteSize,
	)
	return img, nil
}

// Compress re-encodes the current version under the target byte budget,
// searching quality and falling back to downscaling. Missing the budget is
// reported through MetTarget, not as an error.
func (e *Engine) Compress(ctx context.Context, req domain.CompressRequest) (domain.CompressResult, error) {
	if err := req.Validate(); err != nil {
		return domain.CompressResult{}, err
	}
	params, err := e.resolvePreset(req)
	if err != nil {
		return domain.CompressResult{}, err
	}

	var (
		out         domain.CompressResult
		bytesBefore int64
	)
	v, err := e.mutate(ctx, req.ImageID, domain.OpCompress, req.FailFast, func(ctx context.Context, _ domain.LogicalImage, cur domain.Version, load loadFunc) (history.Draft, error) {
		run := params
		if run.OutputFormat == "" {
			run.OutputFormat = cur.Format
		}
		bytesBefore = cur.ByteSize

		data, err := load()
		if err != nil {
			return history.Draft{}, err
		}
		src, _, err := e.codec.Decode(ctx, data)
		if err != nil {
			return history.Draft{}, err
		}
		defer src.Close()

		res, err := e.search.Run(ctx, src, run)
		if err != nil {
			return history.Draft{}, err
		}

		out.MetTarget = res.MetTarget
		if cur.ByteSize > 0 {
			// Fraction of bytes saved. Negative when the re-encode grew the
			// image, which small inputs under a generous budget can do.
			out.Ratio = 1 - float64(len(res.Data))/float64(cur.ByteSize)
		}

		meta := map[string]string{
			"target_bytes": strconv.FormatInt(run.TargetByteSize, 10),
			"met_target":   strconv.FormatBool(res.MetTarget),
			"iterations":   strconv.Itoa(res.Iterations),
		}
		if req.Preset != "" {
			meta["preset"] = req.Preset
		}
		if run.OutputFormat.QualityTunable() {
			meta["quality"] = strconv.Itoa(res.Quality)
		}

		return history.Draft{
			Operation: domain.OpCompress,
			Params:    meta,
			Format:    run.OutputFormat,
			Width:     res.Width,
			Height:    res.Height,
			Data:      res.Data,
		}, nil
	})
	if err != nil {
		return domain.CompressResult{}, err
	}

	out.Version = v
	outcome := "missed"
	if out.MetTarget {
		outcome = "met"
	}
	e.metrics.compressOutcomes.WithLabelValues(outcome).Inc()
	if saved := bytesBefore - v.ByteSize; saved > 0 {
		e.metrics.bytesSavedTotal.Add(float64(saved))
	}
	return out, nil
}

// Rotate turns the current version clockwise by 90, 180 or 270 degrees.
func (e *Engine) Rotate(ctx context.Context, req domain.RotateRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}

	return e.mutate(ctx, req.ImageID, domain.OpRotate, req.FailFast, func(ctx context.Context, _ domain.LogicalImage, cur domain.Version, load loadFunc) (history.Draft, error) {
		return e.transformGeometry(ctx, domain.OpRotate, cur, load,
			map[string]string{"degrees": strconv.Itoa(req.Degrees)},
			func(src codec.Pixels) (codec.Pixels, error) {
				return e.codec.Rotate(src, req.Degrees)
			})
	})
}

// Flip mirrors the current version across its vertical or horizontal
// center line.
func (e *Engine) Flip(ctx context.Context, req domain.FlipRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}

	return e.mutate(ctx, req.ImageID, domain.OpFlip, req.FailFast, func(ctx context.Context, _ domain.LogicalImage, cur domain.Version, load loadFunc) (history.Draft, error) {
		return e.transformGeometry(ctx, domain.OpFlip, cur, load,
			map[string]string{"axis": string(req.Axis)},
			func(src codec.Pixels) (codec.Pixels, error) {
				return e.codec.Flip(src, req.Axis)
			})
	})
}

// Resize scales the current version to exact dimensions.
func (e *Engine) Resize(ctx context.Context, req domain.ResizeRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}
	if req.Width > e.maxDimension || req.Height > e.maxDimension {
		return domain.Version{}, fmt.Errorf("requested %dx%d exceeds the %d pixel per side bound", req.Width, req.Height, e.maxDimension)
	}

	return e.mutate(ctx, req.ImageID, domain.OpResize, req.FailFast, func(ctx context.Context, _ domain.LogicalImage, cur domain.Version, load loadFunc) (history.Draft, error) {
		return e.transformGeometry(ctx, domain.OpResize, cur, load,
			map[string]string{"width": strconv.Itoa(req.Width), "height": strconv.Itoa(req.Height)},
			func(src codec.Pixels) (codec.Pixels, error) {
				return e.codec.ResizeExact(src, req.Width, req.Height)
			})
	})
}

// ApplyEdit replaces the current version with externally produced bytes,
// stored verbatim after a validating decode. Advanced editor output and
// background removal results arrive through here.
func (e *Engine) ApplyEdit(ctx context.Context, req domain.EditRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.OpEdit
	}

	return e.mutate(ctx, req.ImageID, kind, req.FailFast, func(ctx context.Context, _ domain.LogicalImage, _ domain.Version, _ loadFunc) (history.Draft, error) {
		p, format, err := e.codec.Decode(ctx, req.Data)
		if err != nil {
			return history.Draft{}, err
		}
		w, h := p.Size()
		p.Close()

		if err := e.checkDimensions(w, h); err != nil {
			return history.Draft{}, err
		}

		// Stored verbatim. Re-encoding a finished edit would only cost
		// quality.
		return history.Draft{
			Operation: kind,
			Format:    format,
			Width:     w,
			Height:    h,
			Data:      req.Data,
		}, nil
	})
}

// Undo discards the current version and restores the one beneath it.
func (e *Engine) Undo(ctx context.Context, req domain.UndoRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}
	return e.rewind(ctx, req.ImageID, "undo", req.FailFast, func(ctx context.Context, img domain.LogicalImage) (domain.LogicalImage, domain.Version, error) {
		return e.history.PopCurrent(ctx, img)
	})
}

// RestoreTo rewinds to a version still in the stack, discarding everything
// committed after it.
func (e *Engine) RestoreTo(ctx context.Context, req domain.RestoreRequest) (domain.Version, error) {
	if err := req.Validate(); err != nil {
		return domain.Version{}, err
	}
	return e.rewind(ctx, req.ImageID, "restore", req.FailFast, func(ctx context.Context, img domain.LogicalImage) (domain.LogicalImage, domain.Version, error) {
		return e.history.RestoreTo(ctx, img, req.VersionID)
	})
}

// Get returns the image row and its current version metadata.
func (e *Engine) Get(ctx context.Context, imageID string) (domain.LogicalImage, domain.Version, error) {
	return e.history.Current(ctx, imageID)
}

// List returns images oldest first, optionally filtered by owner.
func (e *Engine) List(ctx context.Context, owner string) ([]domain.LogicalImage, error) {
	return e.history.ListImages(ctx, owner)
}

// History returns the image's version stack oldest first.
func (e *Engine) History(ctx context.Context, imageID string) ([]domain.Version, error) {
	return e.history.List(ctx, imageID)
}

// CanUndo reports whether an undo would succeed right now.
func (e *Engine) CanUndo(ctx context.Context, imageID string) (bool, error) {
	return e.history.CanUndo(ctx, imageID)
}

// Download returns the current version's metadata and encoded bytes.
func (e *Engine) Download(ctx context.Context, imageID string) (domain.Version, []byte, error) {
	_, cur, err := e.history.Current(ctx, imageID)
	if err != nil {
		return domain.Version{}, nil, err
	}
	data, err := e.history.GetData(ctx, cur)
	if err != nil {
		return domain.Version{}, nil, missingCurrentBytes(err, cur)
	}
	return cur, data, nil
}

// Thumbnail returns the preview for the current version, rendering and
// caching it when absent. Thumbnails are keyed by version id, so a preview
// can never be served for bytes it was not rendered from.
func (e *Engine) Thumbnail(ctx context.Context, imageID string) ([]byte, domain.Format, error) {
	img, cur, err := e.history.Current(ctx, imageID)
	if err != nil {
		return nil, "", err
	}

	data, format, err := e.history.GetThumb(ctx, img)
	if err == nil {
		return data, format, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}

	raw, err := e.history.GetData(ctx, cur)
	if err != nil {
		return nil, "", missingCurrentBytes(err, cur)
	}
	thumb, format, err := e.thumbs.Render(ctx, raw)
	if err != nil {
		return nil, "", fmt.Errorf("render thumbnail for %s: %w", imageID, err)
	}
	if err := e.history.PutThumb(ctx, img, thumb, format); err != nil {
		e.log.Warn("could not cache thumbnail", "image_id", imageID, "error", err)
	}
	e.metrics.thumbnailsRendered.WithLabelValues("read").Inc()
	return thumb, format, nil
}

// Delete removes the image, its versions and thumbnails. Gone is gone;
// there is no undo across delete.
func (e *Engine) Delete(ctx context.Context, imageID string, failFast bool) error {
	if strings.TrimSpace(imageID) == "" {
		return errors.New("image id is required")
	}

	const label = "delete"
	ctx, span := e.tracer.Start(ctx, "engine.delete", trace.WithAttributes(attribute.String("image.id", imageID)))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		e.metrics.mutationsTotal.WithLabelValues(label, statusOf(err)).Inc()
		return err
	}

	release, err := e.acquire(ctx, imageID, failFast)
	if err != nil {
		return fail(err)
	}
	defer release()

	if err := e.history.Purge(ctx, imageID); err != nil {
		return fail(err)
	}

	e.metrics.mutationsTotal.WithLabelValues(label, "committed").Inc()
	if e.events != nil {
		e.events.ImageDeleted(ctx, imageID)
	}
	e.log.Info("image deleted", "image_id", imageID)
	return nil
}

// Presets returns a copy of the compression preset catalog.
func (e *Engine) Presets() map[string]domain.CompressParams {
	out := make(map[string]domain.CompressParams, len(e.presets))
	for name, params := range e.presets {
		out[name] = params
	}
	return out
}

// PurgeExpired removes images untouched for longer than the retention TTL.
// Images busy with a mutation are skipped; their refreshed timestamps take
// them off the expired list anyway.
func (e *Engine) PurgeExpired(ctx context.Context) ([]string, error) {
	if e.imageTTL <= 0 {
		return nil, nil
	}
	cutoff := time.Now().UTC().Add(-e.imageTTL)
	ids, err := e.history.ListExpired(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var purged []string
	for _, id := range ids {
		release, err := e.locks.acquire(ctx, id, false, 0)
		if err != nil {
			continue
		}
		err = e.history.Purge(ctx, id)
		release()
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				e.log.Warn("could not purge expired image", "image_id", id, "error", err)
			}
			continue
		}
		if e.events != nil {
			e.events.ImageDeleted(ctx, id)
		}
		purged = append(purged, id)
	}
	if len(purged) > 0 {
		e.log.Info("purged expired images", "count", len(purged), "cutoff", cutoff)
	}
	return purged, nil
}

// SweepOrphans collects blobs whose image is gone from metadata, skipping
// anything newer than the grace window.
func (e *Engine) SweepOrphans(ctx context.Context) (int, error) {
	return e.history.SweepOrphans(ctx, time.Now().UTC().Add(-e.orphanGrace))
}

// loadFunc fetches the current version's bytes on demand, so operations
// that replace the bytes outright never pay for the read.
type loadFunc func() ([]byte, error)

type buildFunc func(ctx context.Context, img domain.LogicalImage, cur domain.Version, load loadFunc) (history.Draft, error)

// mutate is the template every version-producing operation runs through:
// take the image lock, load current state, build the new version, render
// its thumbnail, commit, then account for it.
func (e *Engine) mutate(ctx context.Context, imageID string, op domain.Operation, failFast bool, build buildFunc) (domain.Version, error) {
	ctx, span := e.tracer.Start(ctx, "engine.mutate", trace.WithAttributes(
		attribute.String("image.id", imageID),
		attribute.String("image.operation", string(op)),
	))
	defer span.End()
	start := time.Now()

	fail := func(err error) (domain.Version, error) {
		span.RecordError(err)
		e.metrics.mutationsTotal.WithLabelValues(string(op), statusOf(err)).Inc()
		return domain.Version{}, err
	}

	release, err := e.acquire(ctx, imageID, failFast)
	if err != nil {
		return fail(err)
	}
	defer release()

	e.metrics.activeMutations.Inc()
	defer e.metrics.activeMutations.Dec()

	img, cur, err := e.history.Current(ctx, imageID)
	if err != nil {
		return fail(err)
	}

	load := func() ([]byte, error) {
		data, err := e.history.GetData(ctx, cur)
		if err != nil {
			return nil, missingCurrentBytes(err, cur)
		}
		return data, nil
	}

	draft, err := build(ctx, img, cur, load)
	if err != nil {
		return fail(err)
	}
	e.attachThumb(ctx, &draft)

	_, v, evicted, err := e.history.Append(ctx, img, draft)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	e.observeCommit(op, elapsed, len(evicted), v)
	e.emitMutated(ctx, cur.ByteSize, v, elapsed)
	e.log.Info("mutation committed",
		"image_id", imageID,
		"operation", op,
		"version_id", v.VersionID,
		"evicted", len(evicted),
		"bytes", v.ByteSize,
		"duration_ms", elapsed.Milliseconds(),
	)
	return v, nil
}

// rewind is the template for undo and restore: same locking and accounting
// as mutate, but the history store repoints instead of appending.
func (e *Engine) rewind(ctx context.Context, imageID, label string, failFast bool, op func(ctx context.Context, img domain.LogicalImage) (domain.LogicalImage, domain.Version, error)) (domain.Version, error) {
	ctx, span := e.tracer.Start(ctx, "engine."+label, trace.WithAttributes(attribute.String("image.id", imageID)))
	defer span.End()
	start := time.Now()

	fail := func(err error) (domain.Version, error) {
		span.RecordError(err)
		e.metrics.mutationsTotal.WithLabelValues(label, statusOf(err)).Inc()
		return domain.Version{}, err
	}

	release, err := e.acquire(ctx, imageID, failFast)
	if err != nil {
		return fail(err)
	}
	defer release()

	e.metrics.activeMutations.Inc()
	defer e.metrics.activeMutations.Dec()

	img, cur, err := e.history.Current(ctx, imageID)
	if err != nil {
		return fail(err)
	}

	_, restored, err := op(ctx, img)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	e.metrics.mutationsTotal.WithLabelValues(label, "committed").Inc()
	e.metrics.mutationDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	e.emitMutated(ctx, cur.ByteSize, restored, elapsed)
	e.log.Info("history rewound",
		"image_id", imageID,
		"operation", label,
		"version_id", restored.VersionID,
	)
	return restored, nil
}

// transformGeometry is the shared decode, transform, re-encode path for
// rotate, flip and resize. The output keeps the source format.
func (e *Engine) transformGeometry(ctx context.Context, op domain.Operation, cur domain.Version, load loadFunc, params map[string]string, transform func(codec.Pixels) (codec.Pixels, error)) (history.Draft, error) {
	data, err := load()
	if err != nil {
		return history.Draft{}, err
	}
	src, _, err := e.codec.Decode(ctx, data)
	if err != nil {
		return history.Draft{}, err
	}
	defer src.Close()

	out, err := transform(src)
	if err != nil {
		return history.Draft{}, err
	}
	defer out.Close()

	encoded, err := e.codec.Encode(ctx, out, cur.Format, geometryQuality)
	if err != nil {
		return history.Draft{}, err
	}

	w, h := out.Size()
	return history.Draft{
		Operation: op,
		Params:    params,
		Format:    cur.Format,
		Width:     w,
		Height:    h,
		Data:      encoded,
	}, nil
}

func (e *Engine) acquire(ctx context.Context, imageID string, failFast bool) (func(), error) {
	release, err := e.locks.acquire(ctx, imageID, !failFast, e.lockWait)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			policy := "wait"
			if failFast {
				policy = "fail_fast"
			}
			e.metrics.lockRejections.WithLabelValues(policy).Inc()
		}
		return nil, err
	}
	return release, nil
}

func (e *Engine) attachThumb(ctx context.Context, d *history.Draft) {
	thumb, format, err := e.thumbs.Render(ctx, d.Data)
	if err != nil {
		// The mutation's own decode succeeded, so this is an encoder gap in
		// the active build. The read path retries when asked.
		e.log.Warn("thumbnail render failed", "format", d.Format, "error", err)
		return
	}
	d.Thumb = thumb
	d.ThumbFormat = format
	e.metrics.thumbnailsRendered.WithLabelValues("commit").Inc()
}

func (e *Engine) observeCommit(op domain.Operation, elapsed time.Duration, evicted int, v domain.Version) {
	e.metrics.mutationsTotal.WithLabelValues(string(op), "committed").Inc()
	e.metrics.mutationDuration.WithLabelValues(string(op)).Observe(elapsed.Seconds())
	if evicted > 0 {
		e.metrics.versionsEvicted.Add(float64(evicted))
	}
	e.metrics.pixelsTotal.Add(float64(v.Width) * float64(v.Height))
}

func (e *Engine) emitMutated(ctx context.Context, bytesBefore int64, v domain.Version, elapsed time.Duration) {
	if e.events == nil {
		return
	}
	e.events.ImageMutated(ctx, domain.MutationEvent{
		ImageID:     v.ImageID,
		VersionID:   v.VersionID,
		Operation:   v.Operation,
		Format:      v.Format,
		Width:       v.Width,
		Height:      v.Height,
		BytesBefore: bytesBefore,
		BytesAfter:  v.ByteSize,
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	})
}

func (e *Engine) resolvePreset(req domain.CompressRequest) (domain.CompressParams, error) {
	if req.Custom != nil {
		return *req.Custom, nil
	}
	params, ok := e.presets[req.Preset]
	if !ok {
		return domain.CompressParams{}, fmt.Errorf("unknown compression preset %q", req.Preset)
	}
	return params, nil
}

func (e *Engine) checkDimensions(w, h int) error {
	if w > e.maxDimension || h > e.maxDimension {
		return fmt.Errorf("%w: %dx%d exceeds the %d pixel per side bound", domain.ErrDecode, w, h, e.maxDimension)
	}
	return nil
}

func missingCurrentBytes(err error, v domain.Version) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: bytes for version %d of image %s are missing", domain.ErrStorageIO, v.VersionID, v.ImageID)
	}
	return err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domain.ErrHistoryExhausted):
		return "exhausted"
	case errors.Is(err, domain.ErrUnsupportedFormat), errors.Is(err, domain.ErrDecode):
		return "invalid"
	case errors.Is(err, domain.ErrStorageIO):
		return "storage_error"
	default:
		return "error"
	}
}
