package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/domain"
	"github.com/githuba42r/ImageTools-sub000/internal/engine"
	"github.com/githuba42r/ImageTools-sub000/internal/history"
	"github.com/githuba42r/ImageTools-sub000/internal/ratelimit"
	"github.com/githuba42r/ImageTools-sub000/internal/storage"
	"github.com/githuba42r/ImageTools-sub000/internal/store"
)

func buildServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	meta := store.NewMemoryImageStore()
	blobs, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	eng, err := engine.New(engine.Config{
		History: history.New(meta, blobs, 10, log),
		Codec:   codec.New(),
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
		LockWait: time.Second,
		Metrics:  engine.NopMetrics(),
		Logger:   log,
	})
	require.NoError(t, err)

	if cfg.Pingers == nil {
		cfg.Pingers = map[string]func(context.Context) error{
			"store": meta.Ping,
			"blobs": blobs.Ping,
		}
	}
	return NewServer(log, eng, cfg)
}

func newTestServer(t *testing.T) *Server {
	return buildServer(t, Config{})
}

func buildJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func buildPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: uint8(x % 256), B: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return doRequest(srv, req)
}

func uploadImage(t *testing.T, srv *Server, data []byte) domain.LogicalImage {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, "image/jpeg")
	req.Header.Set(ownerHeader, "alice")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Image domain.LogicalImage `json:"image"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Image.ID)
	return out.Image
}

func decodeVersion(t *testing.T, rec *httptest.ResponseRecorder) domain.Version {
	t.Helper()

	var out struct {
		Version domain.Version `json:"version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Version
}

func TestUploadAndDownloadRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	data := buildJPEG(t, 400, 300)

	img := uploadImage(t, srv, data)
	require.Equal(t, "alice", img.OwnerRef)
	require.Equal(t, domain.FormatJPEG, img.Format)
	require.Equal(t, int64(0), img.CurrentVersionID)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/content", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
	require.Equal(t, data, rec.Body.Bytes())

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	// Revalidation against the same version short-circuits.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/content", nil)
	req.Header.Set("If-None-Match", etag)
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusNotModified, rec.Code)

	// A mutation changes the ETag, so the stale one revalidates fully.
	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 90}`)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/content", nil)
	req.Header.Set("If-None-Match", etag)
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, etag, rec.Header().Get("ETag"))
}

func TestUploadMultipart(t *testing.T) {
	srv := newTestServer(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(buildJPEG(t, 200, 100))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("owner_ref", "bob"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Image domain.LogicalImage `json:"image"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "bob", out.Image.OwnerRef)
	require.Equal(t, 200, out.Image.Width)
}

func TestUploadValidation(t *testing.T) {
	srv := newTestServer(t)

	// Unrecognized bytes.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", strings.NewReader("definitely not an image"))
	req.Header.Set(ownerHeader, "alice")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Missing owner ref.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/images", bytes.NewReader(buildJPEG(t, 50, 50)))
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "owner_ref")
}

func TestUploadCapIsEnforced(t *testing.T) {
	srv := buildServer(t, Config{MaxUploadBytes: 16 << 10})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", bytes.NewReader(make([]byte, 20<<10)))
	req.Header.Set(ownerHeader, "alice")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, rec.Body.String(), "byte limit")
}

func TestRotateValidationAndMissing(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 300, 200))

	rec := postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 45}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 90, "bogus": true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(srv, "/api/v1/images/no-such-image/rotate", `{"degrees": 90}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 90}`)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeVersion(t, rec)
	require.Equal(t, int64(1), v.VersionID)
	require.Equal(t, 200, v.Width)
	require.Equal(t, 300, v.Height)
}

func TestCompressRoute(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 1600, 1200))

	rec := postJSON(srv, "/api/v1/images/"+img.ID+"/compress", `{"preset": "email"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res domain.CompressResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.MetTarget)
	require.Equal(t, int64(1), res.Version.VersionID)
	require.LessOrEqual(t, res.Version.Width, 800)

	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/compress", `{"preset": "print"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown compression preset")

	// Custom params instead of a preset.
	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/compress",
		`{"custom": {"max_width": 400, "max_height": 400, "target_byte_size": 100000}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestUndoAtBaseConflicts(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 100, 100))

	rec := postJSON(srv, "/api/v1/images/"+img.ID+"/undo", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "base version")
}

func TestHistoryAndCanUndo(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 300, 200))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/history/can-undo", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"can_undo":false`)

	postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 180}`)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/history", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Versions []domain.Version `json:"versions"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Count)
	require.Equal(t, domain.OpUploaded, out.Versions[0].Operation)
	require.Equal(t, domain.OpRotate, out.Versions[1].Operation)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/history/can-undo", nil))
	require.Contains(t, rec.Body.String(), `"can_undo":true`)
}

func TestRestoreRoute(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 300, 200))

	postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 90}`)
	postJSON(srv, "/api/v1/images/"+img.ID+"/rotate", `{"degrees": 90}`)

	rec := postJSON(srv, "/api/v1/images/"+img.ID+"/restore", `{"version_id": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), decodeVersion(t, rec).VersionID)

	rec = postJSON(srv, "/api/v1/images/"+img.ID+"/restore", `{"version_id": 9}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEditRoute(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 300, 200))

	edited := buildPNG(t, 300, 200)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/"+img.ID+"/edit", bytes.NewReader(edited))
	req.Header.Set(editKindHeader, string(domain.OpBackgroundRemoved))
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	v := decodeVersion(t, rec)
	require.Equal(t, domain.OpBackgroundRemoved, v.Operation)
	require.Equal(t, domain.FormatPNG, v.Format)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/images/"+img.ID+"/edit", bytes.NewReader(edited))
	req.Header.Set(editKindHeader, "sharpen")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestThumbnailRoute(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 600, 300))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID+"/thumbnail", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
	require.NotEmpty(t, rec.Header().Get("ETag"))

	decoded, _, err := image.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 300, decoded.Bounds().Dx())
	require.Equal(t, 150, decoded.Bounds().Dy())
}

func TestDeleteRoute(t *testing.T) {
	srv := newTestServer(t)
	img := uploadImage(t, srv, buildJPEG(t, 100, 100))

	rec := doRequest(srv, httptest.NewRequest(http.MethodDelete, "/api/v1/images/"+img.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images/"+img.ID, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRoute(t *testing.T) {
	srv := newTestServer(t)
	uploadImage(t, srv, buildJPEG(t, 100, 100))
	uploadImage(t, srv, buildJPEG(t, 100, 100))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images?owner_ref=alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Images []domain.LogicalImage `json:"images"`
		Count  int                   `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 2, out.Count)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images?owner_ref=nobody", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 0, out.Count)
}

func TestPresetCatalog(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/compression/presets", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"email"`)
	require.Contains(t, rec.Body.String(), `"target_byte_size":500000`)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
	require.Contains(t, rec.Body.String(), `"store":"ok"`)
	require.Contains(t, rec.Body.String(), `"blobs":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "imagetools_api_requests_total")
}

type stubLimiter struct {
	allowed bool
}

func (s stubLimiter) Allow(_ context.Context, _ string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: s.allowed, Remaining: 0, RetryAfter: 2 * time.Second}, nil
}

func TestRateLimitGatesMutations(t *testing.T) {
	srv := buildServer(t, Config{Limiter: stubLimiter{allowed: false}})

	rec := postJSON(srv, "/api/v1/images/some-id/rotate", `{"degrees": 90}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "2", rec.Header().Get("Retry-After"))

	// Reads pass the limiter untouched.
	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/images", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
