// Package api is the HTTP face of the engine: a thin echo server that
// binds requests, enforces the upload cap and rate limit, and maps the
// domain error taxonomy onto status codes. All image semantics live in
// internal/engine; nothing here mutates state on its own.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

const (
	defaultMaxUploadBytes = 20 << 20
	maxJSONBodyBytes      = 1 << 20

	ownerHeader    = "X-Owner-Ref"
	editKindHeader = "X-Edit-Kind"
)

// imageEngine is the surface this server consumes.
type imageEngine interface {
	Create(ctx context.Context, req domain.CreateRequest) (domain.LogicalImage, error)
	Get(ctx context.Context, imageID string) (domain.LogicalImage, domain.Version, error)
	List(ctx context.Context, owner string) ([]domain.LogicalImage, error)
	Download(ctx context.Context, imageID string) (domain.Version, []byte, error)
	Thumbnail(ctx context.Context, imageID string) ([]byte, domain.Format, error)
	Delete(ctx context.Context, imageID string, failFast bool) error
	Compress(ctx context.Context, req domain.CompressRequest) (domain.CompressResult, error)
	Rotate(ctx context.Context, req domain.RotateRequest) (domain.Version, error)
	Flip(ctx context.Context, req domain.FlipRequest) (domain.Version, error)
	Resize(ctx context.Context, req domain.ResizeRequest) (domain.Version, error)
	ApplyEdit(ctx context.Context, req domain.EditRequest) (domain.Version, error)
	Undo(ctx context.Context, req domain.UndoRequest) (domain.Version, error)
	RestoreTo(ctx context.Context, req domain.RestoreRequest) (domain.Version, error)
	History(ctx context.Context, imageID string) ([]domain.Version, error)
	CanUndo(ctx context.Context, imageID string) (bool, error)
	Presets() map[string]domain.CompressParams
}

// Config carries the optional knobs; the zero value serves with defaults
// and without rate limiting or backend health checks.
type Config struct {
	// MaxUploadBytes caps image payloads on the create and edit routes.
	MaxUploadBytes int64
	// Registry receives the HTTP series and backs the /metrics endpoint.
	// Register the engine metrics on the same one to serve both.
	Registry *prometheus.Registry
	// Limiter, when set, gates mutating routes.
	Limiter RateLimiter
	// Pingers are probed by /healthz, keyed by backend name.
	Pingers map[string]func(context.Context) error
}

type Server struct {
	log       *slog.Logger
	engine    imageEngine
	limiter   RateLimiter
	pingers   map[string]func(context.Context) error
	maxUpload int64
	metrics   *metrics
	tracer    trace.Tracer
	echo      *echo.Echo
}

func NewServer(log *slog.Logger, eng imageEngine, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		log:       log,
		engine:    eng,
		limiter:   cfg.Limiter,
		pingers:   cfg.Pingers,
		maxUpload: cfg.MaxUploadBytes,
		metrics:   newMetrics(cfg.Registry),
		tracer:    otel.Tracer("imagetools-api"),
		echo:      echo.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.RequestID())
	e.Use(s.withAccessLog)
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(s.withTracing)
	e.Use(s.withMetrics)

	e.GET("/healthz", s.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(s.metrics.handler()))

	v1 := e.Group("/api/v1", s.withRateLimit)
	v1.POST("/images", s.handleCreate)
	v1.GET("/images", s.handleList)
	v1.GET("/images/:id", s.handleGet)
	v1.GET("/images/:id/content", s.handleContent)
	v1.GET("/images/:id/thumbnail", s.handleThumbnail)
	v1.DELETE("/images/:id", s.handleDelete)
	v1.POST("/images/:id/compress", s.handleCompress)
	v1.POST("/images/:id/rotate", s.handleRotate)
	v1.POST("/images/:id/flip", s.handleFlip)
	v1.POST("/images/:id/resize", s.handleResize)
	v1.POST("/images/:id/edit", s.handleEdit)
	v1.POST("/images/:id/undo", s.handleUndo)
	v1.POST("/images/:id/restore", s.handleRestore)
	v1.GET("/images/:id/history", s.handleHistory)
	v1.GET("/images/:id/history/can-undo", s.handleCanUndo)
	v1.GET("/compression/presets", s.handlePresets)
}

// Start blocks serving on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.echo.Server.ReadTimeout = 60 * time.Second
	s.echo.Server.WriteTimeout = 60 * time.Second
	s.echo.Server.IdleTimeout = 120 * time.Second
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// httpErrorHandler unifies the body shape of router-level errors (404 on
// unknown routes, 405) with the {"error": ...} envelope the handlers use.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "status", status, "error", err)
	}
	if err := c.JSON(status, map[string]string{"error": message}); err != nil {
		s.log.Error("write error response", "error", err)
	}
}

func (s *Server) withAccessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		status := c.Response().Status
		level := slog.LevelDebug
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelInfo
		}
		s.log.Log(c.Request().Context(), level, "http request",
			"method", c.Request().Method,
			"route", routeLabel(c),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return nil
	}
}

// statusFor maps the domain taxonomy onto HTTP codes. Anything outside
// the taxonomy is an internal error; request validation never reaches
// this path because handlers reject it before calling the engine.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, domain.ErrHistoryExhausted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStorageIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// engineError renders an engine failure. Internal details stay in the
// log; the client sees the taxonomy message or a generic line for 5xx.
func (s *Server) engineError(c echo.Context, err error) error {
	status := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("engine call failed",
			"route", routeLabel(c),
			"image_id", c.Param("id"),
			"error", err,
		)
		message = "internal error"
		if status == http.StatusBadGateway {
			message = "storage backend failed"
		}
	}
	return c.JSON(status, map[string]string{"error": message})
}

func (s *Server) invalid(c echo.Context, err error) error {
	return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
}

func (s *Server) badRequest(c echo.Context, err error) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
}

// bindJSON decodes a request body strictly: unknown fields, trailing
// values and bodies over 1MB are rejected. An empty body leaves the
// target at its zero value so bare POSTs to undo and friends work.
func bindJSON(c echo.Context, into any) error {
	decoder := json.NewDecoder(io.LimitReader(c.Request().Body, maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

// readImageBody pulls raw image bytes from either a multipart "file"
// field or the request body itself, honoring the upload cap.
func (s *Server) readImageBody(c echo.Context) ([]byte, error) {
	r := c.Request()

	if strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		file, err := c.FormFile("file")
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "multipart field \"file\" is required")
		}
		if file.Size > s.maxUpload {
			return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds the %d byte limit", s.maxUpload))
		}
		f, err := file.Open()
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable multipart file")
		}
		defer f.Close()
		return readCapped(f, s.maxUpload)
	}

	return readCapped(r.Body, s.maxUpload)
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "unreadable request body")
	}
	if int64(len(data)) > limit {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds the %d byte limit", limit))
	}
	return data, nil
}

func queryBool(c echo.Context, name string) bool {
	switch strings.ToLower(c.QueryParam(name)) {
	case "1", "t", "true", "yes":
		return true
	}
	return false
}

func versionETag(imageID string, versionID int64) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%s-v%d", imageID, versionID))
}

func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
