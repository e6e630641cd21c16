package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

func (s *Server) handleHealthz(c echo.Context) error {
	ctx := c.Request().Context()

	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if len(s.pingers) > 0 {
		backends := make(map[string]string, len(s.pingers))
		for name, ping := range s.pingers {
			if err := ping(ctx); err != nil {
				backends[name] = err.Error()
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				continue
			}
			backends[name] = "ok"
		}
		body["backends"] = backends
	}
	return c.JSON(status, body)
}

func (s *Server) handleCreate(c echo.Context) error {
	data, err := s.readImageBody(c)
	if err != nil {
		return err
	}

	owner := strings.TrimSpace(c.Request().Header.Get(ownerHeader))
	if owner == "" {
		owner = strings.TrimSpace(c.FormValue("owner_ref"))
	}

	req := domain.CreateRequest{Data: data, OwnerRef: owner}
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	img, err := s.engine.Create(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"image": img})
}

func (s *Server) handleList(c echo.Context) error {
	owner := strings.TrimSpace(c.QueryParam("owner_ref"))
	if owner == "" {
		owner = strings.TrimSpace(c.Request().Header.Get(ownerHeader))
	}

	images, err := s.engine.List(c.Request().Context(), owner)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"images": images,
		"count":  len(images),
	})
}

func (s *Server) handleGet(c echo.Context) error {
	img, v, err := s.engine.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"image":   img,
		"version": v,
	})
}

// handleContent serves the current bytes. The ETag is the current version
// id, so clients revalidate for free and never see stale bytes after a
// mutation.
func (s *Server) handleContent(c echo.Context) error {
	v, data, err := s.engine.Download(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.engineError(c, err)
	}

	etag := versionETag(v.ImageID, v.VersionID)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	h := c.Response().Header()
	h.Set("ETag", etag)
	h.Set("X-Version-ID", strconv.FormatInt(v.VersionID, 10))
	return c.Blob(http.StatusOK, v.Format.MIME(), data)
}

func (s *Server) handleThumbnail(c echo.Context) error {
	ctx := c.Request().Context()
	imageID := c.Param("id")

	img, _, err := s.engine.Get(ctx, imageID)
	if err != nil {
		return s.engineError(c, err)
	}

	etag := versionETag(img.ID, img.CurrentVersionID)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}

	data, format, err := s.engine.Thumbnail(ctx, imageID)
	if err != nil {
		return s.engineError(c, err)
	}
	c.Response().Header().Set("ETag", etag)
	return c.Blob(http.StatusOK, format.MIME(), data)
}

func (s *Server) handleDelete(c echo.Context) error {
	err := s.engine.Delete(c.Request().Context(), c.Param("id"), queryBool(c, "fail_fast"))
	if err != nil {
		return s.engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCompress(c echo.Context) error {
	var req domain.CompressRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}
	if req.Preset != "" {
		if _, ok := s.engine.Presets()[req.Preset]; !ok {
			return s.invalid(c, fmt.Errorf("unknown compression preset %q", req.Preset))
		}
	}

	res, err := s.engine.Compress(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleRotate(c echo.Context) error {
	var req domain.RotateRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	v, err := s.engine.Rotate(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleFlip(c echo.Context) error {
	var req domain.FlipRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	v, err := s.engine.Flip(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleResize(c echo.Context) error {
	var req domain.ResizeRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	v, err := s.engine.Resize(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

// handleEdit ingests pre-edited bytes, typically background-removal
// output. The body is the image itself; the kind rides in a header.
func (s *Server) handleEdit(c echo.Context) error {
	data, err := s.readImageBody(c)
	if err != nil {
		return err
	}

	kind := domain.OpEdit
	switch strings.TrimSpace(c.Request().Header.Get(editKindHeader)) {
	case "", string(domain.OpEdit):
	case string(domain.OpBackgroundRemoved):
		kind = domain.OpBackgroundRemoved
	default:
		return s.invalid(c, fmt.Errorf("unsupported %s header value", editKindHeader))
	}

	req := domain.EditRequest{
		ImageID:  c.Param("id"),
		Data:     data,
		Kind:     kind,
		FailFast: queryBool(c, "fail_fast"),
	}
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	v, err := s.engine.ApplyEdit(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleUndo(c echo.Context) error {
	var req domain.UndoRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")

	v, err := s.engine.Undo(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleRestore(c echo.Context) error {
	var req domain.RestoreRequest
	if err := bindJSON(c, &req); err != nil {
		return s.badRequest(c, err)
	}
	req.ImageID = c.Param("id")
	if err := req.Validate(); err != nil {
		return s.invalid(c, err)
	}

	v, err := s.engine.RestoreTo(c.Request().Context(), req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"version": v})
}

func (s *Server) handleHistory(c echo.Context) error {
	imageID := c.Param("id")
	versions, err := s.engine.History(c.Request().Context(), imageID)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"image_id": imageID,
		"versions": versions,
		"count":    len(versions),
	})
}

func (s *Server) handleCanUndo(c echo.Context) error {
	imageID := c.Param("id")
	canUndo, err := s.engine.CanUndo(c.Request().Context(), imageID)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"image_id": imageID,
		"can_undo": canUndo,
	})
}

func (s *Server) handlePresets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"presets": s.engine.Presets()})
}
