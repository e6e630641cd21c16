package domain

import (
	"errors"
	"fmt"
	"strings"
)

// CompressParams is the bundle consumed by target-size search, either from
// a named preset or supplied verbatim by the caller. A zero QualityFloor or
// QualityCeiling means "use the configured default"; an empty OutputFormat
// means "keep the source format".
type CompressParams struct {
	MaxWidth       int    `json:"max_width"`
	MaxHeight      int    `json:"max_height"`
	TargetByteSize int64  `json:"target_byte_size"`
	QualityFloor   int    `json:"quality_floor,omitempty"`
	QualityCeiling int    `json:"quality_ceiling,omitempty"`
	OutputFormat   Format `json:"output_format,omitempty"`
}

func (p CompressParams) Validate() error {
	if p.MaxWidth < 1 || p.MaxHeight < 1 {
		return errors.New("max_width and max_height must be at least 1")
	}
	if p.TargetByteSize < 1 {
		return errors.New("target_byte_size must be at least 1")
	}
	if p.QualityFloor < 0 || p.QualityFloor > 100 {
		return fmt.Errorf("quality_floor out of range: %d", p.QualityFloor)
	}
	if p.QualityCeiling < 0 || p.QualityCeiling > 100 {
		return fmt.Errorf("quality_ceiling out of range: %d", p.QualityCeiling)
	}
	if p.QualityFloor > 0 && p.QualityCeiling > 0 && p.QualityFloor > p.QualityCeiling {
		return fmt.Errorf("quality_floor %d above quality_ceiling %d", p.QualityFloor, p.QualityCeiling)
	}
	if p.OutputFormat != "" && !p.OutputFormat.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, p.OutputFormat)
	}
	return nil
}

// CompressResult is what a compress operation returns. MetTarget is a
// result flag, never an error: an unattainable budget still commits the
// smallest encoding found. Ratio is the fraction of bytes saved against
// the input version, negative when the re-encode grew the image.
type CompressResult struct {
	Version   Version `json:"version"`
	MetTarget bool    `json:"met_target"`
	Ratio     float64 `json:"ratio"`
}

type CreateRequest struct {
	Data     []byte
	OwnerRef string
}

func (r CreateRequest) Validate() error {
	if len(r.Data) == 0 {
		return errors.New("image data is required")
	}
	if strings.TrimSpace(r.OwnerRef) == "" {
		return errors.New("owner_ref is required")
	}
	return nil
}

// CompressRequest selects either a named preset or fully custom params.
// FailFast, here and on every other mutating request, rejects with
// ErrConcurrentModification instead of waiting for the image lock.
type CompressRequest struct {
	ImageID  string          `json:"-"`
	Preset   string          `json:"preset,omitempty"`
	Custom   *CompressParams `json:"custom,omitempty"`
	FailFast bool            `json:"fail_fast,omitempty"`
}

func (r CompressRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	hasPreset := strings.TrimSpace(r.Preset) != ""
	if hasPreset == (r.Custom != nil) {
		return errors.New("exactly one of preset or custom params is required")
	}
	if r.Custom != nil {
		return r.Custom.Validate()
	}
	return nil
}

type RotateRequest struct {
	ImageID  string `json:"-"`
	Degrees  int    `json:"degrees"`
	FailFast bool   `json:"fail_fast,omitempty"`
}

func (r RotateRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	switch r.Degrees {
	case 90, 180, 270:
		return nil
	}
	return fmt.Errorf("degrees must be 90, 180 or 270, got %d", r.Degrees)
}

type FlipRequest struct {
	ImageID  string   `json:"-"`
	Axis     FlipAxis `json:"axis"`
	FailFast bool     `json:"fail_fast,omitempty"`
}

func (r FlipRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	if r.Axis != FlipHorizontal && r.Axis != FlipVertical {
		return fmt.Errorf("axis must be %q or %q", FlipHorizontal, FlipVertical)
	}
	return nil
}

type ResizeRequest struct {
	ImageID  string `json:"-"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FailFast bool   `json:"fail_fast,omitempty"`
}

func (r ResizeRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	if r.Width < 1 || r.Height < 1 {
		return errors.New("width and height must be at least 1")
	}
	return nil
}

// EditRequest ingests externally produced replacement bytes (advanced
// editor output, background-removal result). Bytes are stored verbatim,
// not re-encoded, after a validating decode.
type EditRequest struct {
	ImageID  string
	Data     []byte
	Kind     Operation
	FailFast bool
}

func (r EditRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	if len(r.Data) == 0 {
		return errors.New("edited image data is required")
	}
	if r.Kind != "" && r.Kind != OpEdit && r.Kind != OpBackgroundRemoved {
		return fmt.Errorf("unsupported edit kind: %s", r.Kind)
	}
	return nil
}

type UndoRequest struct {
	ImageID  string `json:"-"`
	FailFast bool   `json:"fail_fast,omitempty"`
}

func (r UndoRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	return nil
}

type RestoreRequest struct {
	ImageID   string `json:"-"`
	VersionID int64  `json:"version_id"`
	FailFast  bool   `json:"fail_fast,omitempty"`
}

func (r RestoreRequest) Validate() error {
	if strings.TrimSpace(r.ImageID) == "" {
		return errors.New("image id is required")
	}
	if r.VersionID < 0 {
		return fmt.Errorf("version_id must not be negative, got %d", r.VersionID)
	}
	return nil
}
