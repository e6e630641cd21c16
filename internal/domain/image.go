package domain

import (
	"fmt"
	"strings"
	"time"
)

// Format is the closed set of raster formats the engine accepts. Anything
// else is rejected with ErrUnsupportedFormat before any decode is attempted.
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

// Operation tags what produced a Version.
type Operation string

const (
	OpUploaded          Operation = "uploaded"
	OpCompress          Operation = "compress"
	OpRotate            Operation = "rotate"
	OpFlip              Operation = "flip"
	OpResize            Operation = "resize"
	OpEdit              Operation = "edit"
	OpBackgroundRemoved Operation = "background_removed"
)

// FlipAxis selects the mirror direction for flip operations.
type FlipAxis string

const (
	FlipHorizontal FlipAxis = "horizontal"
	FlipVertical   FlipAxis = "vertical"
)

// LogicalImage is the durable identity a caller addresses. The format,
// width, height and byte size mirror the current Version so metadata reads
// never touch blob storage. NextVersionID is the per-image sequence counter;
// it only ever grows, so version ids stay unique across evictions.
type LogicalImage struct {
	ID               string    `json:"id"`
	OwnerRef         string    `json:"owner_ref"`
	CurrentVersionID int64     `json:"current_version_id"`
	NextVersionID    int64     `json:"-"`
	Format           Format    `json:"format"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
	ByteSize         int64     `json:"byte_size"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Version is one immutable physical snapshot in an image's history.
type Version struct {
	ImageID    string            `json:"image_id"`
	VersionID  int64             `json:"version_id"`
	Operation  Operation         `json:"operation"`
	Params     map[string]string `json:"params,omitempty"`
	StorageRef string            `json:"-"`
	Format     Format            `json:"format"`
	Width      int               `json:"width"`
	Height     int               `json:"height"`
	ByteSize   int64             `json:"byte_size"`
	CreatedAt  time.Time         `json:"created_at"`
}

// IsBase reports whether v is the as-uploaded version, which is protected
// from both eviction and undo.
func (v Version) IsBase() bool {
	return v.VersionID == 0
}

// Clone returns a deep copy so stored versions never share the params map
// with callers.
func (v Version) Clone() Version {
	out := v
	if v.Params != nil {
		out.Params = make(map[string]string, len(v.Params))
		for k, val := range v.Params {
			out.Params[k] = val
		}
	}
	return out
}

// ParseFormat normalizes a format or file-extension token ("JPG", ".jpeg",
// "webp") into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "webp":
		return FormatWEBP, nil
	case "gif":
		return FormatGIF, nil
	case "bmp":
		return FormatBMP, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (f Format) Valid() bool {
	switch f {
	case FormatJPEG, FormatPNG, FormatWEBP, FormatGIF, FormatBMP, FormatTIFF:
		return true
	}
	return false
}

func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tiff"
	default:
		return "." + string(f)
	}
}

// QualityTunable reports whether the encoder for f takes a quality knob
// that meaningfully changes output size. PNG, GIF, BMP and TIFF ignore
// quality, so target-size search skips the quality phase for them.
func (f Format) QualityTunable() bool {
	return f == FormatJPEG || f == FormatWEBP
}

// ThumbnailFormat is the format thumbnails are encoded in for a source of
// format f. PNG sources keep PNG so alpha from background-removal edits
// survives; everything else becomes JPEG.
func ThumbnailFormat(f Format) Format {
	if f == FormatPNG {
		return FormatPNG
	}
	return FormatJPEG
}

func (o Operation) Valid() bool {
	switch o {
	case OpUploaded, OpCompress, OpRotate, OpFlip, OpResize, OpEdit, OpBackgroundRemoved:
		return true
	}
	return false
}
