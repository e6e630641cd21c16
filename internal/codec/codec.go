// Package codec is the uniform encode/decode/transform layer over the
// supported raster formats. Two implementations exist: a pure-Go one built
// on the stdlib and golang.org/x/image, and a libvips one compiled in with
// the govips build tag. Both are stateless and side-effect free; selection
// happens once at startup.
package codec

import (
	"context"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

// Pixels is an opaque decoded-image handle. Handles are only valid with the
// codec that produced them and must be released with Close once done; every
// transform returns a fresh handle and leaves its input intact.
type Pixels interface {
	Size() (width, height int)
	Close()
}

type Codec interface {
	// Decode sniffs the format and decodes. Unrecognized signatures fail
	// with ErrUnsupportedFormat, recognized-but-corrupt data with ErrDecode.
	Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error)

	// Encode serializes pixels into format at the given quality. Quality is
	// ignored by formats that do not support it. Formats the active build
	// cannot produce fail with ErrUnsupportedFormat.
	Encode(ctx context.Context, p Pixels, format domain.Format, quality int) ([]byte, error)

	// ResizeFit scales down to fit within the box, preserving aspect ratio,
	// never upscaling.
	ResizeFit(p Pixels, maxWidth, maxHeight int) (Pixels, error)

	// ResizeExact scales to the exact dimensions, ignoring aspect ratio.
	ResizeExact(p Pixels, width, height int) (Pixels, error)

	// Rotate turns the image clockwise by 90, 180 or 270 degrees.
	Rotate(p Pixels, degrees int) (Pixels, error)

	// Flip mirrors across the vertical (horizontal axis value) or
	// horizontal (vertical axis value) center line.
	Flip(p Pixels, axis domain.FlipAxis) (Pixels, error)
}

// New returns the codec selected at build time: libvips under the govips
// tag, the pure-Go implementation otherwise.
func New() Codec {
	return newCodec()
}

// Measure reports the encoded byte size.
func Measure(data []byte) int64 {
	return int64(len(data))
}

func clampQuality(quality, fallback int) int {
	if quality < 1 || quality > 100 {
		return fallback
	}
	return quality
}
