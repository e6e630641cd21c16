package codec

import (
	"bytes"
	"fmt"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

var (
	magicJPEG  = []byte{0xFF, 0xD8, 0xFF}
	magicPNG   = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	magicGIF87 = []byte("GIF87a")
	magicGIF89 = []byte("GIF89a")
	magicBMP   = []byte("BM")
	magicTIFFL = []byte{0x49, 0x49, 0x2A, 0x00}
	magicTIFFB = []byte{0x4D, 0x4D, 0x00, 0x2A}
	magicRIFF  = []byte("RIFF")
	magicWEBP  = []byte("WEBP")
)

// Detect sniffs the container format from magic bytes. It deliberately does
// not fall back to extension or content-type hints: bytes that do not carry
// a recognizable signature are rejected before any decoder runs.
func Detect(data []byte) (domain.Format, error) {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return domain.FormatJPEG, nil
	case bytes.HasPrefix(data, magicPNG):
		return domain.FormatPNG, nil
	case bytes.HasPrefix(data, magicGIF87), bytes.HasPrefix(data, magicGIF89):
		return domain.FormatGIF, nil
	case bytes.HasPrefix(data, magicTIFFL), bytes.HasPrefix(data, magicTIFFB):
		return domain.FormatTIFF, nil
	case len(data) >= 12 && bytes.Equal(data[:4], magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return domain.FormatWEBP, nil
	case bytes.HasPrefix(data, magicBMP):
		return domain.FormatBMP, nil
	default:
		return "", fmt.Errorf("%w: unrecognized signature", domain.ErrUnsupportedFormat)
	}
}

// FitDimensions scales (width, height) to fit within (maxWidth, maxHeight)
// preserving aspect ratio. It never upscales and never returns a dimension
// below 1.
func FitDimensions(width, height, maxWidth, maxHeight int) (int, int) {
	if width < 1 || height < 1 || maxWidth < 1 || maxHeight < 1 {
		return max(width, 1), max(height, 1)
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	scaleW := float64(maxWidth) / float64(width)
	scaleH := float64(maxHeight) / float64(height)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	outW := int(float64(width) * scale)
	outH := int(float64(height) * scale)
	return max(outW, 1), max(outH, 1)
}
