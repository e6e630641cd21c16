// Package thumbnail renders preview images from encoded version bytes.
package thumbnail

import (
	"context"
	"fmt"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

const (
	DefaultMaxEdge = 300
	DefaultQuality = 80
)

type Generator struct {
	codec   codec.Codec
	maxEdge int
	quality int
}

func New(c codec.Codec, maxEdge, quality int) *Generator {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	if quality <= 0 {
		quality = DefaultQuality
	}
	return &Generator{codec: c, maxEdge: maxEdge, quality: quality}
}

// Render decodes data, fits it inside the thumbnail box without upscaling,
// and encodes it in the thumbnail format for the source. PNG sources stay
// PNG so transparency survives; everything else becomes JPEG.
func (g *Generator) Render(ctx context.Context, data []byte) ([]byte, domain.Format, error) {
	src, srcFormat, err := g.codec.Decode(ctx, data)
	if err != nil {
		return nil, "", fmt.Errorf("decode for thumbnail: %w", err)
	}
	defer src.Close()

	fitted, err := g.codec.ResizeFit(src, g.maxEdge, g.maxEdge)
	if err != nil {
		return nil, "", fmt.Errorf("resize for thumbnail: %w", err)
	}
	defer fitted.Close()

	format := domain.ThumbnailFormat(srcFormat)
	out, err := g.codec.Encode(ctx, fitted, format, g.quality)
	if err != nil {
		return nil, "", fmt.Errorf("encode thumbnail: %w", err)
	}
	return out, format, nil
}
