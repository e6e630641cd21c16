package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

const defaultQuality = 95

type stdCodec struct{}

type stdPixels struct {
	img image.Image
}

func (p *stdPixels) Size() (int, int) {
	b := p.img.Bounds()
	return b.Dx(), b.Dy()
}

func (p *stdPixels) Close() {}

func (stdCodec) Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	format, err := Detect(data)
	if err != nil {
		return nil, "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrDecode, format, err)
	}

	return &stdPixels{img: img}, format, nil
}

func (stdCodec) Encode(ctx context.Context, p Pixels, format domain.Format, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	src, err := stdImage(p)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case domain.FormatJPEG:
		opts := &jpeg.Options{Quality: clampQuality(quality, defaultQuality)}
		if err := jpeg.Encode(&buf, src, opts); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case domain.FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, src); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case domain.FormatGIF:
		if err := gif.Encode(&buf, src, &gif.Options{NumColors: 256}); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case domain.FormatBMP:
		if err := bmp.Encode(&buf, src); err != nil {
			return nil, fmt.Errorf("encode bmp: %w", err)
		}
	case domain.FormatTIFF:
		opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
		if err := tiff.Encode(&buf, src, opts); err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
	case domain.FormatWEBP:
		return nil, fmt.Errorf("%w: webp encode requires the govips build tag", domain.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}

	return buf.Bytes(), nil
}

func (stdCodec) ResizeFit(p Pixels, maxWidth, maxHeight int) (Pixels, error) {
	src, err := stdImage(p)
	if err != nil {
		return nil, err
	}

	w, h := p.Size()
	outW, outH := FitDimensions(w, h, maxWidth, maxHeight)
	if outW == w && outH == h {
		return &stdPixels{img: cloneRGBA(src)}, nil
	}
	return &stdPixels{img: scaleTo(src, outW, outH)}, nil
}

func (stdCodec) ResizeExact(p Pixels, width, height int) (Pixels, error) {
	if width < 1 || height < 1 {
		return nil, errors.New("resize dimensions must be at least 1")
	}

	src, err := stdImage(p)
	if err != nil {
		return nil, err
	}

	w, h := p.Size()
	if width == w && height == h {
		return &stdPixels{img: cloneRGBA(src)}, nil
	}
	return &stdPixels{img: scaleTo(src, width, height)}, nil
}

func (stdCodec) Rotate(p Pixels, degrees int) (Pixels, error) {
	src, err := stdImage(p)
	if err != nil {
		return nil, err
	}

	var out *image.RGBA
	switch degrees {
	case 90:
		out = rotate90(src)
	case 180:
		out = rotate180(src)
	case 270:
		out = rotate270(src)
	default:
		return nil, fmt.Errorf("rotate degrees must be 90, 180 or 270, got %d", degrees)
	}
	return &stdPixels{img: out}, nil
}

func (stdCodec) Flip(p Pixels, axis domain.FlipAxis) (Pixels, error) {
	src, err := stdImage(p)
	if err != nil {
		return nil, err
	}

	switch axis {
	case domain.FlipHorizontal:
		return &stdPixels{img: flipHorizontal(src)}, nil
	case domain.FlipVertical:
		return &stdPixels{img: flipVertical(src)}, nil
	default:
		return nil, fmt.Errorf("unknown flip axis: %q", axis)
	}
}

func stdImage(p Pixels) (image.Image, error) {
	sp, ok := p.(*stdPixels)
	if !ok {
		return nil, errors.New("pixels handle does not belong to the stdlib codec")
	}
	return sp.img, nil
}

func scaleTo(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

func cloneRGBA(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	return dst
}

// rotate90 turns the image 90 degrees clockwise: source (x, y) lands at
// (h-1-y, x).
func rotate90(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func rotate180(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

// rotate270 turns the image 90 degrees counter-clockwise: source (x, y)
// lands at (y, w-1-x).
func rotate270(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func flipHorizontal(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

func flipVertical(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, h-1-y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
