//go:build govips && cgo

package codec

import (
	"context"
	"errors"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

type vipsCodec struct{}

type vipsPixels struct {
	ref *vips.ImageRef
}

func (p *vipsPixels) Size() (int, int) {
	return p.ref.Width(), p.ref.Height()
}

func (p *vipsPixels) Close() {
	p.ref.Close()
}

func (vipsCodec) Decode(ctx context.Context, data []byte) (Pixels, domain.Format, error) {
	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	default:
	}

	format, err := Detect(data)
	if err != nil {
		return nil, "", err
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %s: %v", domain.ErrDecode, format, err)
	}

	return &vipsPixels{ref: ref}, format, nil
}

func (vipsCodec) Encode(ctx context.Context, p Pixels, format domain.Format, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	vp, err := vipsRef(p)
	if err != nil {
		return nil, err
	}

	switch format {
	case domain.FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = clampQuality(quality, defaultQuality)
		data, _, err := vp.ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := vp.ref.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case domain.FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = clampQuality(quality, defaultQuality)
		data, _, err := vp.ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	case domain.FormatGIF:
		data, _, err := vp.ref.ExportGif(vips.NewGifExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
		return data, nil
	case domain.FormatTIFF:
		data, _, err := vp.ref.ExportTiff(vips.NewTiffExportParams())
		if err != nil {
			return nil, fmt.Errorf("encode tiff: %w", err)
		}
		return data, nil
	case domain.FormatBMP:
		return nil, fmt.Errorf("%w: bmp encode is not available in the govips build", domain.ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
}

func (vipsCodec) ResizeFit(p Pixels, maxWidth, maxHeight int) (Pixels, error) {
	vp, err := vipsRef(p)
	if err != nil {
		return nil, err
	}

	w, h := p.Size()
	outW, outH := FitDimensions(w, h, maxWidth, maxHeight)

	cp, err := vp.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if outW == w && outH == h {
		return &vipsPixels{ref: cp}, nil
	}

	if err := cp.Resize(float64(outW)/float64(w), vips.KernelLanczos3); err != nil {
		cp.Close()
		return nil, fmt.Errorf("resize image: %w", err)
	}
	return &vipsPixels{ref: cp}, nil
}

func (vipsCodec) ResizeExact(p Pixels, width, height int) (Pixels, error) {
	if width < 1 || height < 1 {
		return nil, errors.New("resize dimensions must be at least 1")
	}

	vp, err := vipsRef(p)
	if err != nil {
		return nil, err
	}

	w, h := p.Size()
	cp, err := vp.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if width == w && height == h {
		return &vipsPixels{ref: cp}, nil
	}

	hscale := float64(width) / float64(w)
	vscale := float64(height) / float64(h)
	if err := cp.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
		cp.Close()
		return nil, fmt.Errorf("resize image: %w", err)
	}
	return &vipsPixels{ref: cp}, nil
}

func (vipsCodec) Rotate(p Pixels, degrees int) (Pixels, error) {
	vp, err := vipsRef(p)
	if err != nil {
		return nil, err
	}

	var angle vips.Angle
	switch degrees {
	case 90:
		angle = vips.Angle90
	case 180:
		angle = vips.Angle180
	case 270:
		angle = vips.Angle270
	default:
		return nil, fmt.Errorf("rotate degrees must be 90, 180 or 270, got %d", degrees)
	}

	cp, err := vp.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if err := cp.Rotate(angle); err != nil {
		cp.Close()
		return nil, fmt.Errorf("rotate image: %w", err)
	}
	return &vipsPixels{ref: cp}, nil
}

func (vipsCodec) Flip(p Pixels, axis domain.FlipAxis) (Pixels, error) {
	vp, err := vipsRef(p)
	if err != nil {
		return nil, err
	}

	var direction vips.Direction
	switch axis {
	case domain.FlipHorizontal:
		direction = vips.DirectionHorizontal
	case domain.FlipVertical:
		direction = vips.DirectionVertical
	default:
		return nil, fmt.Errorf("unknown flip axis: %q", axis)
	}

	cp, err := vp.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy image: %w", err)
	}
	if err := cp.Flip(direction); err != nil {
		cp.Close()
		return nil, fmt.Errorf("flip image: %w", err)
	}
	return &vipsPixels{ref: cp}, nil
}

func vipsRef(p Pixels) (*vipsPixels, error) {
	vp, ok := p.(*vipsPixels)
	if !ok {
		return nil, errors.New("pixels handle does not belong to the govips codec")
	}
	return vp, nil
}
