// Package compress implements the target-size search: given decoded pixels
// and a byte budget, find the highest-quality encoding at or under the
// budget. Quality is binary-searched with a bounded iteration count, then
// dimensions are progressively downscaled if the floor quality still
// overshoots. An unattainable budget is a result, never an error.
package compress

import (
	"context"
	"fmt"

	"github.com/githuba42r/ImageTools-sub000/internal/codec"
	"github.com/githuba42r/ImageTools-sub000/internal/domain"
)

const (
	DefaultQualityFloor    = 40
	DefaultQualityCeiling  = 95
	DefaultMaxIterations   = 8
	DefaultDownscaleRounds = 3
	DefaultDownscaleFactor = 0.85
)

type Options struct {
	// QualityFloor and QualityCeiling bound the search when the
	// per-request params leave them unset.
	QualityFloor    int
	QualityCeiling  int
	MaxIterations   int
	DownscaleRounds int
	DownscaleFactor float64
}

type Result struct {
	Data      []byte
	Quality   int
	Width     int
	Height    int
	MetTarget bool
	// Iterations counts encode calls across all rounds, for metrics.
	Iterations int
}

type Search struct {
	codec codec.Codec
	opts  Options
}

func New(c codec.Codec, opts Options) *Search {
	if opts.QualityFloor < 1 || opts.QualityFloor > 100 {
		opts.QualityFloor = DefaultQualityFloor
	}
	if opts.QualityCeiling < 1 || opts.QualityCeiling > 100 {
		opts.QualityCeiling = DefaultQualityCeiling
	}
	if opts.QualityFloor > opts.QualityCeiling {
		opts.QualityFloor, opts.QualityCeiling = DefaultQualityFloor, DefaultQualityCeiling
	}
	if opts.MaxIterations < 1 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.DownscaleRounds < 0 {
		opts.DownscaleRounds = DefaultDownscaleRounds
	}
	if opts.DownscaleFactor <= 0 || opts.DownscaleFactor >= 1 {
		opts.DownscaleFactor = DefaultDownscaleFactor
	}
	return &Search{codec: c, opts: opts}
}

// Run resolves the search for one source. src is borrowed: the caller keeps
// ownership and closes it. The pixels are fit-resized once, then each round
// searches quality and, if the budget is still missed at the floor,
// downscales by the configured factor for the next round.
func (s *Search) Run(ctx context.Context, src codec.Pixels, params domain.CompressParams) (Result, error) {
	format := params.OutputFormat
	if !format.Valid() {
		return Result{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}

	floor := params.QualityFloor
	if floor < 1 || floor > 100 {
		floor = s.opts.QualityFloor
	}
	ceiling := params.QualityCeiling
	if ceiling < 1 || ceiling > 100 {
		ceiling = s.opts.QualityCeiling
	}
	if floor > ceiling {
		return Result{}, fmt.Errorf("quality floor %d above ceiling %d", floor, ceiling)
	}

	current, err := s.codec.ResizeFit(src, params.MaxWidth, params.MaxHeight)
	if err != nil {
		return Result{}, err
	}
	defer func() { current.Close() }()

	var best Result
	iterations := 0

	for round := 0; ; round++ {
		res, err := s.searchQuality(ctx, current, format, floor, ceiling, params.TargetByteSize)
		if err != nil {
			return Result{}, err
		}
		iterations += res.Iterations

		if res.MetTarget {
			res.Iterations = iterations
			return res, nil
		}
		if best.Data == nil || len(res.Data) < len(best.Data) {
			best = res
		}

		if round == s.opts.DownscaleRounds {
			break
		}

		w, h := current.Size()
		nextW := max(int(float64(w)*s.opts.DownscaleFactor), 1)
		nextH := max(int(float64(h)*s.opts.DownscaleFactor), 1)
		if nextW == w && nextH == h {
			break
		}

		next, err := s.codec.ResizeExact(current, nextW, nextH)
		if err != nil {
			return Result{}, err
		}
		current.Close()
		current = next
	}

	best.MetTarget = false
	best.Iterations = iterations
	return best, nil
}

// searchQuality runs one bounded binary search over quality for fixed
// dimensions. For formats without a quality knob a single encode decides
// the round. Tie-break: the highest quality at or under target wins; with
// nothing under target, the smallest encoding observed is kept.
func (s *Search) searchQuality(ctx context.Context, p codec.Pixels, format domain.Format, floor, ceiling int, target int64) (Result, error) {
	w, h := p.Size()

	if !format.QualityTunable() {
		data, err := s.codec.Encode(ctx, p, format, ceiling)
		if err != nil {
			return Result{}, err
		}
		return Result{
			Data:       data,
			Width:      w,
			Height:     h,
			MetTarget:  codec.Measure(data) <= target,
			Iterations: 1,
		}, nil
	}

	var (
		bestUnder  []byte
		bestUnderQ int
		smallest   []byte
		smallestQ  int
	)

	lo, hi := floor, ceiling
	iterations := 0
	for lo <= hi && iterations < s.opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		mid := (lo + hi) / 2
		data, err := s.codec.Encode(ctx, p, format, mid)
		if err != nil {
			return Result{}, err
		}
		iterations++

		size := codec.Measure(data)
		if smallest == nil || size < codec.Measure(smallest) {
			smallest, smallestQ = data, mid
		}
		if size <= target {
			bestUnder, bestUnderQ = data, mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	if bestUnder != nil {
		return Result{
			Data:       bestUnder,
			Quality:    bestUnderQ,
			Width:      w,
			Height:     h,
			MetTarget:  true,
			Iterations: iterations,
		}, nil
	}
	return Result{
		Data:       smallest,
		Quality:    smallestQ,
		Width:      w,
		Height:     h,
		Iterations: iterations,
	}, nil
}
