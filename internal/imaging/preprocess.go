package imaging

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"golang.org/x/image/draw"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// ThresholdMethod picks how the local neighbourhood mean is weighted.
type ThresholdMethod string

const (
	ThresholdGaussian ThresholdMethod = "gaussian"
	ThresholdMean     ThresholdMethod = "mean"
)

const (
	DefaultBlockSize = 199
	DefaultC         = 5.0
)

type ThresholdOptions struct {
	BlockSize int
	C         float64
	Method    ThresholdMethod
	MaxValue  uint8
}

// DefaultThresholdOptions reproduces the known-good binarization settings.
func DefaultThresholdOptions() ThresholdOptions {
	return ThresholdOptions{
		BlockSize: DefaultBlockSize,
		C:         DefaultC,
		Method:    ThresholdGaussian,
		MaxValue:  255,
	}
}

// ThresholdOptionsFromConfig fills zero values with the defaults.
func ThresholdOptionsFromConfig(cfg common.PreprocessConfig) ThresholdOptions {
	opts := DefaultThresholdOptions()
	if cfg.BlockSize > 0 {
		opts.BlockSize = cfg.BlockSize
	}
	if cfg.C != 0 {
		opts.C = cfg.C
	}
	if m := ThresholdMethod(strings.ToLower(cfg.Method)); m != "" {
		opts.Method = m
	}
	return opts
}

func (o ThresholdOptions) validate() error {
	if o.BlockSize < 3 || o.BlockSize%2 == 0 {
		return fmt.Errorf("%w: block size must be odd and >= 3, got %d", common.ErrInvalidInput, o.BlockSize)
	}
	switch o.Method {
	case ThresholdGaussian, ThresholdMean:
	default:
		return fmt.Errorf("%w: unknown threshold method %q", common.ErrInvalidInput, o.Method)
	}
	return nil
}

// Preprocessed carries the detector-ready variants of one source image.
// Binary is nil unless binarization was requested.
type Preprocessed struct {
	Gray   *image.Gray
	Binary *image.Gray
}

// Preprocess converts img to grayscale and, when binarize is set, runs the
// adaptive threshold on it. img is not modified.
func Preprocess(ctx context.Context, img image.Image, opts ThresholdOptions, binarize bool) (Preprocessed, error) {
	if opts.MaxValue == 0 {
		opts.MaxValue = 255
	}
	if err := opts.validate(); err != nil {
		return Preprocessed{}, err
	}
	gray := Grayscale(img)
	if !binarize {
		return Preprocessed{Gray: gray}, nil
	}
	bin, err := AdaptiveThresholdContext(ctx, gray, opts)
	if err != nil {
		return Preprocessed{}, err
	}
	return Preprocessed{Gray: gray, Binary: bin}, nil
}

// Grayscale returns a new single-channel copy using BT.601 luma weights.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(b)
	draw.Draw(g, b, img, b.Min, draw.Src)
	return g
}

// AdaptiveThreshold binarizes gray against a local weighted mean: a pixel is
// set to MaxValue when it is brighter than mean-C, else 0. Borders replicate.
func AdaptiveThreshold(gray *image.Gray, opts ThresholdOptions) (*image.Gray, error) {
	return AdaptiveThresholdContext(context.Background(), gray, opts)
}

// AdaptiveThresholdContext is AdaptiveThreshold that stops with ctx.Err()
// once ctx is done. The blur is checked every few rows.
func AdaptiveThresholdContext(ctx context.Context, gray *image.Gray, opts ThresholdOptions) (*image.Gray, error) {
	if opts.MaxValue == 0 {
		opts.MaxValue = 255
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	src := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x, v := range row {
			src[y*w+x] = float32(v)
		}
	}

	var (
		mean []float32
		err  error
	)
	switch opts.Method {
	case ThresholdMean:
		mean, err = boxBlur(ctx, src, w, h, opts.BlockSize/2)
	default:
		mean, err = separableBlur(ctx, src, w, h, gaussianKernel(opts.BlockSize))
	}
	if err != nil {
		return nil, err
	}

	delta := int(math.Ceil(opts.C))
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			m := int(math.Round(float64(mean[i])))
			if int(src[i])-m > -delta {
				out.Pix[y*out.Stride+x] = opts.MaxValue
			}
		}
	}
	return out, nil
}

// gaussianKernel builds a normalized 1-D kernel; sigma follows the usual
// size-derived default 0.3*((k-1)*0.5-1)+0.8.
func gaussianKernel(k int) []float32 {
	sigma := 0.3*((float64(k)-1)*0.5-1) + 0.8
	r := k / 2
	kernel := make([]float32, k)
	var sum float64
	for i := 0; i < k; i++ {
		d := float64(i - r)
		v := math.Exp(-(d * d) / (2 * sigma * sigma))
		kernel[i] = float32(v)
		sum += v
	}
	for i := range kernel {
		kernel[i] = float32(float64(kernel[i]) / sum)
	}
	return kernel
}

// cancelEvery is how many rows or columns a blur pass handles between
// context checks.
const cancelEvery = 64

func checkCtx(ctx context.Context, i int) error {
	if i%cancelEvery != 0 {
		return nil
	}
	return ctx.Err()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func separableBlur(ctx context.Context, src []float32, w, h int, kernel []float32) ([]float32, error) {
	r := len(kernel) / 2
	tmp := make([]float32, w*h)
	for y := 0; y < h; y++ {
		if err := checkCtx(ctx, y); err != nil {
			return nil, err
		}
		row := src[y*w : y*w+w]
		for x := 0; x < w; x++ {
			var acc float32
			for k, kv := range kernel {
				acc += kv * row[clamp(x+k-r, 0, w-1)]
			}
			tmp[y*w+x] = acc
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		if err := checkCtx(ctx, y); err != nil {
			return nil, err
		}
		for x := 0; x < w; x++ {
			var acc float32
			for k, kv := range kernel {
				acc += kv * tmp[clamp(y+k-r, 0, h-1)*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out, ctx.Err()
}

// boxBlur averages a (2r+1)^2 window using running sums per axis.
func boxBlur(ctx context.Context, src []float32, w, h, r int) ([]float32, error) {
	n := float32(2*r + 1)
	tmp := make([]float32, w*h)
	for y := 0; y < h; y++ {
		if err := checkCtx(ctx, y); err != nil {
			return nil, err
		}
		row := src[y*w : y*w+w]
		var sum float32
		for k := -r; k <= r; k++ {
			sum += row[clamp(k, 0, w-1)]
		}
		for x := 0; x < w; x++ {
			tmp[y*w+x] = sum / n
			sum += row[clamp(x+r+1, 0, w-1)] - row[clamp(x-r, 0, w-1)]
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, w*h)
	for x := 0; x < w; x++ {
		if err := checkCtx(ctx, x); err != nil {
			return nil, err
		}
		var sum float32
		for k := -r; k <= r; k++ {
			sum += tmp[clamp(k, 0, h-1)*w+x]
		}
		for y := 0; y < h; y++ {
			out[y*w+x] = sum / n
			sum += tmp[clamp(y+r+1, 0, h-1)*w+x] - tmp[clamp(y-r, 0, h-1)*w+x]
		}
	}
	return out, ctx.Err()
}
