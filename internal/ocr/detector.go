package ocr

import (
	"context"
	"image"
	"log/slog"
	"sync"
)

// Point is an integer pixel coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Quad is a detected region's outline, clockwise from top-left.
type Quad [4]Point

// QuadFromRect returns the four corners of r in clockwise order.
func QuadFromRect(r image.Rectangle) Quad {
	return Quad{
		{X: r.Min.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y},
		{X: r.Min.X, Y: r.Max.Y},
	}
}

// Bounds is the axis-aligned rectangle spanning all four corners, so it does
// not depend on which corner the engine reports first.
func (q Quad) Bounds() image.Rectangle {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := q[0].X, q[0].Y
	for _, p := range q[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX, maxY)
}

// TextRegion is one detection: where, what, and how sure the engine was.
type TextRegion struct {
	Quad       Quad    `json:"quad"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Detector finds text in an image. Implementations must return regions in
// the same order for the same image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]TextRegion, error)
}

// DetectorFunc adapts a function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) ([]TextRegion, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) ([]TextRegion, error) {
	return f(ctx, img)
}

// LazyDetector defers expensive engine setup to first use and guarantees it
// runs exactly once, however many requests arrive concurrently.
type LazyDetector struct {
	name   string
	init   func() (Detector, error)
	logger *slog.Logger

	once sync.Once
	det  Detector
	err  error
}

func Lazy(name string, init func() (Detector, error), logger *slog.Logger) *LazyDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &LazyDetector{name: name, init: init, logger: logger}
}

// Warm runs initialization now; useful at process start.
func (l *LazyDetector) Warm() error {
	_, err := l.get()
	return err
}

func (l *LazyDetector) get() (Detector, error) {
	l.once.Do(func() {
		l.logger.Info("ocr.detector.init", "engine", l.name)
		l.det, l.err = l.init()
		if l.err != nil {
			l.logger.Error("ocr.detector.init_failed", "engine", l.name, "error", l.err)
		}
	})
	return l.det, l.err
}

func (l *LazyDetector) Detect(ctx context.Context, img image.Image) ([]TextRegion, error) {
	d, err := l.get()
	if err != nil {
		return nil, err
	}
	return d.Detect(ctx, img)
}
