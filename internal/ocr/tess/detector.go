// Package tess runs text detection in-process through libtesseract.
package tess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/docextract/internal/ocr"
)

type Config struct {
	Lang        string // default "eng"
	TessdataDir string
	PSM         int
	PoolSize    int // concurrent engine instances, default 2
}

// Detector owns a fixed pool of tesseract clients. Clients are not safe for
// concurrent use, so each Detect call checks one out for its duration.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	once    sync.Once
	initErr error
	pool    chan *gosseract.Client
	all     []*gosseract.Client
}

func New(cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	return &Detector{cfg: cfg, logger: logger}
}

func (d *Detector) init() error {
	d.once.Do(func() {
		start := time.Now()
		d.pool = make(chan *gosseract.Client, d.cfg.PoolSize)
		for i := 0; i < d.cfg.PoolSize; i++ {
			c := gosseract.NewClient()
			if d.cfg.TessdataDir != "" {
				if err := c.SetTessdataPrefix(d.cfg.TessdataDir); err != nil {
					d.initErr = fmt.Errorf("set tessdata prefix: %w", err)
					_ = c.Close()
					return
				}
			}
			if err := c.SetLanguage(strings.Split(d.cfg.Lang, "+")...); err != nil {
				d.initErr = fmt.Errorf("set language %q: %w", d.cfg.Lang, err)
				_ = c.Close()
				return
			}
			if d.cfg.PSM > 0 {
				if err := c.SetPageSegMode(gosseract.PageSegMode(d.cfg.PSM)); err != nil {
					d.initErr = fmt.Errorf("set psm: %w", err)
					_ = c.Close()
					return
				}
			}
			d.all = append(d.all, c)
			d.pool <- c
		}
		d.logger.Info("ocr.gosseract.ready",
			"lang", d.cfg.Lang,
			"pool", d.cfg.PoolSize,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
	return d.initErr
}

// Warm creates the engine pool now instead of on the first Detect.
func (d *Detector) Warm() error { return d.init() }

func (d *Detector) Detect(ctx context.Context, img image.Image) ([]ocr.TextRegion, error) {
	if err := d.init(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	var client *gosseract.Client
	select {
	case client = <-d.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.pool <- client }()

	start := time.Now()
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("bounding boxes: %w", err)
	}

	regions := make([]ocr.TextRegion, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		regions = append(regions, ocr.TextRegion{
			Quad:       ocr.QuadFromRect(b.Box),
			Text:       text,
			Confidence: b.Confidence / 100.0,
		})
	}
	d.logger.Debug("ocr.detect.ok",
		"engine", "gosseract",
		"regions", len(regions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return regions, nil
}

// Close releases every engine instance.
func (d *Detector) Close() error {
	var firstErr error
	for _, c := range d.all {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
