package ocr

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// CLIConfig configures the tesseract command-line engine.
type CLIConfig struct {
	Binary      string // if empty -> "tesseract"
	Lang        string // default "eng"
	PSM         int    // 0 leaves tesseract's default
	OEM         int
	TessdataDir string
}

// CLIDetector shells out to tesseract and reads its TSV output. Words are
// grouped into text lines so regions match what a line-level engine returns.
type CLIDetector struct {
	cfg    CLIConfig
	runner Runner
	logger *slog.Logger
}

func NewCLIDetector(cfg CLIConfig, runner Runner, logger *slog.Logger) *CLIDetector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	return &CLIDetector{cfg: cfg, runner: runner, logger: logger}
}

func (d *CLIDetector) Detect(ctx context.Context, img image.Image) ([]TextRegion, error) {
	start := time.Now()

	tmp, err := os.CreateTemp("", "docextract-ocr-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp image: %w", err)
	}

	// tesseract <file> stdout -l <lang> [...] tsv
	args := []string{tmp.Name(), "stdout", "-l", d.cfg.Lang}
	if d.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(d.cfg.PSM))
	}
	if d.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(d.cfg.OEM))
	}
	if d.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", d.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := d.runner.Run(ctx, d.cfg.Binary, args...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("tesseract tsv: %w: %s", err, truncate(strings.TrimSpace(string(errb)), 512))
	}

	regions := ParseTSV(string(out))
	d.logger.Debug("ocr.detect.ok",
		"engine", "tesseract",
		"regions", len(regions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return regions, nil
}

type lineKey struct{ page, block, par, line int }

type lineAcc struct {
	box   image.Rectangle
	words []string
	conf  float64
	n     int
}

// ParseTSV turns tesseract TSV output into line-level regions, preserving
// the order lines first appear in. Confidence is rescaled to 0..1.
func ParseTSV(tsv string) []TextRegion {
	var order []lineKey
	lines := map[lineKey]*lineAcc{}

	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(ln) == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 {
			continue
		}
		// level page_num block_num par_num line_num word_num left top width height conf text
		if cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		conf, err := strconv.ParseFloat(cols[10], 64)
		if text == "" || err != nil || conf < 0 {
			continue
		}
		nums, ok := atoiAll(cols[1:10])
		if !ok {
			continue
		}
		key := lineKey{page: nums[0], block: nums[1], par: nums[2], line: nums[3]}
		box := image.Rect(nums[5], nums[6], nums[5]+nums[7], nums[6]+nums[8])

		acc, seen := lines[key]
		if !seen {
			acc = &lineAcc{box: box}
			lines[key] = acc
			order = append(order, key)
		} else {
			acc.box = acc.box.Union(box)
		}
		acc.words = append(acc.words, text)
		acc.conf += conf
		acc.n++
	}

	regions := make([]TextRegion, 0, len(order))
	for _, k := range order {
		acc := lines[k]
		regions = append(regions, TextRegion{
			Quad:       QuadFromRect(acc.box),
			Text:       strings.Join(acc.words, " "),
			Confidence: acc.conf / float64(acc.n) / 100.0,
		})
	}
	return regions
}

func atoiAll(cols []string) ([]int, bool) {
	out := make([]int, len(cols))
	for i, c := range cols {
		v, err := strconv.Atoi(strings.TrimSpace(c))
		if err != nil {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
