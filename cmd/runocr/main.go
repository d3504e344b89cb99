// Command runocr runs text detection only and prints the regions and
// transcript as JSON. No extraction service is called.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/imaging"
	"github.com/joseph-ayodele/docextract/internal/ocr"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

type report struct {
	Source     string           `json:"source"`
	Variant    pipeline.Variant `json:"variant"`
	Regions    []ocr.TextRegion `json:"regions"`
	Transcript string           `json:"transcript"`
	Confidence float32          `json:"mean_confidence"`
	ElapsedMS  int64            `json:"elapsed_ms"`
}

func main() {
	_ = godotenv.Load()

	var (
		docType      = flag.String("type", "other", "document type; selects the image variant")
		annotatedOut = flag.String("annotated-out", "", "write the boxed image to this PNG path")
		timeout      = flag.Duration("timeout", 2*time.Minute, "detection deadline")
		logLevel     = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	logger, err := app.NewLogger(os.Stderr, *logLevel)
	if err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(2)
	}
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [flags] <image-path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	img, err := imaging.LoadFile(path)
	if err != nil {
		logger.Error("load image", "path", path, "error", err)
		os.Exit(1)
	}
	dt, _ := constants.ParseDocumentType(*docType)
	variant := pipeline.DetectVariant(dt)
	prep, err := imaging.Preprocess(ctx, img, imaging.ThresholdOptionsFromConfig(cfg.Preprocess), variant == pipeline.VariantBinary)
	if err != nil {
		logger.Error("preprocess", "error", err)
		os.Exit(1)
	}

	det, closeDet := app.NewDetector(cfg.OCR, logger)
	defer closeDet()

	var input image.Image = prep.Gray
	if variant == pipeline.VariantBinary {
		input = prep.Binary
	}

	start := time.Now()
	regions, err := det.Detect(ctx, input)
	if err != nil {
		logger.Error("text detection failed", "path", path, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		os.Exit(1)
	}

	if *annotatedOut != "" {
		boxed := imaging.Annotate(img, regions, imaging.DefaultBoxStyle())
		if err := imaging.WritePNG(*annotatedOut, boxed); err != nil {
			logger.Error("write annotated image", "path", *annotatedOut, "error", err)
			os.Exit(1)
		}
	}

	rep := report{
		Source:     path,
		Variant:    variant,
		Regions:    regions,
		Transcript: ocr.Transcript(regions),
		Confidence: ocr.MeanConfidence(regions),
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
	if rep.Regions == nil {
		rep.Regions = []ocr.TextRegion{}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		logger.Error("encode report", "error", err)
		os.Exit(1)
	}
	logger.Info("text detection OK", "path", path, "regions", len(regions), "elapsed_ms", rep.ElapsedMS)
}
