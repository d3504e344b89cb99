// Package app assembles the extraction stack from configuration.
package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/openai"
	"github.com/joseph-ayodele/docextract/internal/ocr"
	"github.com/joseph-ayodele/docextract/internal/ocr/tess"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

type Options struct {
	WithDB      bool // open the database and record every run
	WithMetrics bool
	Observers   []pipeline.Observer
}

// App is the wired stack. Close releases everything it opened.
type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	Detector  ocr.Detector
	LLM       *openai.Client
	Completer llm.Completer
	Pipeline  *pipeline.Pipeline
	Registry  *prometheus.Registry
	Metrics   *pipeline.Metrics
	DB        *repository.DB
	Jobs      repository.ExtractJobRepository

	closers []func()
}

func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	observers := append(pipeline.Observers{}, opts.Observers...)

	det, closeDet := NewDetector(cfg.OCR, logger)
	a.Detector = det
	a.closers = append(a.closers, closeDet)

	a.LLM, a.Completer = NewCompleter(cfg.LLM, logger)

	if opts.WithMetrics {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := pipeline.NewMetrics(a.Registry)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Metrics = m
		observers = append(observers, m)
	}

	if opts.WithDB {
		if err := cfg.ValidateDatabase(); err != nil {
			a.Close()
			return nil, err
		}
		db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.DB = db
		a.closers = append(a.closers, func() { db.Close(logger) })
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.Jobs = repository.NewExtractJobRepository(db, logger)
		observers = append(observers, repository.NewJobRecorder(a.Jobs, a.LLM.Model(), logger))
	}

	a.Pipeline = pipeline.New(pipeline.Deps{
		Detector:  a.Detector,
		Completer: a.Completer,
		Observer:  observers,
	}, pipeline.ConfigFrom(cfg), logger)
	return a, nil
}

// Close runs the release functions in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// NewDetector returns the configured engine behind a one-time init barrier,
// with a result cache when OCR_CACHE_TTL is positive.
func NewDetector(cfg common.OCRConfig, logger *slog.Logger) (ocr.Detector, func()) {
	var closeEngine func()
	engine := strings.ToLower(cfg.Engine)

	lazy := ocr.Lazy(engine, func() (ocr.Detector, error) {
		switch engine {
		case "gosseract":
			d := tess.New(tess.Config{
				Lang:        cfg.Lang,
				TessdataDir: cfg.TessdataDir,
				PSM:         cfg.PSM,
				PoolSize:    cfg.PoolSize,
			}, logger)
			closeEngine = func() { _ = d.Close() }
			if err := d.Warm(); err != nil {
				return nil, err
			}
			return d, nil
		default:
			return ocr.NewCLIDetector(ocr.CLIConfig{
				Binary:      cfg.Binary,
				Lang:        cfg.Lang,
				PSM:         cfg.PSM,
				OEM:         cfg.OEM,
				TessdataDir: cfg.TessdataDir,
			}, nil, logger), nil
		}
	}, logger)

	var det ocr.Detector = lazy
	var cache *ocr.CachedDetector
	if cfg.CacheTTL > 0 {
		cache = ocr.NewCachedDetector(lazy, cfg.CacheTTL, logger)
		det = cache
	}
	return det, func() {
		if cache != nil {
			cache.Close()
		}
		if closeEngine != nil {
			closeEngine()
		}
	}
}

// NewCompleter builds the provider client and wraps it in the retry policy.
func NewCompleter(cfg common.LLMConfig, logger *slog.Logger) (*openai.Client, llm.Completer) {
	client := openai.NewClient(openai.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}, logger)
	policy := llm.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryDelay > 0 {
		policy.Delay = cfg.RetryDelay
	}
	return client, llm.Retrying(client, policy, logger)
}
