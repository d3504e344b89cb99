package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		inmem    = flag.Bool("inmem", false, "use in-memory SQLite database")
		dir      = flag.String("dir", "", "directory to process images from (required)")
		docType  = flag.String("type", "other", "document type applied to every file")
		out      = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		workers  = flag.Int("workers", 4, "concurrent pipeline runs")
		logLevel = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(2)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "extractions.xlsx")
	}

	logger, err := app.NewLogger(os.Stderr, *logLevel)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := common.LoadConfig()
	if *inmem {
		cfg.Database.Driver = repository.DriverSQLite
		cfg.Database.DSN = repository.MemorySQLiteDSN
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{WithDB: true})
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	files, stats, err := async.Discover(*dir, nil, true)
	if err != nil {
		logger.Error("failed to scan directory", "dir", *dir, "error", err)
		os.Exit(1)
	}
	logger.Info("batch.discovered",
		"dir", *dir,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"failed", stats.Failed,
	)

	var (
		mu     sync.Mutex
		rows   []export.Row
		failed int
	)
	queue := async.NewProcessorQueue(a.Pipeline, logger,
		async.WithWorkers(*workers),
		async.WithQueueSize(len(files)+1),
		async.WithProcessTimeout(cfg.Pipeline.RequestTimeout),
		async.WithResultSink(func(job async.Job, o *pipeline.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			rows = append(rows, export.RowFromOutcome(job.Path, o))
			if !o.Succeeded() {
				failed++
			}
		}),
	)

	start := time.Now()
	for _, path := range files {
		if err := queue.Enqueue(ctx, async.NewJob(path, *docType)); err != nil {
			logger.Error("batch.enqueue_failed", "path", path, "error", err)
			break
		}
	}
	queue.Shutdown(context.Background())

	sort.Slice(rows, func(i, j int) bool { return rows[i].File < rows[j].File })
	xlsx, err := export.WriteXLSX(rows)
	if err != nil {
		logger.Error("failed to build workbook", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		logger.Error("failed to write output file", "path", *out, "error", err)
		os.Exit(1)
	}

	total, err := a.Jobs.Count(ctx)
	if err != nil {
		logger.Warn("batch.count_failed", "error", err)
	}
	logger.Info("batch.done",
		"files", len(files),
		"processed", len(rows),
		"failures", failed,
		"jobs_recorded", total,
		"output_file", *out,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files found: %d\n", len(files))
	fmt.Printf("- Files processed: %d\n", len(rows))
	fmt.Printf("- Failures: %d\n", failed)
	fmt.Printf("- Output: %s\n", *out)
}
