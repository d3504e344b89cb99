// Command docextract turns one document image into structured JSON.
//
//	docextract [flags] <file_path> <document_type>
//	docextract -stdin [-type salary] < image
//
// Exactly one JSON value is written to stdout. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/imaging"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

const usage = "Missing arguments. Usage: docextract <file_path> <document_type>"

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitTimeout = 124
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("docextract", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		fromStdin    = fs.Bool("stdin", false, "read the image from stdin")
		docType      = fs.String("type", "salary", "document type when reading from stdin")
		timeout      = fs.Duration("timeout", 0, "overall deadline, 0 uses REQUEST_TIMEOUT")
		annotatedOut = fs.String("annotated-out", "", "write the boxed image to this PNG path")
		logLevel     = fs.String("log-level", "info", "debug|info|warn|error")
	)
	if err := fs.Parse(args); err != nil {
		writeError(stdout, usage)
		return exitUsage
	}

	in := pipeline.Input{}
	switch {
	case *fromStdin:
		data, err := io.ReadAll(stdin)
		if err != nil {
			writeError(stdout, "Could not read image data from stdin")
			return exitFailure
		}
		in.Data = data
		in.DocType = *docType
		if fs.NArg() > 0 {
			in.DocType = fs.Arg(0)
		}
	case fs.NArg() >= 2:
		in.Path = fs.Arg(0)
		in.DocType = fs.Arg(1)
	default:
		writeError(stdout, usage)
		return exitUsage
	}

	logger, err := app.NewLogger(stderr, *logLevel)
	if err != nil {
		writeError(stdout, err.Error())
		return exitUsage
	}

	cfg := common.LoadConfig()
	if *timeout > 0 {
		cfg.Pipeline.RequestTimeout = *timeout
	}

	a, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("docextract.config_failed", "error", err)
		writeError(stdout, configMessage(err))
		return exitFailure
	}
	defer a.Close()

	start := time.Now()
	out := a.Pipeline.Run(ctx, in)

	if *annotatedOut != "" && out.Annotated != nil {
		if err := imaging.WritePNG(*annotatedOut, out.Annotated); err != nil {
			logger.Warn("docextract.annotated_write_failed", "req_id", out.RequestID, "path", *annotatedOut, "error", err)
		}
	}

	if _, err := stdout.Write(append(out.JSON(), '\n')); err != nil {
		logger.Error("docextract.write_failed", "req_id", out.RequestID, "error", err)
		return exitFailure
	}

	logger.Info("docextract.done",
		"req_id", out.RequestID,
		"doc_type", string(out.DocType),
		"state", string(out.State),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return exitCode(out)
}

func exitCode(out *pipeline.Outcome) int {
	switch {
	case out.Succeeded():
		return exitOK
	case out.Kind() == common.KindTimeout:
		return exitTimeout
	default:
		return exitFailure
	}
}

func configMessage(err error) string {
	var ae *common.AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

func writeError(w io.Writer, msg string) {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error":%q}`, msg))
	}
	_, _ = w.Write(append(b, '\n'))
}
