// Command taxreport prints the old/new regime comparison for a JSON input
// read from a file argument or stdin.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/docextract/internal/app"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/tax"
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("taxreport", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		noInsights = fs.Bool("no-insights", false, "skip the investment insights call")
		timeout    = fs.Duration("timeout", 2*time.Minute, "deadline for the insights call")
		logLevel   = fs.String("log-level", "info", "debug|info|warn|error")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger, err := app.NewLogger(stderr, *logLevel)
	if err != nil {
		writeJSON(stdout, map[string]string{"error": err.Error()})
		return 2
	}

	var body []byte
	if fs.NArg() > 0 && fs.Arg(0) != "-" {
		body, err = os.ReadFile(fs.Arg(0))
	} else {
		body, err = io.ReadAll(stdin)
	}
	if err != nil {
		logger.Error("taxreport.read_failed", "error", err)
		writeJSON(stdout, map[string]string{"error": tax.InvalidInputMessage})
		return 1
	}

	svc := &tax.Service{}
	if !*noInsights {
		cfg := common.LoadConfig()
		if err := cfg.ValidateLLM(); err != nil {
			logger.Warn("taxreport.insights_disabled", "error", err)
		} else {
			client, _ := app.NewCompleter(cfg.LLM, logger)
			svc.Advisor = tax.NewAdvisor(client, logger)
			logger.Debug("taxreport.insights_enabled", "model", client.Model())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rep, err := svc.Generate(ctx, body)
	if err != nil {
		logger.Error("taxreport.invalid_input", "error", err)
		writeJSON(stdout, map[string]string{"error": tax.InvalidInputMessage})
		return 1
	}
	if !writeJSON(stdout, rep) {
		return 1
	}
	return 0
}

func writeJSON(w io.Writer, v any) bool {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false
	}
	_, err = fmt.Fprintln(w, string(b))
	return err == nil
}
