package app

import (
	"io"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds the JSON logger binaries write to stderr. stdout is kept
// for results.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}
	v := common.NewValidator().Field("log-level", level, common.OneOf("debug", "info", "warn", "error"))
	if err := v.Error(); err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevels[level]})), nil
}
