package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
)

func decodeError(t *testing.T, b []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Len(t, m, 1)
	return m["error"].(string)
}

func TestRunMissingArguments(t *testing.T) {
	for _, args := range [][]string{nil, {"only-a-path.png"}} {
		var stdout, stderr bytes.Buffer
		code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr)
		assert.Equal(t, exitUsage, code)
		assert.Equal(t, usage, decodeError(t, stdout.Bytes()))
		assert.Equal(t, 1, strings.Count(stdout.String(), "\n"))
	}
}

func TestRunUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-nope"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Equal(t, usage, decodeError(t, stdout.Bytes()))
}

func TestRunBadLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-log-level", "chatty", "a.png", "bills"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, decodeError(t, stdout.Bytes()), "log-level")
}

func TestRunMissingAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"a.png", "bills"}, strings.NewReader(""), &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, decodeError(t, stdout.Bytes()), "LLM_API_KEY")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(&pipeline.Outcome{State: pipeline.StageDone}))
	assert.Equal(t, exitTimeout, exitCode(&pipeline.Outcome{
		State: pipeline.StageFailed,
		Err:   common.TimeoutError("Extracting", context.DeadlineExceeded),
	}))
	assert.Equal(t, exitFailure, exitCode(&pipeline.Outcome{
		State: pipeline.StageFailed,
		Err:   common.NoTextExtractedError(),
	}))
}
