package llm

import (
	"context"
	"fmt"
)

// CompletionRequest is one multimodal call: an instruction plus an optional
// image. A nil Image sends a text-only prompt.
type CompletionRequest struct {
	Prompt    string
	Image     []byte
	ImageMIME string
}

// Completer is the capability the pipeline depends on: prompt (+ image) in,
// raw completion text out.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// ServiceError is a transport or provider failure. These are retryable.
type ServiceError struct {
	Status int // 0 when the request never got a response
	Body   string
	Cause  error
}

func (e *ServiceError) Error() string {
	switch {
	case e.Status != 0 && e.Cause != nil:
		return fmt.Sprintf("llm service status %d: %v", e.Status, e.Cause)
	case e.Status != 0:
		return fmt.Sprintf("llm service status %d: %s", e.Status, truncate(e.Body, 256))
	case e.Cause != nil:
		return fmt.Sprintf("llm service: %v", e.Cause)
	default:
		return "llm service failure"
	}
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
