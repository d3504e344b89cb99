package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ErrorKind classifies every failure the extraction pipeline can report.
type ErrorKind string

const (
	KindImageDecode       ErrorKind = "IMAGE_DECODE"
	KindNoTextExtracted   ErrorKind = "NO_TEXT_EXTRACTED"
	KindExtractionService ErrorKind = "EXTRACTION_SERVICE"
	KindResponseParse     ErrorKind = "RESPONSE_PARSE"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindUnhandled         ErrorKind = "UNHANDLED"
)

// PipelineError is the single error type that crosses a stage boundary.
// Message is what callers see in the JSON envelope; Cause stays on the
// diagnostic channel.
type PipelineError struct {
	Kind    ErrorKind
	Stage   string
	Message string
	RawText string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is matches another *PipelineError by kind, so errors.Is(err, &PipelineError{Kind: KindTimeout}) works.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func NewPipelineError(kind ErrorKind, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

func ImageDecodeError(message string, cause error) *PipelineError {
	return NewPipelineError(KindImageDecode, message, cause)
}

func NoTextExtractedError() *PipelineError {
	return NewPipelineError(KindNoTextExtracted, "No text extracted from image.", nil)
}

func ExtractionServiceError(message string, cause error) *PipelineError {
	return NewPipelineError(KindExtractionService, message, cause)
}

func ResponseParseError(message, rawText string, cause error) *PipelineError {
	e := NewPipelineError(KindResponseParse, message, cause)
	e.RawText = rawText
	return e
}

func TimeoutError(stage string, cause error) *PipelineError {
	e := NewPipelineError(KindTimeout, "request timed out during "+stage, cause)
	e.Stage = stage
	return e
}

func UnhandledError(message string, cause error) *PipelineError {
	return NewPipelineError(KindUnhandled, message, cause)
}

// KindOf reports the pipeline kind of err. Context expiry counts as a
// timeout; anything unclassified is unhandled.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if IsContextDone(err) {
		return KindTimeout
	}
	return KindUnhandled
}

func IsContextDone(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// HTTPStatus maps a failure kind onto the status the HTTP surface returns.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case "":
		return http.StatusOK
	case KindImageDecode:
		return http.StatusBadRequest
	case KindNoTextExtracted, KindResponseParse:
		return http.StatusUnprocessableEntity
	case KindExtractionService:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
