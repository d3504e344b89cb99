package pipeline

import (
	"image"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/ocr"
)

// Input is one document to extract. Data wins over Path when both are set.
type Input struct {
	Path    string
	Data    []byte
	DocType string
}

// Source names the input for logs and job records.
func (in Input) Source() string {
	if len(in.Data) > 0 {
		return "<stdin>"
	}
	return in.Path
}

// Outcome is everything a run produced. Exactly one of Result and Err is set.
type Outcome struct {
	RequestID   string
	DocType     constants.DocumentType
	Source      string
	State       Stage
	FailedStage Stage

	Result map[string]any
	Err    error

	Regions    []ocr.TextRegion
	Transcript string
	Confidence float32
	Annotated  *image.RGBA
	Prompt     string
	Completion string
	Attempts   int
	Warnings   []string

	Timings map[Stage]time.Duration
	Elapsed time.Duration
}

// Kind is the failure kind, or "" on success.
func (o *Outcome) Kind() common.ErrorKind {
	return common.KindOf(o.Err)
}

func (o *Outcome) Succeeded() bool { return o.Err == nil && o.State == StageDone }

// Envelope is the caller-facing failure object: {"error"} plus "rawText" for
// unparseable completions.
func (o *Outcome) Envelope() map[string]any {
	if o.Err == nil {
		return nil
	}
	msg := "unexpected error"
	var raw *string
	if pe, ok := asPipelineError(o.Err); ok {
		msg = pe.Message
		if pe.Kind == common.KindResponseParse {
			raw = &pe.RawText
		}
	}
	env := map[string]any{"error": msg}
	if raw != nil {
		env["rawText"] = *raw
	}
	return env
}

// JSON renders the single JSON value a caller receives: the result object
// on success, the envelope otherwise. Keys are sorted so equal outcomes are
// byte-identical.
func (o *Outcome) JSON() []byte {
	var v any = o.Result
	if o.Err != nil || o.Result == nil {
		v = o.Envelope()
		if v == nil {
			v = map[string]any{}
		}
	}
	b, err := llm.MarshalResult(v)
	if err != nil {
		// result maps come from the JSON decoder, so this only trips on bugs
		b, _ = llm.MarshalResult(map[string]any{"error": "could not encode result"})
	}
	return b
}
