package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

const fence = "```"

// ExtractJSON picks the JSON candidate out of a free-form completion:
// a ```json fence wins over a generic fence, which wins over the raw text.
// An unterminated fence runs to the end of the text.
func ExtractJSON(raw string) string {
	if i := indexFold(raw, fence+"json"); i >= 0 {
		rest := raw[i+len(fence)+len("json"):]
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	if i := strings.Index(raw, fence); i >= 0 {
		rest := raw[i+len(fence):]
		if j := strings.Index(rest, fence); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(dropLangTag(rest))
	}
	return strings.TrimSpace(raw)
}

// ParseResponse decodes the completion into a single JSON object with null
// members removed. Numbers keep their original text as json.Number.
// Failures are *common.PipelineError of kind ResponseParse carrying raw.
func ParseResponse(raw string) (map[string]any, error) {
	candidate := ExtractJSON(raw)

	dec := json.NewDecoder(strings.NewReader(candidate))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, parseFailure(raw, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, parseFailure(raw, errors.New("unexpected data after JSON value"))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, parseFailure(raw, fmt.Errorf("expected a JSON object, got %s", jsonKind(v)))
	}
	DropNulls(obj)
	return obj, nil
}

func parseFailure(raw string, cause error) error {
	return common.ResponseParseError("Could not parse JSON from AI response: "+cause.Error(), raw, cause)
}

// MarshalResult renders a parsed result without HTML escaping so the output
// matches what the model wrote.
func MarshalResult(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// dropLangTag removes a language word right after an opening fence.
func dropLangTag(s string) string {
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		return s
	}
	first := strings.TrimSpace(s[:nl])
	if first == "" || strings.ContainsAny(first, "{}[]\":, ") {
		return s
	}
	return s[nl+1:]
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
