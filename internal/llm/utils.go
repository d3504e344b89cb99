package llm

import (
	"encoding/base64"
	"net/http"
)

// DataURL inlines image bytes the way OpenAI-compatible vision endpoints
// accept them. An empty mime type is sniffed from the content.
func DataURL(b []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = http.DetectContentType(b)
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)
}
