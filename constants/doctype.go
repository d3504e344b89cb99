package constants

import "strings"

// DocumentType selects the extraction template. Unknown tags resolve to Other.
type DocumentType string

const (
	Investment DocumentType = "investment"
	Bills      DocumentType = "bills"
	Spending   DocumentType = "spending"
	Salary     DocumentType = "salary"
	Other      DocumentType = "other"
)

var allDocumentTypes = []DocumentType{
	Investment,
	Bills,
	Spending,
	Salary,
	Other,
}

func DocumentTypes() []string {
	result := make([]string, len(allDocumentTypes))
	for i, dt := range allDocumentTypes {
		result[i] = string(dt)
	}
	return result
}

// ParseDocumentType resolves a caller-supplied tag. The bool reports whether
// the tag matched a known type; unmatched tags fall through to Other.
func ParseDocumentType(input string) (DocumentType, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return Other, false
	}
	for _, dt := range allDocumentTypes {
		if normalized == string(dt) {
			return dt, true
		}
	}
	return Other, false
}
