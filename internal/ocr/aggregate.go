package ocr

import "strings"

// Transcript joins region texts with single spaces, in detection order.
func Transcript(regions []TextRegion) string {
	if len(regions) == 0 {
		return ""
	}
	parts := make([]string, len(regions))
	for i, r := range regions {
		parts[i] = r.Text
	}
	return strings.Join(parts, " ")
}

// MeanConfidence averages the confidences engines reported, in 0..1.
// Regions without a confidence are ignored.
func MeanConfidence(regions []TextRegion) float32 {
	var sum float64
	var n int
	for _, r := range regions {
		if r.Confidence <= 0 {
			continue
		}
		sum += r.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	if mean > 1 {
		mean = 1
	}
	return float32(mean)
}
