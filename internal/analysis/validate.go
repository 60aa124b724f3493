package analysis

import "strings"

// Soft-outcome markers the vision model is prompted to emit when the
// frame does not show the configured activity.
var (
	wrongActivityMarkers = []string{"wrong activity", "different activity", "not doing"}
	noActivityMarkers    = []string{"no activity", "no motion", "can't see", "cannot see", "nothing happening"}
)

// TruncateWords caps feedback at maxWords words. The adapter applies
// this before returning so an oversized model response never escapes.
func TruncateWords(text string, maxWords int) string {
	text = strings.TrimSpace(text)
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}

// ClassifyFeedback maps feedback text onto a domain classification.
func ClassifyFeedback(text string) Classification {
	lower := strings.ToLower(text)
	for _, marker := range noActivityMarkers {
		if strings.Contains(lower, marker) {
			return ClassificationNoActivity
		}
	}
	for _, marker := range wrongActivityMarkers {
		if strings.Contains(lower, marker) {
			return ClassificationWrongActivity
		}
	}
	return ClassificationMatch
}
