package engine

import "strings"

// MinOutputBytes is the shortest output accepted as a real artifact.
const MinOutputBytes = 50

// sentinelPhrases appear in the engine's own failure output.
var sentinelPhrases = []string{
	"Execution error",
	"Failed to execute",
}

// ValidateOutput applies the basic sanity checks to engine output.
func ValidateOutput(output string) error {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return &InvalidOutputError{Reason: "empty output"}
	}
	for _, phrase := range sentinelPhrases {
		if strings.Contains(output, phrase) {
			return &InvalidOutputError{Reason: "engine reported: " + firstLine(trimmed)}
		}
	}
	if len(trimmed) < MinOutputBytes {
		return &InvalidOutputError{Reason: "output too short"}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
