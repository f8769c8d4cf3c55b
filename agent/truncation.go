package agent

import (
	"fmt"
	"strings"
)

// Observation caps. Character truncation runs first to bound pathological
// outputs, then line truncation for readability.
const (
	DefaultMaxObservationChars = 30000
	DefaultMaxObservationLines = 256
)

// TruncateObservation applies both caps with a head/tail split, so the model
// keeps the start and end of long command output.
func TruncateObservation(output string, maxChars, maxLines int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxObservationChars
	}
	if maxLines <= 0 {
		maxLines = DefaultMaxObservationLines
	}
	return truncateLines(truncateChars(output, maxChars), maxLines)
}

func truncateChars(output string, maxChars int) string {
	if len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[%d characters removed from the middle of the output. "+
			"Re-run the command with more targeted parameters to see specific parts.]\n\n",
			removed) +
		output[len(output)-half:]
}

func truncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount
	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}
