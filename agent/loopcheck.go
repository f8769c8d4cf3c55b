package agent

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// LoopWindow is how many recent actions the repetition check inspects.
const LoopWindow = 6

// actionSignature computes a deterministic signature for an action.
func actionSignature(a *Action) string {
	h := sha256.Sum256([]byte(a.Command + "\x00" + strings.Join(a.Args, "\x00")))
	return fmt.Sprintf("%s:%x", a.Command, h[:8])
}

// loopDetector tracks recent action signatures and flags repeating patterns
// of length 1, 2, or 3 across the window. A stuck model re-issuing the same
// command gets a nudge rather than burning the whole turn budget.
type loopDetector struct {
	sigs []string
}

// Observe records an action and reports whether the recent window is a
// repeating pattern.
func (d *loopDetector) Observe(a *Action) bool {
	d.sigs = append(d.sigs, actionSignature(a))
	if len(d.sigs) > LoopWindow {
		d.sigs = d.sigs[len(d.sigs)-LoopWindow:]
	}
	if len(d.sigs) < LoopWindow {
		return false
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if LoopWindow%patternLen != 0 {
			continue
		}
		pattern := d.sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < LoopWindow && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if d.sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
