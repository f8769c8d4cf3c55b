package agent

import (
	"fmt"
)

// EntryRole is the conversational role of a history entry.
type EntryRole string

const (
	RoleSystem      EntryRole = "system"
	RoleUser        EntryRole = "user"
	RoleAssistant   EntryRole = "assistant"
	RoleObservation EntryRole = "observation"
)

// HistoryEntry is one conversation entry. Entries are appended only, never
// mutated or reordered.
type HistoryEntry struct {
	Role    EntryRole
	Content string
	Action  *Action
	Tokens  int
}

// History is the complete, append-only conversation log for one task.
// Windowing happens only in Project; the underlying log stays complete.
type History struct {
	entries  []HistoryEntry
	estimate func(string) int
}

// NewHistory creates an empty History using the given token estimate
// function.
func NewHistory(estimate func(string) int) *History {
	return &History{estimate: estimate}
}

// Append adds an entry, computing its token cost.
func (h *History) Append(role EntryRole, content string, action *Action) {
	h.entries = append(h.entries, HistoryEntry{
		Role:    role,
		Content: content,
		Action:  action,
		Tokens:  h.estimate(content),
	})
}

// Len returns the number of entries.
func (h *History) Len() int { return len(h.entries) }

// Entries returns the full log. Callers must not mutate it.
func (h *History) Entries() []HistoryEntry { return h.entries }

// Project assembles the windowed view sent to the model. When the total
// token estimate exceeds tokenBudget, the oldest non-system entries are
// replaced with a single elision marker. The system entry and the most
// recent keepRecent entries are never elided.
func (h *History) Project(tokenBudget, keepRecent int) []HistoryEntry {
	total := 0
	for _, e := range h.entries {
		total += e.Tokens
	}
	if total <= tokenBudget || len(h.entries) <= keepRecent+1 {
		return h.entries
	}

	var system *HistoryEntry
	body := h.entries
	if len(body) > 0 && body[0].Role == RoleSystem {
		system = &body[0]
		body = body[1:]
	}

	if keepRecent > len(body) {
		keepRecent = len(body)
	}
	recent := body[len(body)-keepRecent:]

	budget := tokenBudget
	if system != nil {
		budget -= system.Tokens
	}
	// Reserve room for the elision marker up front, estimated at the largest
	// possible elided count, so the projection stays within the budget.
	budget -= h.estimate(elisionMarker(len(body)))

	// Grow the window backwards from the most recent entries while it fits.
	kept := len(recent)
	used := 0
	for _, e := range recent {
		used += e.Tokens
	}
	for i := len(body) - keepRecent - 1; i >= 0; i-- {
		if used+body[i].Tokens > budget {
			break
		}
		used += body[i].Tokens
		kept++
	}

	elided := len(body) - kept
	if elided <= 0 {
		if system != nil {
			return h.entries
		}
		return body
	}

	marker := HistoryEntry{
		Role:    RoleUser,
		Content: elisionMarker(elided),
	}
	marker.Tokens = h.estimate(marker.Content)

	projected := make([]HistoryEntry, 0, kept+2)
	if system != nil {
		projected = append(projected, *system)
	}
	projected = append(projected, marker)
	projected = append(projected, body[elided:]...)
	return projected
}

func elisionMarker(elided int) string {
	return fmt.Sprintf("[%d earlier entries elided to fit the context window]", elided)
}

// ProjectedTokens sums the token estimate of a projection.
func ProjectedTokens(entries []HistoryEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Tokens
	}
	return total
}
