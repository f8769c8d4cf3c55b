package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts tokens for history windowing and budget projection.
// Counts are estimates: they steer elision and pre-emptive budget checks,
// while the authoritative numbers come from provider usage in responses.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator returns an Estimator. Encoding setup is deferred to first use
// so constructing one is free.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			e.enc = enc
		}
	})
}

// Count estimates the token count of text. Falls back to len/4 when the
// encoding is unavailable (offline builds).
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.init()
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// CountMessages estimates tokens for a projected conversation, including a
// small per-message framing overhead.
func (e *Estimator) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += e.Count(m.Content) + 4
	}
	return total
}
