// Package trajectory persists the durable, ordered record of every turn in a
// task as a JSONL file: a meta line, one turn line per completed turn, and a
// final outcome line. Each line is fsync'd so a crash loses at most the
// in-flight turn, and a reader can consume a partially written file.
package trajectory

import (
	"encoding/json"
	"time"
)

// Entry is a single line in the JSONL file. Type discriminates the payload.
type Entry struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Entry types.
const (
	TypeMeta    = "meta"
	TypeTurn    = "turn"
	TypeOutcome = "outcome"
)

// Meta is the file header written once at task start.
type Meta struct {
	TaskID           string `json:"task_id"`
	Model            string `json:"model"`
	ProblemStatement string `json:"problem_statement,omitempty"`
	CreatedAt        int64  `json:"created_at"`
}

// ActionRecord snapshots the parsed action of a turn.
type ActionRecord struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Raw     string   `json:"raw,omitempty"`
}

// ResultRecord snapshots the execution result of a turn.
type ResultRecord struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	ElapsedMs int64  `json:"elapsed_ms"`
	FaultKind string `json:"fault_kind,omitempty"`
}

// BudgetSnapshot is the cumulative budget state after a turn.
type BudgetSnapshot struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// TurnRecord is one completed turn: what the model saw, what it said, what
// was done, and what it cost.
type TurnRecord struct {
	Turn         int            `json:"turn"`
	PromptTokens int            `json:"prompt_tokens"`
	ModelOutput  string         `json:"model_output"`
	Action       *ActionRecord  `json:"action,omitempty"`
	Result       *ResultRecord  `json:"result,omitempty"`
	Budget       BudgetSnapshot `json:"budget"`
	Timestamp    int64          `json:"timestamp"`
}

// OutcomeRecord finalizes a trajectory with the terminal outcome tag.
type OutcomeRecord struct {
	Outcome    string         `json:"outcome"`
	Turns      int            `json:"turns"`
	Budget     BudgetSnapshot `json:"budget"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

func metaEntry(m Meta) Entry {
	data, _ := json.Marshal(m)
	return Entry{Type: TypeMeta, Data: data}
}

func turnEntry(t TurnRecord) Entry {
	if t.Timestamp == 0 {
		t.Timestamp = time.Now().UnixMilli()
	}
	data, _ := json.Marshal(t)
	return Entry{Type: TypeTurn, Data: data}
}

func outcomeEntry(o OutcomeRecord) Entry {
	data, _ := json.Marshal(o)
	return Entry{Type: TypeOutcome, Data: data}
}
