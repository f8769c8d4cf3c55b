// Package agent implements the turn loop that drives an autonomous
// software-engineering agent: prompting a model, parsing exactly one action
// from its response, executing it in a sandbox session, and feeding the
// observation back until the task terminates.
package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thomcost/sweagent/sandbox"
)

// Task is one end-to-end problem-solving run bound to one sandbox session.
// Immutable after creation.
type Task struct {
	ID               string
	ProblemStatement string
	Env              sandbox.Spec

	MaxTurns         int
	MaxFormatRetries int
	ModelTimeout     time.Duration
	ExecTimeout      time.Duration

	TokenCeiling int
	CostCeiling  float64
}

// Task outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeBudgetExceeded = "budget-exceeded"
	OutcomeMaxTurns       = "max-turns"
)

// NewTask creates a Task with defaults filled in. An empty id gets a
// generated one.
func NewTask(id, problemStatement string, env sandbox.Spec) Task {
	if id == "" {
		id = uuid.New().String()[:8]
	}
	return Task{
		ID:               id,
		ProblemStatement: problemStatement,
		Env:              env,
		MaxTurns:         50,
		MaxFormatRetries: 3,
		ModelTimeout:     2 * time.Minute,
		ExecTimeout:      5 * time.Minute,
	}
}

// Validate checks the task is runnable.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if t.ProblemStatement == "" {
		return fmt.Errorf("task %s: problem statement is required", t.ID)
	}
	if t.MaxTurns <= 0 {
		return fmt.Errorf("task %s: max turns must be positive", t.ID)
	}
	if t.MaxFormatRetries < 0 {
		return fmt.Errorf("task %s: max format retries must be non-negative", t.ID)
	}
	return nil
}
