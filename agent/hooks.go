package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/thomcost/sweagent/sandbox"
	"github.com/thomcost/sweagent/trajectory"
)

// TurnSummary is passed to hooks at the end of each turn.
type TurnSummary struct {
	TaskID      string
	Turn        int
	ModelOutput string
	Action      *Action
	Result      *sandbox.ExecutionResult
	Budget      trajectory.BudgetSnapshot
}

// Hook observes task lifecycle points. Implementations must not assume they
// run on any particular goroutine; the dispatcher calls them synchronously
// from the turn loop.
type Hook interface {
	OnTurnStart(ctx context.Context, taskID string, turn int)
	OnTurnEnd(ctx context.Context, summary TurnSummary)
	OnTaskEnd(ctx context.Context, taskID string, outcome string)
}

// Dispatcher invokes hooks in registration order. A panicking hook is
// logged and isolated; it never affects sibling hooks or the turn loop.
type Dispatcher struct {
	hooks  []Hook
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given hooks.
func NewDispatcher(logger *zap.Logger, hooks ...Hook) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{hooks: hooks, logger: logger}
}

// Register appends a hook. Not safe to call once the task is running.
func (d *Dispatcher) Register(h Hook) {
	d.hooks = append(d.hooks, h)
}

func (d *Dispatcher) TurnStart(ctx context.Context, taskID string, turn int) {
	for _, h := range d.hooks {
		d.invoke("turn_start", func() { h.OnTurnStart(ctx, taskID, turn) })
	}
}

func (d *Dispatcher) TurnEnd(ctx context.Context, summary TurnSummary) {
	for _, h := range d.hooks {
		d.invoke("turn_end", func() { h.OnTurnEnd(ctx, summary) })
	}
}

func (d *Dispatcher) TaskEnd(ctx context.Context, taskID string, outcome string) {
	for _, h := range d.hooks {
		d.invoke("task_end", func() { h.OnTaskEnd(ctx, taskID, outcome) })
	}
}

func (d *Dispatcher) invoke(point string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("hook panicked", zap.String("point", point), zap.Any("panic", r))
		}
	}()
	fn()
}
