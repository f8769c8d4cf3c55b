package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/thomcost/sweagent/fault"
	"github.com/thomcost/sweagent/llm"
	"github.com/thomcost/sweagent/sandbox"
	"github.com/thomcost/sweagent/trajectory"
)

// State names the turn loop's current phase, for logging and hooks.
type State string

const (
	StateInit           State = "init"
	StateAwaitingModel  State = "awaiting_model"
	StateParsing        State = "parsing"
	StateExecuting      State = "executing"
	StateRecording      State = "recording"
	StateDone           State = "done"
	StateFailed         State = "failed"
	StateBudgetExceeded State = "budget_exceeded"
	StateMaxTurns       State = "max_turns"
)

// TokenEstimator counts tokens for windowing and budget projection.
// *llm.Estimator is the production implementation.
type TokenEstimator interface {
	Count(text string) int
	CountMessages(messages []llm.Message) int
}

// Deps carries everything a Controller needs besides the Task itself.
type Deps struct {
	Client  llm.Client
	Model   string
	Session *sandbox.Session
	// Budget is the per-task tracker. Shared, when set, is a batch-wide
	// tracker updated alongside it.
	Budget *BudgetTracker
	Shared *BudgetTracker

	Trajectory *trajectory.Writer
	Hooks      *Dispatcher
	Estimator  TokenEstimator
	Schema     Schema
	Retry      fault.RetryPolicy
	Logger     *zap.Logger

	// ContextTokens bounds the projected history; KeepRecent entries are
	// never elided.
	ContextTokens int
	KeepRecent    int
}

// Controller runs the turn loop for one task: model call, parse, execute,
// record, repeat. Single-threaded; one instance per task.
type Controller struct {
	task   Task
	deps   Deps
	logger *zap.Logger

	state   State
	history *History
	loops   loopDetector
	turns   int

	// projectionBudget starts at ContextTokens and is halved once if the
	// provider reports the context is too large.
	projectionBudget int
	tightened        bool
	sessionResets    int
}

// NewController wires a Controller. Missing optional deps get no-op
// defaults.
func NewController(task Task, deps Deps) (*Controller, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("task %s: model client is required", task.ID)
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("task %s: session is required", task.ID)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Estimator == nil {
		deps.Estimator = llm.NewEstimator()
	}
	if deps.Schema == nil {
		deps.Schema = DefaultSchema()
	}
	if deps.Budget == nil {
		deps.Budget = NewBudgetTracker(task.TokenCeiling, task.CostCeiling, nil)
	}
	if deps.Hooks == nil {
		deps.Hooks = NewDispatcher(deps.Logger)
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = fault.DefaultRetryPolicy()
	}
	if deps.ContextTokens <= 0 {
		deps.ContextTokens = 128000
	}
	if deps.KeepRecent <= 0 {
		deps.KeepRecent = 6
	}

	c := &Controller{
		task:             task,
		deps:             deps,
		logger:           deps.Logger.With(zap.String("task", task.ID)),
		state:            StateInit,
		projectionBudget: deps.ContextTokens,
	}
	c.history = NewHistory(deps.Estimator.Count)
	return c, nil
}

// State returns the loop's current phase.
func (c *Controller) State() State { return c.state }

// Turns returns the number of completed turns.
func (c *Controller) Turns() int { return c.turns }

// History returns the complete conversation log.
func (c *Controller) History() *History { return c.history }

// Run drives the task to one of the four terminal outcomes. The returned
// error is non-nil only for OutcomeFailure and carries the originating
// fault. The session is closed on every exit path.
func (c *Controller) Run(ctx context.Context) (outcome string, err error) {
	started := time.Now()
	turns := 0

	defer func() {
		c.deps.Session.Close()
		c.finalize(ctx, outcome, turns, err, time.Since(started))
	}()

	if err = c.deps.Session.Open(ctx); err != nil {
		c.state = StateFailed
		return OutcomeFailure, err
	}

	c.history.Append(RoleSystem, renderSystemPrompt(c.deps.Schema), nil)
	c.history.Append(RoleUser, renderProblemEntry(c.task.ProblemStatement), nil)

	if c.deps.Trajectory != nil {
		meta := trajectory.Meta{
			TaskID:           c.task.ID,
			Model:            c.deps.Model,
			ProblemStatement: c.task.ProblemStatement,
			CreatedAt:        started.UnixMilli(),
		}
		if werr := c.deps.Trajectory.WriteMeta(meta); werr != nil {
			c.state = StateFailed
			return OutcomeFailure, fmt.Errorf("writing trajectory meta: %w", werr)
		}
	}

	formatRetries := 0

	for {
		turn := turns + 1
		c.deps.Hooks.TurnStart(ctx, c.task.ID, turn)

		// AWAITING_MODEL
		c.state = StateAwaitingModel
		resp, callErr := c.completeWithRecovery(ctx)
		if callErr != nil {
			if errors.Is(callErr, errBudgetPreempt) {
				c.state = StateBudgetExceeded
				return OutcomeBudgetExceeded, nil
			}
			c.state = StateFailed
			return OutcomeFailure, callErr
		}

		budget := c.recordUsage(resp.Usage)

		// PARSING
		c.state = StateParsing
		action, parseErr := Parse(resp.Text, c.deps.Schema)
		if parseErr != nil {
			var pe *ParseError
			if !errors.As(parseErr, &pe) {
				c.state = StateFailed
				return OutcomeFailure, parseErr
			}
			formatRetries++
			c.logger.Debug("malformed response",
				zap.String("reason", string(pe.Reason)),
				zap.Int("format_retries", formatRetries))
			if formatRetries > c.task.MaxFormatRetries {
				c.state = StateFailed
				return OutcomeFailure, fault.Wrap(fault.InvalidRequest, pe,
					"model output stayed malformed after %d corrective attempts", formatRetries)
			}
			c.history.Append(RoleAssistant, resp.Text, nil)
			c.history.Append(RoleObservation, pe.Corrective(c.deps.Schema), nil)
			continue
		}
		formatRetries = 0
		c.history.Append(RoleAssistant, resp.Text, action)

		// EXECUTING
		c.state = StateExecuting
		terminal := c.deps.Schema.IsTerminal(action.Command)
		var result *sandbox.ExecutionResult
		if !terminal {
			var execErr error
			result, execErr = c.execute(ctx, action)
			if execErr != nil {
				c.state = StateFailed
				return OutcomeFailure, execErr
			}
		}

		// RECORDING
		c.state = StateRecording
		turns = turn
		c.turns = turn
		if result != nil {
			observation := TruncateObservation(result.Output, 0, 0)
			if result.Fault != nil {
				observation = fmt.Sprintf("The command failed before producing a result: %s. The environment is still available.", result.Fault.Message)
			}
			c.history.Append(RoleObservation, renderObservation(observation, result.ExitCode), nil)
		}
		if werr := c.recordTurn(turn, resp, action, result, budget); werr != nil {
			c.state = StateFailed
			return OutcomeFailure, werr
		}
		c.deps.Hooks.TurnEnd(ctx, TurnSummary{
			TaskID:      c.task.ID,
			Turn:        turn,
			ModelOutput: resp.Text,
			Action:      action,
			Result:      result,
			Budget:      budget,
		})
		if c.loops.Observe(action) {
			c.logger.Warn("repeated action pattern", zap.String("command", action.Command))
			c.history.Append(RoleObservation,
				"You appear to be repeating the same actions without progress. Step back and try a different approach.", nil)
		}

		// Termination checks.
		switch {
		case terminal:
			c.state = StateDone
			return OutcomeSuccess, nil
		case ctx.Err() != nil:
			c.state = StateFailed
			return OutcomeFailure, fault.Wrap(fault.InvalidRequest, ctx.Err(), "task cancelled")
		case c.budgetExceeded(0):
			c.state = StateBudgetExceeded
			return OutcomeBudgetExceeded, nil
		case turn >= c.task.MaxTurns:
			c.state = StateMaxTurns
			return OutcomeMaxTurns, nil
		}
	}
}

// errBudgetPreempt signals a model call was skipped because its projected
// prompt would cross the budget ceiling.
var errBudgetPreempt = errors.New("projected prompt would exceed the budget ceiling")

// completeWithRecovery projects history, pre-empts over-budget calls, and
// invokes the model under the retry policy. A context-too-large fault
// tightens the projection once and retries.
func (c *Controller) completeWithRecovery(ctx context.Context) (*llm.Response, error) {
	for {
		projection := c.history.Project(c.projectionBudget, c.deps.KeepRecent)
		messages := toMessages(projection)
		projected := c.deps.Estimator.CountMessages(messages)

		if c.budgetExceeded(projected) {
			return nil, fmt.Errorf("%w (projected %d tokens)", errBudgetPreempt, projected)
		}

		req := llm.Request{Model: c.deps.Model, Messages: messages}
		resp, err := fault.Retry(ctx, c.retryPolicy(), func(ctx context.Context) (*llm.Response, error) {
			callCtx := ctx
			if c.task.ModelTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, c.task.ModelTimeout)
				defer cancel()
			}
			return c.deps.Client.Complete(callCtx, req)
		})
		if err == nil {
			return resp, nil
		}

		if fault.IsKind(err, fault.ContextTooLarge) && !c.tightened {
			c.tightened = true
			c.projectionBudget /= 2
			c.logger.Info("context too large, tightening projection",
				zap.Int("budget", c.projectionBudget))
			continue
		}
		return nil, err
	}
}

func (c *Controller) retryPolicy() fault.RetryPolicy {
	policy := c.deps.Retry
	prev := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		c.logger.Warn("model call retry",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if prev != nil {
			prev(err, attempt, delay)
		}
	}
	return policy
}

// execute runs the action in the sandbox. Execution faults become part of
// the result, except session-fatal faults, which get exactly one session
// re-creation before failing the task.
func (c *Controller) execute(ctx context.Context, action *Action) (*sandbox.ExecutionResult, error) {
	command := shellLine(action, c.deps.Schema[action.Command])
	result := c.deps.Session.Execute(ctx, command, c.task.ExecTimeout)

	if result.Fault != nil && result.Fault.Kind == fault.SessionFatal {
		if c.sessionResets >= 1 {
			return nil, fault.Wrap(fault.SessionFatal, result.Fault, "session died again after re-creation")
		}
		c.sessionResets++
		c.logger.Warn("session fatal, re-creating", zap.Error(result.Fault))
		if err := c.deps.Session.Reset(ctx); err != nil {
			return nil, fault.Wrap(fault.SessionFatal, err, "session re-creation failed")
		}
		result = c.deps.Session.Execute(ctx, command, c.task.ExecTimeout)
		if result.Fault != nil && result.Fault.Kind == fault.SessionFatal {
			return nil, fault.Wrap(fault.SessionFatal, result.Fault, "session died again after re-creation")
		}
	}
	return &result, nil
}

// recordUsage folds one exchange into the per-task and shared trackers.
func (c *Controller) recordUsage(usage llm.Usage) trajectory.BudgetSnapshot {
	snapshot := c.deps.Budget.Add(c.deps.Model, usage.InputTokens, usage.OutputTokens)
	if c.deps.Shared != nil {
		c.deps.Shared.Add(c.deps.Model, usage.InputTokens, usage.OutputTokens)
	}
	return snapshot
}

func (c *Controller) budgetExceeded(projected int) bool {
	if c.deps.Budget.WouldExceed(c.deps.Model, projected) {
		return true
	}
	return c.deps.Shared != nil && c.deps.Shared.WouldExceed(c.deps.Model, projected)
}

func (c *Controller) recordTurn(turn int, resp *llm.Response, action *Action, result *sandbox.ExecutionResult, budget trajectory.BudgetSnapshot) error {
	if c.deps.Trajectory == nil {
		return nil
	}
	record := trajectory.TurnRecord{
		Turn:         turn,
		PromptTokens: resp.Usage.InputTokens,
		ModelOutput:  resp.Text,
		Budget:       budget,
	}
	if action != nil {
		record.Action = &trajectory.ActionRecord{
			Command: action.Command,
			Args:    action.Args,
			Raw:     action.Raw,
		}
	}
	if result != nil {
		record.Result = &trajectory.ResultRecord{
			Output:    result.Output,
			ExitCode:  result.ExitCode,
			ElapsedMs: result.Elapsed.Milliseconds(),
		}
		if result.Fault != nil {
			record.Result.FaultKind = string(result.Fault.Kind)
		}
	}
	if err := c.deps.Trajectory.WriteTurn(record); err != nil {
		return fmt.Errorf("writing trajectory turn %d: %w", turn, err)
	}
	return nil
}

// finalize writes the outcome record and notifies hooks. Runs on every exit
// path.
func (c *Controller) finalize(ctx context.Context, outcome string, turns int, runErr error, elapsed time.Duration) {
	if outcome == "" {
		outcome = OutcomeFailure
	}
	if c.deps.Trajectory != nil {
		record := trajectory.OutcomeRecord{
			Outcome:    outcome,
			Turns:      turns,
			Budget:     c.deps.Budget.Snapshot(),
			DurationMs: elapsed.Milliseconds(),
		}
		if runErr != nil {
			record.Error = runErr.Error()
		}
		if err := c.deps.Trajectory.WriteOutcome(record); err != nil {
			c.logger.Warn("writing trajectory outcome failed", zap.Error(err))
		}
	}
	c.deps.Hooks.TaskEnd(ctx, c.task.ID, outcome)
	c.logger.Info("task finished",
		zap.String("outcome", outcome),
		zap.Int("turns", turns),
		zap.Duration("elapsed", elapsed))
}

// shellLine rebuilds the shell command from a parsed action. RawArgs
// commands carry the verbatim shell line as their only argument; schema
// commands are reassembled with the command name and requoted arguments.
func shellLine(a *Action, spec CommandSpec) string {
	if spec.RawArgs {
		if len(a.Args) == 1 {
			return a.Args[0]
		}
		return ""
	}
	parts := []string{a.Command}
	for _, arg := range a.Args {
		if strings.ContainsAny(arg, " \t'\"") {
			parts = append(parts, fmt.Sprintf("%q", arg))
		} else {
			parts = append(parts, arg)
		}
	}
	return strings.Join(parts, " ")
}

func toMessages(entries []HistoryEntry) []llm.Message {
	messages := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		role := llm.RoleUser
		switch e.Role {
		case RoleSystem:
			role = llm.RoleSystem
		case RoleAssistant:
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: e.Content})
	}
	return messages
}
