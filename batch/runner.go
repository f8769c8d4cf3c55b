// Package batch runs many tasks in parallel worker slots with an optional
// shared budget ceiling across the whole batch.
package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thomcost/sweagent/agent"
	"github.com/thomcost/sweagent/fault"
	"github.com/thomcost/sweagent/llm"
	"github.com/thomcost/sweagent/sandbox"
	"github.com/thomcost/sweagent/store"
	"github.com/thomcost/sweagent/trajectory"
)

// Result is the outcome of one task in a batch.
type Result struct {
	TaskID  string
	RunID   string
	Outcome string
	Err     error
}

// Runner executes batches. Each task gets its own session, history, and
// trajectory; only the shared budget tracker crosses task boundaries.
type Runner struct {
	Client  llm.Client
	Model   string
	Runtime sandbox.Runtime
	Logger  *zap.Logger

	Concurrency   int
	ContextTokens int
	KeepRecent    int
	Costs         agent.CostTable
	Retry         fault.RetryPolicy

	// Shared, when set, enforces a batch-wide ceiling. Tasks observe it at
	// their recording checkpoint and stop cooperatively.
	Shared *agent.BudgetTracker

	Store         *store.Store
	TrajectoryDir string
	Hooks         []agent.Hook
}

// Run executes all tasks and returns one Result per task, in input order.
// Individual task failures do not abort the batch.
func (r *Runner) Run(ctx context.Context, tasks []agent.Task) []Result {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := r.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	results := make([]Result, len(tasks))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.runOne(ctx, task, logger)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runOne(ctx context.Context, task agent.Task, logger *zap.Logger) Result {
	result := Result{TaskID: task.ID, RunID: uuid.New().String()}

	// Keyed by run ID so a rerun of the same task never touches an earlier
	// trajectory file.
	writer, err := trajectory.NewWriter(r.TrajectoryDir, task.ID+"-"+result.RunID)
	if err != nil {
		result.Outcome = agent.OutcomeFailure
		result.Err = err
		return result
	}

	if r.Store != nil {
		err := r.Store.RecordStart(ctx, store.Run{
			ID:             result.RunID,
			TaskID:         task.ID,
			Model:          r.Model,
			TrajectoryPath: writer.Path(),
			CreatedAt:      time.Now(),
		})
		if err != nil {
			logger.Warn("recording run start failed", zap.String("task", task.ID), zap.Error(err))
		}
	}

	budget := agent.NewBudgetTracker(task.TokenCeiling, task.CostCeiling, r.Costs)
	session := sandbox.NewSession(r.Runtime, task.Env, fault.SessionRetryPolicy(), logger)

	controller, err := agent.NewController(task, agent.Deps{
		Client:        r.Client,
		Model:         r.Model,
		Session:       session,
		Budget:        budget,
		Shared:        r.Shared,
		Trajectory:    writer,
		Hooks:         agent.NewDispatcher(logger, r.Hooks...),
		Schema:        agent.DefaultSchema(),
		Retry:         r.Retry,
		Logger:        logger,
		ContextTokens: r.ContextTokens,
		KeepRecent:    r.KeepRecent,
	})
	if err != nil {
		result.Outcome = agent.OutcomeFailure
		result.Err = err
		return result
	}

	outcome, runErr := controller.Run(ctx)
	result.Outcome = outcome
	result.Err = runErr

	if r.Store != nil {
		snapshot := budget.Snapshot()
		err := r.Store.RecordOutcome(context.WithoutCancel(ctx), result.RunID, outcome,
			controller.Turns(), snapshot.TokensIn, snapshot.TokensOut, snapshot.CostUSD)
		if err != nil {
			logger.Warn("recording run outcome failed", zap.String("task", task.ID), zap.Error(err))
		}
	}
	return result
}
