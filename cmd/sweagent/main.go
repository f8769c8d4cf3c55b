// Command sweagent runs autonomous software-engineering tasks: single runs,
// parallel batches, and inspection of recorded trajectories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thomcost/sweagent/agent"
	"github.com/thomcost/sweagent/batch"
	"github.com/thomcost/sweagent/config"
	"github.com/thomcost/sweagent/fault"
	"github.com/thomcost/sweagent/llm"
	"github.com/thomcost/sweagent/sandbox"
	"github.com/thomcost/sweagent/store"
	"github.com/thomcost/sweagent/trajectory"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "sweagent",
		Short:         "Autonomous software-engineering agent runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(runCmd(), batchCmd(), replayCmd(), followCmd(), runsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunner(cfg config.Config, logger *zap.Logger, shared *agent.BudgetTracker, st *store.Store) (*batch.Runner, error) {
	client, err := llm.NewGollmClient(cfg.Provider, cfg.Model, llm.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}
	return &batch.Runner{
		Client:        client,
		Model:         cfg.Model,
		Runtime:       sandbox.NewLocalRuntime(cfg.SandboxDir),
		Logger:        logger,
		Concurrency:   cfg.Concurrency,
		ContextTokens: cfg.ContextTokens,
		KeepRecent:    cfg.KeepRecent,
		Costs:         cfg.Costs,
		Retry:         fault.DefaultRetryPolicy(),
		Shared:        shared,
		Store:         st,
		TrajectoryDir: cfg.TrajectoryDir,
	}, nil
}

// watchEvents streams run events to the logger until the hook is closed.
// The returned stop function closes the hook and waits for the drain.
func watchEvents(runner *batch.Runner, logger *zap.Logger) (stop func()) {
	events := agent.NewEventHook(0)
	runner.Hooks = append(runner.Hooks, events)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events.Events() {
			logger.Info("run event",
				zap.String("kind", string(ev.Kind)),
				zap.String("task", ev.TaskID),
				zap.Any("data", ev.Data))
		}
	}()
	return func() {
		events.Close()
		<-drained
	}
}

func toTask(cfg config.Config, spec config.TaskSpec) agent.Task {
	task := agent.NewTask(spec.ID, spec.Problem, sandbox.Spec{
		Image:   spec.Image,
		Repo:    spec.Repo,
		Commit:  spec.Commit,
		WorkDir: spec.WorkDir,
		Env:     spec.Env,
	})
	task.MaxTurns = cfg.MaxTurns
	task.MaxFormatRetries = cfg.MaxFormatRetries
	task.ModelTimeout = cfg.ModelTimeout.Std()
	task.ExecTimeout = cfg.ExecTimeout.Std()
	task.TokenCeiling = cfg.TokenCeiling
	task.CostCeiling = cfg.CostCeiling
	return task
}

func runCmd() *cobra.Command {
	var problem, problemFile, workDir, taskID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if problemFile != "" {
				data, err := os.ReadFile(problemFile)
				if err != nil {
					return err
				}
				problem = string(data)
			}
			if problem == "" {
				return fmt.Errorf("a problem statement is required (--problem or --problem-file)")
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := store.New(cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runner, err := newRunner(cfg, logger, nil, st)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			task := toTask(cfg, config.TaskSpec{ID: taskID, Problem: problem, WorkDir: workDir})
			stop := watchEvents(runner, logger)
			results := runner.Run(ctx, []agent.Task{task})
			stop()
			result := results[0]

			fmt.Printf("task %s: %s\n", result.TaskID, result.Outcome)
			if result.Err != nil {
				return result.Err
			}
			if result.Outcome != agent.OutcomeSuccess {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&problem, "problem", "", "problem statement")
	cmd.Flags().StringVar(&problemFile, "problem-file", "", "file containing the problem statement")
	cmd.Flags().StringVar(&workDir, "workdir", "", "existing directory to run in")
	cmd.Flags().StringVar(&taskID, "task-id", "", "task identifier (generated when empty)")
	return cmd
}

func batchCmd() *cobra.Command {
	var tasksPath string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of tasks in parallel",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			specs, err := config.LoadTasks(tasksPath)
			if err != nil {
				return err
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := store.New(cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			var shared *agent.BudgetTracker
			if cfg.GlobalTokenCeiling > 0 || cfg.GlobalCostCeiling > 0 {
				shared = agent.NewBudgetTracker(cfg.GlobalTokenCeiling, cfg.GlobalCostCeiling, cfg.Costs)
			}

			runner, err := newRunner(cfg, logger, shared, st)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			tasks := make([]agent.Task, len(specs))
			for i, spec := range specs {
				tasks[i] = toTask(cfg, spec)
			}

			stop := watchEvents(runner, logger)
			results := runner.Run(ctx, tasks)
			stop()

			failed := 0
			for _, r := range results {
				fmt.Printf("task %s: %s\n", r.TaskID, r.Outcome)
				if r.Err != nil {
					fmt.Printf("  error: %v\n", r.Err)
				}
				if r.Outcome != agent.OutcomeSuccess {
					failed++
				}
			}
			fmt.Printf("%d/%d tasks succeeded\n", len(results)-failed, len(results))
			if failed > 0 {
				os.Exit(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tasksPath, "tasks", "tasks.yaml", "batch task file")
	return cmd
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <trajectory.jsonl>",
		Short: "Summarize a recorded trajectory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := trajectory.ReplayFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("task %s (model %s)\n", state.Meta.TaskID, state.Meta.Model)
			for _, turn := range state.Turns {
				line := "(malformed)"
				if turn.Action != nil {
					line = turn.Action.Raw
				}
				fmt.Printf("  turn %d: %s\n", turn.Turn, line)
				if turn.Result != nil && turn.Result.ExitCode != 0 {
					fmt.Printf("    exit code %d\n", turn.Result.ExitCode)
				}
			}
			if state.Complete {
				fmt.Printf("outcome: %s after %d turns, %d+%d tokens, $%.4f\n",
					state.Outcome, len(state.Turns),
					state.Budget.TokensIn, state.Budget.TokensOut, state.Budget.CostUSD)
			} else {
				fmt.Printf("incomplete: %d turns recorded, %d+%d tokens so far\n",
					len(state.Turns), state.Budget.TokensIn, state.Budget.TokensOut)
			}
			return nil
		},
	}
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <trajectory.jsonl>",
		Short: "Tail a trajectory as it is written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signalContext()
			defer cancel()

			follower := trajectory.NewFollower(args[0], logger)
			go func() {
				for entry := range follower.Entries() {
					fmt.Printf("%s %s\n", entry.Type, string(entry.Data))
				}
			}()
			if err := follower.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := store.New(cfg.StorePath)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, r := range runs {
				outcome := r.Outcome
				if outcome == "" {
					outcome = "in-flight"
				}
				fmt.Printf("%s  %-10s  %-16s  turns=%-3d  $%.4f  %s\n",
					r.CreatedAt.Format("2006-01-02 15:04"), outcome, r.TaskID, r.Turns, r.CostUSD, r.TrajectoryPath)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
