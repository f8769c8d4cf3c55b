// Package sandbox binds a task to one remote execution context. The Runtime
// contract abstracts the container layer; Session adds the retry policy,
// fault classification, and lifecycle guarantees the turn loop depends on.
package sandbox

import (
	"context"
	"time"
)

// Spec describes the initial environment for a task.
type Spec struct {
	Image   string            `json:"image,omitempty"`
	Repo    string            `json:"repo,omitempty"`
	Commit  string            `json:"commit,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Handle is an opaque reference to one live execution context.
type Handle struct {
	ID      string
	WorkDir string
}

// RunResult is the raw output of a runtime command.
type RunResult struct {
	Output   string
	ExitCode int
}

// Runtime is the container-orchestration contract. Run returns an error only
// for transport-level failure; a non-zero exit code is a normal RunResult.
type Runtime interface {
	Create(ctx context.Context, spec Spec) (Handle, error)
	Run(ctx context.Context, handle Handle, command string, timeout time.Duration) (RunResult, error)
	Upload(ctx context.Context, handle Handle, files map[string][]byte) error
	Destroy(ctx context.Context, handle Handle) error
}
