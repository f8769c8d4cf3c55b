package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/thomcost/sweagent/fault"
)

// sensitiveEnvPatterns are case-insensitive suffixes for environment
// variables that are excluded from sandbox commands.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		if safeEnvVars[parts[0]] || !isSensitiveEnvVar(parts[0]) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// LocalRuntime implements Runtime on the host. Each Create allocates an
// isolated working directory; commands run through the shell under their own
// process group so timeouts can kill the whole tree. Used for tests and
// local dry-runs; production runs go through a container-backed Runtime.
type LocalRuntime struct {
	baseDir string

	mu   sync.Mutex
	envs map[string]map[string]string
}

// NewLocalRuntime creates a LocalRuntime rooted at baseDir. An empty baseDir
// uses the system temp directory.
func NewLocalRuntime(baseDir string) *LocalRuntime {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "sweagent")
	}
	return &LocalRuntime{baseDir: baseDir, envs: make(map[string]map[string]string)}
}

func (r *LocalRuntime) Create(ctx context.Context, spec Spec) (Handle, error) {
	workDir := spec.WorkDir
	if workDir == "" {
		workDir = filepath.Join(r.baseDir, uuid.New().String())
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Handle{}, fault.Wrap(fault.SessionFatal, err, "creating sandbox directory")
	}
	handle := Handle{ID: uuid.New().String(), WorkDir: workDir}
	if len(spec.Env) > 0 {
		r.mu.Lock()
		r.envs[handle.ID] = spec.Env
		r.mu.Unlock()
	}
	return handle, nil
}

func (r *LocalRuntime) Run(ctx context.Context, handle Handle, command string, timeout time.Duration) (RunResult, error) {
	if handle.ID == "" {
		return RunResult{}, fault.New(fault.SessionFatal, "run on a dead handle")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell, shellArg := "/bin/bash", "-c"
	if runtime.GOOS == "windows" {
		shell, shellArg = "cmd.exe", "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = handle.WorkDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	env := filterEnvironment()
	r.mu.Lock()
	for k, v := range r.envs[handle.ID] {
		env = append(env, k+"="+v)
	}
	r.mu.Unlock()
	cmd.Env = env

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	err := cmd.Run()
	result := RunResult{Output: combined.String()}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
			return RunResult{}, fault.Wrap(fault.TransientNetwork, ctx.Err(),
				"command timed out after %s", timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return RunResult{}, fault.Wrap(fault.SessionFatal, err, "spawning command")
	}

	return result, nil
}

func (r *LocalRuntime) Upload(ctx context.Context, handle Handle, files map[string][]byte) error {
	if handle.ID == "" {
		return fault.New(fault.SessionFatal, "upload to a dead handle")
	}
	for name, data := range files {
		path := filepath.Join(handle.WorkDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}
	return nil
}

func (r *LocalRuntime) Destroy(ctx context.Context, handle Handle) error {
	r.mu.Lock()
	delete(r.envs, handle.ID)
	r.mu.Unlock()
	if handle.WorkDir == "" {
		return nil
	}
	// Only remove directories we allocated; caller-specified work dirs are
	// left in place.
	if strings.HasPrefix(handle.WorkDir, r.baseDir) {
		return os.RemoveAll(handle.WorkDir)
	}
	return nil
}
