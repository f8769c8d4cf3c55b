package sandbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thomcost/sweagent/fault"
)

// ExecutionResult captures one command execution. A non-zero exit status is
// a normal result; Fault is set only for transport-level failure.
type ExecutionResult struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	ExitCode int           `json:"exit_code"`
	Elapsed  time.Duration `json:"elapsed"`
	Fault    *fault.Fault  `json:"-"`
}

// Session owns the single live execution context for one task. All calls are
// serialized by the turn loop; the mutex only guards Close against
// concurrent external cancellation.
type Session struct {
	runtime Runtime
	spec    Spec
	policy  fault.RetryPolicy
	logger  *zap.Logger

	mu     sync.Mutex
	handle Handle
	open   bool
}

// CloseGracePeriod bounds how long Close waits for remote teardown.
const CloseGracePeriod = 10 * time.Second

// NewSession creates an unopened session for the given spec.
func NewSession(rt Runtime, spec Spec, policy fault.RetryPolicy, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{runtime: rt, spec: spec, policy: policy, logger: logger}
}

// Open creates the remote execution context, retrying transient faults under
// the session policy. Exhausted retries return a session-fatal fault.
func (s *Session) Open(ctx context.Context) error {
	handle, err := fault.Retry(ctx, s.policy, func(ctx context.Context) (Handle, error) {
		return s.runtime.Create(ctx, s.spec)
	})
	if err != nil {
		return fault.Wrap(fault.SessionFatal, err, "opening sandbox session")
	}
	s.mu.Lock()
	s.handle = handle
	s.open = true
	s.mu.Unlock()
	s.logger.Debug("session opened", zap.String("handle", handle.ID))
	return nil
}

// Execute runs one command. Transport faults are classified and returned
// inside the result, never raised, so the caller always has a result to
// record.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) ExecutionResult {
	s.mu.Lock()
	handle := s.handle
	open := s.open
	s.mu.Unlock()

	result := ExecutionResult{Command: command}
	if !open {
		result.Fault = fault.New(fault.SessionFatal, "session is closed")
		return result
	}

	start := time.Now()
	run, err := fault.Retry(ctx, s.policy, func(ctx context.Context) (RunResult, error) {
		return s.runtime.Run(ctx, handle, command, timeout)
	})
	result.Elapsed = time.Since(start)

	if err != nil {
		result.Fault = fault.Classify(err)
		s.logger.Warn("execution fault",
			zap.String("kind", string(result.Fault.Kind)),
			zap.String("command", command))
		return result
	}

	result.Output = run.Output
	result.ExitCode = run.ExitCode
	return result
}

// Upload copies files into the execution context.
func (s *Session) Upload(ctx context.Context, files map[string][]byte) error {
	s.mu.Lock()
	handle := s.handle
	open := s.open
	s.mu.Unlock()
	if !open {
		return fault.New(fault.SessionFatal, "session is closed")
	}
	return s.runtime.Upload(ctx, handle, files)
}

// Reset tears down the current context and creates a fresh one from the same
// spec. Used for the single session-fatal recovery attempt.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	handle := s.handle
	s.open = false
	s.mu.Unlock()

	if handle.ID != "" {
		destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CloseGracePeriod)
		_ = s.runtime.Destroy(destroyCtx, handle)
		cancel()
	}
	return s.Open(ctx)
}

// Close tears down the remote context. Idempotent, best-effort, and bounded
// by the grace period even when the handle is already broken.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	handle := s.handle
	s.open = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), CloseGracePeriod)
	defer cancel()
	if err := s.runtime.Destroy(ctx, handle); err != nil {
		s.logger.Warn("session teardown failed", zap.Error(err))
	}
	s.logger.Debug("session closed", zap.String("handle", handle.ID))
}
