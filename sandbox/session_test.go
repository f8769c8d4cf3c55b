package sandbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/thomcost/sweagent/fault"
)

type stubRuntime struct {
	createErrs int
	creates    int
	destroys   int
	runResult  RunResult
	runErr     error
}

func (r *stubRuntime) Create(ctx context.Context, spec Spec) (Handle, error) {
	r.creates++
	if r.creates <= r.createErrs {
		return Handle{}, fault.New(fault.TransientNetwork, "container not ready")
	}
	return Handle{ID: fmt.Sprintf("h%d", r.creates), WorkDir: "/tmp/x"}, nil
}

func (r *stubRuntime) Run(ctx context.Context, handle Handle, command string, timeout time.Duration) (RunResult, error) {
	if r.runErr != nil {
		return RunResult{}, r.runErr
	}
	return r.runResult, nil
}

func (r *stubRuntime) Upload(ctx context.Context, handle Handle, files map[string][]byte) error {
	return nil
}

func (r *stubRuntime) Destroy(ctx context.Context, handle Handle) error {
	r.destroys++
	return nil
}

func fastPolicy() fault.RetryPolicy {
	return fault.RetryPolicy{MaxAttempts: 3, BaseDelay: 0.001, MaxDelay: 0.01, Multiplier: 2.0}
}

func TestSessionOpenRetriesTransient(t *testing.T) {
	rt := &stubRuntime{createErrs: 2}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)

	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("expected open to succeed on the third attempt: %v", err)
	}
	if rt.creates != 3 {
		t.Errorf("expected 3 create attempts, got %d", rt.creates)
	}
	s.Close()
}

func TestSessionOpenExhaustionIsFatal(t *testing.T) {
	rt := &stubRuntime{createErrs: 10}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)

	err := s.Open(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !fault.IsKind(err, fault.SessionFatal) {
		t.Errorf("exhausted opens must be session-fatal, got %v", err)
	}
}

func TestSessionNonZeroExitIsNotFault(t *testing.T) {
	rt := &stubRuntime{runResult: RunResult{Output: "boom", ExitCode: 2}}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	result := s.Execute(context.Background(), "false", time.Second)
	if result.Fault != nil {
		t.Errorf("non-zero exit must not be a fault: %v", result.Fault)
	}
	if result.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", result.ExitCode)
	}
	if result.Output != "boom" {
		t.Errorf("expected output preserved, got %q", result.Output)
	}
}

func TestSessionTransportFaultInResult(t *testing.T) {
	rt := &stubRuntime{runErr: fault.New(fault.SessionFatal, "sandbox gone")}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	result := s.Execute(context.Background(), "ls", time.Second)
	if result.Fault == nil {
		t.Fatal("expected the fault captured in the result")
	}
	if result.Fault.Kind != fault.SessionFatal {
		t.Errorf("expected session-fatal, got %s", result.Fault.Kind)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	rt := &stubRuntime{}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(CloseGracePeriod + time.Second):
		t.Fatal("close blocked beyond the grace period")
	}
	if rt.destroys != 1 {
		t.Errorf("expected exactly one teardown, got %d", rt.destroys)
	}
}

func TestSessionExecuteAfterClose(t *testing.T) {
	rt := &stubRuntime{}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.Close()

	result := s.Execute(context.Background(), "ls", time.Second)
	if result.Fault == nil || result.Fault.Kind != fault.SessionFatal {
		t.Error("executing on a closed session must yield a session-fatal result")
	}
}

func TestSessionResetCreatesFreshContext(t *testing.T) {
	rt := &stubRuntime{}
	s := NewSession(rt, Spec{}, fastPolicy(), nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	defer s.Close()

	if rt.destroys != 1 {
		t.Errorf("expected the old context destroyed, got %d destroys", rt.destroys)
	}
	if rt.creates != 2 {
		t.Errorf("expected a fresh context created, got %d creates", rt.creates)
	}
}
