package agent

import (
	"strings"
	"testing"
)

func TestTruncateObservationShortOutputUntouched(t *testing.T) {
	out := "short output"
	if got := TruncateObservation(out, 1000, 100); got != out {
		t.Errorf("short output should pass through, got %q", got)
	}
}

func TestTruncateObservationChars(t *testing.T) {
	out := strings.Repeat("a", 1000) + "MIDDLE" + strings.Repeat("b", 1000)
	got := TruncateObservation(out, 200, 0)

	if !strings.Contains(got, "removed from the middle") {
		t.Error("expected a truncation notice")
	}
	if !strings.HasPrefix(got, "aaaa") {
		t.Error("expected the head preserved")
	}
	if !strings.HasSuffix(got, "bbbb") {
		t.Error("expected the tail preserved")
	}
	if strings.Contains(got, "MIDDLE") {
		t.Error("expected the middle removed")
	}
}

func TestTruncateObservationLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("line\n")
	}
	got := TruncateObservation(b.String(), 0, 10)

	if !strings.Contains(got, "lines omitted") {
		t.Error("expected a line omission marker")
	}
	if n := strings.Count(got, "\n"); n > 12 {
		t.Errorf("expected roughly 10 lines, got %d newlines", n)
	}
}

func TestLoopDetectorRepeatedAction(t *testing.T) {
	var d loopDetector
	a := &Action{Command: "bash", Args: []string{"ls"}}

	for i := 0; i < LoopWindow-1; i++ {
		if d.Observe(a) {
			t.Fatalf("loop flagged too early at observation %d", i+1)
		}
	}
	if !d.Observe(a) {
		t.Error("expected a full window of identical actions to flag")
	}
}

func TestLoopDetectorAlternatingPair(t *testing.T) {
	var d loopDetector
	a := &Action{Command: "bash", Args: []string{"ls"}}
	b := &Action{Command: "bash", Args: []string{"pwd"}}

	flagged := false
	for i := 0; i < LoopWindow; i++ {
		if i%2 == 0 {
			flagged = d.Observe(a)
		} else {
			flagged = d.Observe(b)
		}
	}
	if !flagged {
		t.Error("expected an alternating pair to flag")
	}
}

func TestLoopDetectorVariedActionsPass(t *testing.T) {
	var d loopDetector
	commands := []string{"ls", "pwd", "cat x", "grep y", "go test", "git diff", "ls -la"}
	for _, c := range commands {
		if d.Observe(&Action{Command: "bash", Args: []string{c}}) {
			t.Errorf("varied actions should not flag (at %q)", c)
		}
	}
}
