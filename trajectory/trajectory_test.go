package trajectory

import (
	"os"
	"path/filepath"
	"testing"
)

func sampleTurn(n int) TurnRecord {
	return TurnRecord{
		Turn:         n,
		PromptTokens: 100 * n,
		ModelOutput:  "output",
		Action:       &ActionRecord{Command: "bash", Args: []string{"ls"}, Raw: "bash ls"},
		Result:       &ResultRecord{Output: "files", ExitCode: 0, ElapsedMs: 12},
		Budget:       BudgetSnapshot{TokensIn: 100 * n, TokensOut: 50 * n, CostUSD: 0.001 * float64(n)},
		Timestamp:    1000 + int64(n),
	}
}

func writeSample(t *testing.T, turns int, withOutcome bool) string {
	t.Helper()
	w, err := NewWriter(t.TempDir(), "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteMeta(Meta{TaskID: "task-1", Model: "m", CreatedAt: 999}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= turns; i++ {
		if err := w.WriteTurn(sampleTurn(i)); err != nil {
			t.Fatal(err)
		}
	}
	if withOutcome {
		outcome := OutcomeRecord{
			Outcome: "success",
			Turns:   turns,
			Budget:  BudgetSnapshot{TokensIn: 100 * turns, TokensOut: 50 * turns},
		}
		if err := w.WriteOutcome(outcome); err != nil {
			t.Fatal(err)
		}
	}
	return w.Path()
}

func TestWriteReadRoundtrip(t *testing.T) {
	path := writeSample(t, 3, true)

	summary, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Meta.TaskID != "task-1" {
		t.Errorf("expected task-1, got %q", summary.Meta.TaskID)
	}
	if len(summary.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(summary.Turns))
	}
	for i, turn := range summary.Turns {
		if turn.Turn != i+1 {
			t.Errorf("turn %d out of order: %d", i, turn.Turn)
		}
	}
	if summary.Outcome == nil || summary.Outcome.Outcome != "success" {
		t.Error("expected a success outcome")
	}
}

func TestReadWithoutOutcome(t *testing.T) {
	path := writeSample(t, 2, false)

	summary, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Outcome != nil {
		t.Error("an in-flight trajectory has no outcome")
	}
	if len(summary.Turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(summary.Turns))
	}
}

func TestWriteMetaReplacesStaleTrajectory(t *testing.T) {
	dir := t.TempDir()

	first, err := NewWriter(dir, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := first.WriteMeta(Meta{TaskID: "task-1", Model: "old", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 2; i++ {
		if err := first.WriteTurn(sampleTurn(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := first.WriteOutcome(OutcomeRecord{Outcome: "failure", Turns: 2}); err != nil {
		t.Fatal(err)
	}

	// A rerun at the same path must not interleave with the old run.
	second, err := NewWriter(dir, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := second.WriteMeta(Meta{TaskID: "task-1", Model: "new", CreatedAt: 2}); err != nil {
		t.Fatal(err)
	}
	if err := second.WriteTurn(sampleTurn(1)); err != nil {
		t.Fatal(err)
	}

	summary, err := ReadFile(second.Path())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Meta.Model != "new" {
		t.Errorf("expected the rerun's meta, got model %q", summary.Meta.Model)
	}
	if summary.Outcome != nil {
		t.Error("the old run's outcome must not survive the rerun")
	}
	if len(summary.Turns) != 1 || summary.Turns[0].Turn != 1 {
		t.Errorf("expected a single turn numbered 1, got %+v", summary.Turns)
	}
}

func TestReadToleratesTruncatedTrailingLine(t *testing.T) {
	path := writeSample(t, 2, false)

	// Simulate a crash mid-flush: a partial JSON line at the end.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"turn","data":{"turn":3,"mo`); err != nil {
		t.Fatal(err)
	}
	f.Close()

	summary, err := ReadFile(path)
	if err != nil {
		t.Fatalf("a truncated trailing line must be tolerated: %v", err)
	}
	if len(summary.Turns) != 2 {
		t.Errorf("expected the 2 complete turns, got %d", len(summary.Turns))
	}
}

func TestReadRejectsMidFileCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonl")
	content := `{"type":"meta","data":{"task_id":"t","model":"m","created_at":1}}
garbage not json
{"type":"turn","data":{"turn":1,"model_output":"x","budget":{"tokens_in":1,"tokens_out":1,"cost_usd":0},"timestamp":2}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("corruption before the last line must be an error")
	}
}

func TestReadMissingMeta(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "no-meta.jsonl")
	content := `{"type":"turn","data":{"turn":1,"model_output":"x","budget":{"tokens_in":1,"tokens_out":1,"cost_usd":0},"timestamp":2}}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFile(path); err == nil {
		t.Error("a trajectory without a meta entry is invalid")
	}
}

func TestReplayFoldsBudget(t *testing.T) {
	path := writeSample(t, 3, false)

	state, err := ReplayFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if state.Complete {
		t.Error("no outcome means incomplete")
	}
	if state.Budget.TokensIn != 300 || state.Budget.TokensOut != 150 {
		t.Errorf("expected the last turn's budget, got %+v", state.Budget)
	}
	if len(state.Turns) != 3 {
		t.Errorf("expected 3 turns, got %d", len(state.Turns))
	}
}

func TestReplayCompleteRun(t *testing.T) {
	path := writeSample(t, 2, true)

	state, err := ReplayFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Complete {
		t.Error("expected a complete run")
	}
	if state.Outcome != "success" {
		t.Errorf("expected success, got %q", state.Outcome)
	}
	if state.Budget.TokensIn != 200 {
		t.Errorf("expected the outcome budget, got %+v", state.Budget)
	}
}
