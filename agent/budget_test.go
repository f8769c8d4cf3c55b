package agent

import (
	"sync"
	"testing"
)

func TestBudgetCeiling(t *testing.T) {
	b := NewBudgetTracker(1000, 0, nil)

	// Three turns of 400 tokens each against a 1000-token ceiling.
	b.Add("m", 300, 100)
	if b.Exceeded() {
		t.Error("400 tokens should not exceed a 1000 ceiling")
	}
	b.Add("m", 300, 100)
	if b.Exceeded() {
		t.Error("800 tokens should not exceed a 1000 ceiling")
	}
	b.Add("m", 300, 100)
	if !b.Exceeded() {
		t.Error("1200 tokens must exceed a 1000 ceiling")
	}
}

func TestBudgetWouldExceed(t *testing.T) {
	b := NewBudgetTracker(1000, 0, nil)
	b.Add("m", 500, 300)

	if b.WouldExceed("m", 100) {
		t.Error("800+100 should fit under 1000")
	}
	if !b.WouldExceed("m", 300) {
		t.Error("800+300 should be pre-empted")
	}
	if b.WouldExceed("m", 200) {
		t.Error("reaching the ceiling exactly is allowed")
	}
}

func TestBudgetWouldExceedProjectsCost(t *testing.T) {
	costs := CostTable{"m": {InputUSD: 10.0}}
	b := NewBudgetTracker(0, 0.01, costs)
	b.Add("m", 500, 0) // $0.005

	if b.WouldExceed("m", 400) {
		t.Error("$0.005 + $0.004 projected should fit under $0.01")
	}
	if !b.WouldExceed("m", 600) {
		t.Error("$0.005 + $0.006 projected should be pre-empted")
	}
}

func TestBudgetUnlimited(t *testing.T) {
	b := NewBudgetTracker(0, 0, nil)
	b.Add("m", 1_000_000, 1_000_000)
	if b.Exceeded() {
		t.Error("zero ceilings mean unlimited")
	}
}

func TestBudgetCost(t *testing.T) {
	costs := CostTable{"m": {InputUSD: 3.0, OutputUSD: 15.0}}
	b := NewBudgetTracker(0, 0.01, costs)

	snap := b.Add("m", 1000, 1000)
	want := 0.003 + 0.015
	if diff := snap.CostUSD - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cost %f, got %f", want, snap.CostUSD)
	}
	if !b.Exceeded() {
		t.Error("cost ceiling of $0.01 should be exceeded at $0.018")
	}
}

func TestBudgetUnknownModelCostsNothing(t *testing.T) {
	b := NewBudgetTracker(0, 0, CostTable{"known": {InputUSD: 1, OutputUSD: 1}})
	snap := b.Add("unknown", 1000, 1000)
	if snap.CostUSD != 0 {
		t.Errorf("unknown model should cost 0, got %f", snap.CostUSD)
	}
}

func TestBudgetMonotonic(t *testing.T) {
	b := NewBudgetTracker(0, 0, nil)
	prev := b.Snapshot()
	for i := 0; i < 10; i++ {
		snap := b.Add("m", 10, 5)
		if snap.TokensIn < prev.TokensIn || snap.TokensOut < prev.TokensOut {
			t.Fatal("budget must be monotonically non-decreasing")
		}
		prev = snap
	}
	if prev.TokensIn != 100 || prev.TokensOut != 50 {
		t.Errorf("expected 100/50 tokens, got %d/%d", prev.TokensIn, prev.TokensOut)
	}
}

func TestBudgetConcurrentAdds(t *testing.T) {
	b := NewBudgetTracker(0, 0, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Add("m", 10, 10)
		}()
	}
	wg.Wait()
	snap := b.Snapshot()
	if snap.TokensIn != 500 || snap.TokensOut != 500 {
		t.Errorf("lost updates: got %d/%d", snap.TokensIn, snap.TokensOut)
	}
}
