package agent

import (
	"sync"

	"github.com/thomcost/sweagent/trajectory"
)

// CostTable maps model names to USD prices per million tokens.
type CostTable map[string]ModelCost

// ModelCost is the per-million-token price of one model.
type ModelCost struct {
	InputUSD  float64 `yaml:"input_usd" json:"input_usd"`
	OutputUSD float64 `yaml:"output_usd" json:"output_usd"`
}

// Cost computes the USD cost of one exchange.
func (t CostTable) Cost(model string, inputTokens, outputTokens int) float64 {
	c, ok := t[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*c.InputUSD + float64(outputTokens)/1e6*c.OutputUSD
}

// BudgetTracker accumulates token and monetary spend and enforces ceilings.
// Totals are monotonically non-decreasing. Safe for concurrent use, so one
// tracker can be shared across a batch of tasks as a global ceiling.
type BudgetTracker struct {
	mu        sync.Mutex
	tokensIn  int
	tokensOut int
	costUSD   float64

	tokenCeiling int
	costCeiling  float64
	costs        CostTable
}

// NewBudgetTracker creates a tracker with the given ceilings. A zero ceiling
// means unlimited.
func NewBudgetTracker(tokenCeiling int, costCeiling float64, costs CostTable) *BudgetTracker {
	return &BudgetTracker{
		tokenCeiling: tokenCeiling,
		costCeiling:  costCeiling,
		costs:        costs,
	}
}

// Add records one exchange and returns the updated snapshot.
func (b *BudgetTracker) Add(model string, inputTokens, outputTokens int) trajectory.BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokensIn += inputTokens
	b.tokensOut += outputTokens
	b.costUSD += b.costs.Cost(model, inputTokens, outputTokens)
	return b.snapshotLocked()
}

// Snapshot returns the current cumulative state.
func (b *BudgetTracker) Snapshot() trajectory.BudgetSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *BudgetTracker) snapshotLocked() trajectory.BudgetSnapshot {
	return trajectory.BudgetSnapshot{
		TokensIn:  b.tokensIn,
		TokensOut: b.tokensOut,
		CostUSD:   b.costUSD,
	}
}

// Exceeded reports whether any ceiling has been crossed.
func (b *BudgetTracker) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceededLocked("", 0)
}

// WouldExceed reports whether spending projectedTokens more (priced as input
// tokens of model) would cross a ceiling, so a controller can pre-empt an
// over-budget model call.
func (b *BudgetTracker) WouldExceed(model string, projectedTokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceededLocked(model, projectedTokens)
}

// A ceiling is an inclusive limit: spend may reach it exactly, and only going
// strictly above it counts as exceeded.
func (b *BudgetTracker) exceededLocked(model string, projected int) bool {
	if b.tokenCeiling > 0 && b.tokensIn+b.tokensOut+projected > b.tokenCeiling {
		return true
	}
	if b.costCeiling > 0 && b.costUSD+b.costs.Cost(model, projected, 0) > b.costCeiling {
		return true
	}
	return false
}
