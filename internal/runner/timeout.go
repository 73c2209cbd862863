package runner

import "time"

// Timeout budgeting bounds.
//
// The floor prevents a large check count from starving each check toward
// zero; the ceiling bounds worst-case node duration.
const (
	MinCheckTimeout = 30 * time.Second
	MaxCheckTimeout = 180 * time.Second

	// DefaultNodeBudgetSeconds applies when a node declares no budget.
	DefaultNodeBudgetSeconds = 300
)

// EffectiveTimeout computes the per-check timeout for a node:
// clamp(budget/N, 30s, 180s). A zero budget means the default node budget.
func EffectiveTimeout(budgetSeconds, numChecks int) time.Duration {
	if budgetSeconds <= 0 {
		budgetSeconds = DefaultNodeBudgetSeconds
	}
	if numChecks < 1 {
		numChecks = 1
	}
	per := time.Duration(budgetSeconds) * time.Second / time.Duration(numChecks)
	if per < MinCheckTimeout {
		return MinCheckTimeout
	}
	if per > MaxCheckTimeout {
		return MaxCheckTimeout
	}
	return per
}
