// internal/llm/budget.go
package llm

import (
	"context"
	"sync"

	apperrors "analytics-agent/internal/common/errors"
)

// Budget caps model invocations for one query. Agents chain model calls
// (understanding, planning, responding, clarification turns), and a prompt
// that keeps the pipeline talking to itself must run out of budget rather
// than out of money.
type Budget struct {
	mu    sync.Mutex
	limit int
	used  int
}

func NewBudget(limit int) *Budget {
	if limit <= 0 {
		limit = 10
	}
	return &Budget{limit: limit}
}

// Spend consumes one invocation, failing once the cap is reached.
func (b *Budget) Spend() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.limit {
		return apperrors.NewLoopLimitExceededError(b.used, b.limit)
	}
	b.used++
	return nil
}

// Used reports invocations consumed so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

type budgetKey struct{}

// WithBudget attaches a per-query invocation budget to the context. Every
// Invoke call spends from it.
func WithBudget(ctx context.Context, b *Budget) context.Context {
	return context.WithValue(ctx, budgetKey{}, b)
}

// BudgetFrom returns the budget attached to the context, or nil.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}
