package enrich

import (
	"sync/atomic"

	"github.com/JakeFAU/email-harvester/internal/metrics"
)

// Budget caps paid enrichment calls for a run. It never goes negative.
type Budget struct {
	remaining atomic.Int64
	used      atomic.Int64
}

// NewBudget returns a budget with limit calls; negative limits are treated as zero.
func NewBudget(limit int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(max(limit, 0)))
	metrics.SetBudgetRemaining(b.remaining.Load())
	return b
}

// TryAcquire takes one unit, reporting false once the budget is spent.
func (b *Budget) TryAcquire() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			b.used.Add(1)
			metrics.SetBudgetRemaining(cur - 1)
			return true
		}
	}
}

// Remaining returns the units left.
func (b *Budget) Remaining() int64 { return b.remaining.Load() }

// Used returns the units acquired so far.
func (b *Budget) Used() int64 { return b.used.Load() }
