package partitionctl

import (
	"time"

	"github.com/rbx/ODC/types"
)

// Budget tracks a request's total deadline and hands each inner blocking
// step the remaining time (spec §4.2 "Deadline propagation", §5
// "Suspension points"). Every wait primitive in this package receives a
// Budget-derived duration rather than the raw header value, so a slow
// first step leaves less time for the next one.
type Budget struct {
	start time.Time
	total time.Duration
}

// NewBudget starts a budget of header.TimeoutS seconds, clocked from now.
func NewBudget(header types.Header) *Budget {
	return &Budget{start: time.Now(), total: time.Duration(header.TimeoutS * float64(time.Second))}
}

// Remaining returns the time left before the budget expires. A non-positive
// remaining time is reported as a RequestTimeout error, per spec §4.2:
// "If non-positive, the step fails immediately with RequestTimeout."
func (b *Budget) Remaining() (time.Duration, error) {
	remaining := b.total - time.Since(b.start)
	if remaining <= 0 {
		return 0, types.NewError(types.CodeRequestTimeout, "deadline exceeded before step could start")
	}
	return remaining, nil
}

// Elapsed returns the time spent so far against this budget.
func (b *Budget) Elapsed() time.Duration {
	return time.Since(b.start)
}
