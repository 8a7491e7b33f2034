package recompute

import (
	"fmt"

	"github.com/roach88/recfield/internal/ir"
)

// Quota bounds the number of recomputation passes of a flush, so that
// derivations that keep invalidating each other stop with an error
// instead of looping.
type Quota struct {
	maxPasses int
	current   int
}

// NewQuota creates a quota allowing maxPasses passes. A negative limit
// allows none.
func NewQuota(maxPasses int) *Quota {
	return &Quota{maxPasses: ir.Max(maxPasses, 0)}
}

// Check counts one pass and fails once the limit is exceeded.
func (q *Quota) Check(session string) error {
	q.current++
	if q.current > q.maxPasses {
		return &ir.Error{
			Code:    ir.ErrCodeQuota,
			Message: fmt.Sprintf("recomputation did not settle: %d passes > %d limit", q.current, q.maxPasses),
			Session: session,
		}
	}
	return nil
}

// Reset sets the pass count back to 0.
func (q *Quota) Reset() {
	q.current = 0
}

// Current returns the number of passes counted.
func (q *Quota) Current() int {
	return q.current
}

// MaxPasses returns the limit.
func (q *Quota) MaxPasses() int {
	return q.maxPasses
}
