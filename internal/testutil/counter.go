package testutil

import (
	"context"
	"sync"

	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/model"
)

// ComputeCounter counts the invocations of derivation functions and the
// records they were called on, for memoization assertions.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ComputeCounter struct {
	mu      sync.Mutex
	calls   map[string]int
	records map[string][]ir.IDs
}

// NewComputeCounter creates an empty counter.
func NewComputeCounter() *ComputeCounter {
	return &ComputeCounter{
		calls:   make(map[string]int),
		records: make(map[string][]ir.IDs),
	}
}

// Wrap returns fn counting its invocations under name.
func (c *ComputeCounter) Wrap(name string, fn model.ComputeFunc) model.ComputeFunc {
	return func(ctx context.Context, rs model.Recordset) error {
		c.mu.Lock()
		c.calls[name]++
		if rs != nil {
			c.records[name] = append(c.records[name], append(ir.IDs(nil), rs.IDs()...))
		}
		c.mu.Unlock()
		return fn(ctx, rs)
	}
}

// Calls returns how many times the function name was invoked.
func (c *ComputeCounter) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Batches returns the record batches name was invoked on, in order.
func (c *ComputeCounter) Batches(name string) []ir.IDs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ir.IDs(nil), c.records[name]...)
}

// Reset zeroes every counter.
func (c *ComputeCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.calls)
	clear(c.records)
}
