package harness

import "github.com/roach88/recfield/internal/testutil"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64            `json:"seq"`
	Op      string           `json:"op"`
	Model   string           `json:"model,omitempty"`
	Records []string         `json:"records,omitempty"`
	Values  map[string]any   `json:"values,omitempty"`
	Result  []map[string]any `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`

	// Calls are the storage calls the step issued. They are asserted with
	// storage_calls and left out of golden snapshots.
	Calls []testutil.Call `json:"-"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step ran and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per executed step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
