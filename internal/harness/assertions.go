package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/recfield/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s %v", i+1, event.Op, event.Model, event.Records)
		if event.Error != "" {
			fmt.Fprintf(&buf, " error=%s", event.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// evaluateAssertions checks every assertion against the session state and
// the trace, returning one message per failed assertion.
func evaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, h *harness) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertValue:
			err = h.assertValue(ctx, result.Trace, a)
		case AssertContains:
			err = h.assertContains(ctx, result.Trace, a, true)
		case AssertNotContains:
			err = h.assertContains(ctx, result.Trace, a, false)
		case AssertStorageCalls:
			err = assertStorageCalls(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertValue reads the attribute in its external representation.
func (h *harness) assertValue(ctx context.Context, trace []TraceEvent, a Assertion) error {
	rows, err := h.readOne(ctx, a.Record, a.Field)
	if err != nil {
		return err
	}
	actual := rows[a.Field]
	if err := h.compare(actual, a.Equals); err != nil {
		return &AssertionError{
			Type:     AssertValue,
			Expected: fmt.Sprintf("%s.%s = %v", a.Record, a.Field, a.Equals),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	return nil
}

// assertContains checks membership of Target in a collection attribute.
func (h *harness) assertContains(ctx context.Context, trace []TraceEvent, a Assertion, want bool) error {
	modelName, ids, err := h.bound.records([]string{a.Record})
	if err != nil {
		return err
	}
	target, err := h.bound.ref(a.Target)
	if err != nil {
		return err
	}
	rs, err := h.env.Browse(modelName, ids...)
	if err != nil {
		return err
	}
	v, err := rs.Get(ctx, a.Field)
	if err != nil {
		return err
	}
	members, ok := v.(ir.IDs)
	if !ok {
		return fmt.Errorf("%s.%s is not a collection", a.Record, a.Field)
	}
	if members.Contains(target) == want {
		return nil
	}
	expected := fmt.Sprintf("%s.%s contains %s", a.Record, a.Field, a.Target)
	if !want {
		expected = fmt.Sprintf("%s.%s does not contain %s", a.Record, a.Field, a.Target)
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: expected,
		Actual:   fmt.Sprintf("%v", members.Strings()),
		Trace:    trace,
	}
}

// assertStorageCalls counts recorded storage calls of one operation,
// optionally for one table or one step.
func assertStorageCalls(trace []TraceEvent, a Assertion) error {
	count := 0
	for i, event := range trace {
		if a.Step > 0 && i+1 != a.Step {
			continue
		}
		for _, call := range event.Calls {
			if call.Op != a.Op {
				continue
			}
			if a.Table != "" && call.Table != a.Table {
				continue
			}
			count++
		}
	}
	if count == a.Count {
		return nil
	}

	scope := "scenario"
	if a.Step > 0 {
		scope = fmt.Sprintf("step %d", a.Step)
	}
	target := a.Op
	if a.Table != "" {
		target += " on " + a.Table
	}
	return &AssertionError{
		Type:     AssertStorageCalls,
		Expected: fmt.Sprintf("%d %s calls in %s", a.Count, target, scope),
		Actual:   fmt.Sprintf("%d calls", count),
		Trace:    trace,
	}
}

func (h *harness) readOne(ctx context.Context, record, name string) (map[string]any, error) {
	modelName, ids, err := h.bound.records([]string{record})
	if err != nil {
		return nil, err
	}
	rs, err := h.env.Browse(modelName, ids...)
	if err != nil {
		return nil, err
	}
	rows, err := rs.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// compare matches a read value against a scenario value. Both sides are
// compared in canonical JSON, after resolving record names. A single
// record name matches a reference pair by id.
func (h *harness) compare(actual, expected any) error {
	if pair, ok := actual.(ir.Pair); ok {
		if s, ok := expected.(string); ok && strings.HasPrefix(s, refPrefix) {
			id, err := h.bound.ref(s)
			if err != nil {
				return err
			}
			if pair.ID != id {
				return fmt.Errorf("got %s, want %s", pair.ID, id)
			}
			return nil
		}
	}
	want, err := h.bound.resolve(expected)
	if err != nil {
		return err
	}
	if ids, ok := actual.(ir.IDs); ok {
		if list, ok := want.([]any); ok {
			actual, want = ids.Strings(), refStrings(list)
		}
	}
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return err
	}
	w, err := ir.MarshalCanonical(want)
	if err != nil {
		return err
	}
	if string(a) != string(w) {
		return fmt.Errorf("got %s, want %s", a, w)
	}
	return nil
}

// refStrings renders resolved list items the way IDs.Strings does.
func refStrings(items []any) []string {
	out := make([]string, len(items))
	for n, item := range items {
		if id, ok := item.(ir.ID); ok {
			out[n] = id.String()
			continue
		}
		out[n] = fmt.Sprint(item)
	}
	return out
}
