package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/model"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"order_totals", "tags_and_drafts", "cascade"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_TraceRecordsSteps(t *testing.T) {
	scenario := loadTestScenario(t, "tags_and_drafts")
	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, len(scenario.Steps))

	for i, event := range result.Trace {
		assert.Equal(t, int64(i+1), event.Seq)
		assert.Equal(t, scenario.Steps[i].Op(), event.Op)
	}

	assert.Equal(t, "tag", result.Trace[0].Model)
	assert.Equal(t, []string{"1"}, result.Trace[0].Records)
	assert.Empty(t, result.Trace[4].Calls, "rewriting the same tags is a no-op")
	for _, event := range result.Trace[5:] {
		for _, call := range event.Calls {
			assert.Equal(t, "select", call.Op, "transient records only read")
		}
	}
	require.Len(t, result.Trace[8].Result, 1)
	assert.Equal(t, 7.0, result.Trace[8].Result[0]["total"])
}

func TestRun_FailingStepStops(t *testing.T) {
	scenario := &Scenario{
		Name:  "failing",
		Specs: []string{filepath.Join("testdata", "specs", "sales.cue")},
		Steps: []Step{
			{Create: &CreateStep{Model: "sale.order", As: "o1", Values: map[string]any{"name": "SO1"}}},
			{Write: &WriteStep{Records: []string{"o9"}, Values: map[string]any{"name": "x"}}},
			{Flush: &struct{}{}},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `steps[1] write: unknown record "o9"`)
	assert.Len(t, result.Trace, 2, "steps after a failure do not run")
}

func TestRun_ExpectErrorMismatch(t *testing.T) {
	scenario := &Scenario{
		Name:  "mismatch",
		Specs: []string{filepath.Join("testdata", "specs", "sales.cue")},
		Steps: []Step{
			{Create: &CreateStep{Model: "partner", As: "p1", Values: map[string]any{"name": "Acme"}}},
			{ExpectError: &ExpectError{Code: "DELETE_RESTRICTED", Step: &Step{Unlink: &RecordsStep{Records: []string{"p1"}}}}},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unlink succeeded, expected DELETE_RESTRICTED")
}

func TestRun_FailingAssertions(t *testing.T) {
	scenario := &Scenario{
		Name:  "assertions",
		Specs: []string{filepath.Join("testdata", "specs", "sales.cue")},
		Steps: []Step{
			{Create: &CreateStep{Model: "tag", As: "t1", Values: map[string]any{"name": "a"}}},
			{Create: &CreateStep{Model: "sale.order", As: "o1", Values: map[string]any{"name": "SO1"}}},
		},
		Assertions: []Assertion{
			{Type: AssertValue, Record: "o1", Field: "name", Equals: "SO2"},
			{Type: AssertContains, Record: "o1", Field: "tag_ids", Target: "t1"},
			{Type: AssertNotContains, Record: "o1", Field: "tag_ids", Target: "t1"},
			{Type: AssertStorageCalls, Op: "insert", Count: 5},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], `got "SO1", want "SO2"`)
	assert.Contains(t, result.Errors[1], "o1.tag_ids contains t1")
	assert.Contains(t, result.Errors[2], "5 insert calls in scenario")
}

func TestRun_AccessRules(t *testing.T) {
	scenario := &Scenario{
		Name:  "access",
		Specs: []string{filepath.Join("testdata", "specs", "sales.cue")},
		User:  "bob",
		Access: []AccessRule{
			{Model: "partner", Op: "write", Records: []int64{1}, User: "bob"},
		},
		Steps: []Step{
			{Create: &CreateStep{Model: "partner", As: "p1", Values: map[string]any{"name": "Acme"}}},
			{ExpectError: &ExpectError{Code: "ACCESS_DENIED", Step: &Step{
				Write: &WriteStep{Records: []string{"p1"}, Values: map[string]any{"name": "Other"}},
			}}},
		},
		Assertions: []Assertion{
			{Type: AssertValue, Record: "p1", Field: "name", Equals: "Acme"},
		},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "ACCESS_DENIED", result.Trace[1].Error)
}

func TestRun_WithFuncs(t *testing.T) {
	dir := t.TempDir()
	spec := filepath.Join(dir, "counter.cue")
	require.NoError(t, os.WriteFile(spec, []byte(`
model: counter: fields: {
	n:      {type: "integer"}
	double: {type: "integer", compute: "compute_double", depends: ["n"]}
}
`), 0644))

	double := func(ctx context.Context, rs model.Recordset) error {
		for _, rec := range rs.Records() {
			n, err := rec.Get(ctx, "n")
			if err != nil {
				return err
			}
			if err := rec.Assign(ctx, "double", 2*model.Int(n)); err != nil {
				return err
			}
		}
		return nil
	}
	scenario := &Scenario{
		Name:  "funcs",
		Specs: []string{spec},
		Steps: []Step{
			{Create: &CreateStep{Model: "counter", As: "c1", Values: map[string]any{"n": 4}}},
			{Read: &ReadStep{Records: []string{"c1"}, Fields: []string{"double"}, Expect: map[string]any{"double": 8}}},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err, "unbound functions fail at setup")
	assert.Contains(t, err.Error(), "compute_double")

	result, err := Run(scenario, WithFuncs("counter", model.Funcs{
		Computes: map[string]model.ComputeFunc{"compute_double": double},
	}))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestLoadRegistry_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`model: x: fields: a: {type: "one2many", comodel: "y"}`), 0644))

	_, err := LoadRegistry([]string{bad}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate specs")
	assert.Contains(t, err.Error(), "one2many requires an inverse_name")

	_, err = LoadRegistry([]string{filepath.Join(dir, "missing.cue")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read spec file")
}
