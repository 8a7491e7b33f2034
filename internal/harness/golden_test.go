package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/ir"
)

func TestRunWithGolden_OrderTotals(t *testing.T) {
	// regenerate with: go test ./internal/harness -run TestRunWithGolden -update
	result, err := RunWithGolden(t, loadTestScenario(t, "order_totals"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestTraceSnapshot_Canonical(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "snap",
		Session:      "s1",
		Trace: []TraceEvent{
			{Seq: 1, Op: OpCreate, Model: "tag", Records: []string{"1"}, Values: map[string]any{"name": "b", "color": 2}},
			{Seq: 2, Op: OpRead, Model: "tag", Records: []string{"1"}, Result: []map[string]any{{"id": ir.NewID(1), "name": "b"}}},
			{Seq: 3, Op: OpFlush},
		},
	}
	data, err := snapshot.MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"snap","session":"s1","trace":[`+
			`{"model":"tag","op":"create","records":["1"],"seq":1,"values":{"color":2,"name":"b"}},`+
			`{"model":"tag","op":"read","records":["1"],"result":[{"id":1,"name":"b"}],"seq":2},`+
			`{"op":"flush","seq":3}]}`,
		string(data))
}

func TestTraceSnapshot_Deterministic(t *testing.T) {
	scenario := loadTestScenario(t, "tags_and_drafts")
	var outputs []string
	for i := 0; i < 3; i++ {
		result, err := Run(scenario)
		require.NoError(t, err)
		snapshot := TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}
		data, err := snapshot.MarshalCanonical()
		require.NoError(t, err)
		outputs = append(outputs, string(data))
	}
	assert.Equal(t, outputs[0], outputs[1])
	assert.Equal(t, outputs[0], outputs[2])
}
