package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recfield/internal/ir"
)

// TraceSnapshot captures the trace of a scenario execution. Storage calls
// are left out: their shape is asserted with storage_calls, the snapshot
// pins what the session observed.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Session      string       `json:"session,omitempty"`
	Trace        []TraceEvent `json:"trace"`
	Errors       []string     `json:"errors,omitempty"`
}

// NewSnapshot captures the trace of an executed scenario.
func NewSnapshot(scenario *Scenario, result *Result) TraceSnapshot {
	session := scenario.Session
	if session == "" {
		session = DefaultSession
	}
	return TraceSnapshot{
		ScenarioName: scenario.Name,
		Session:      session,
		Trace:        result.Trace,
		Errors:       result.Errors,
	}
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"op":  event.Op,
			"seq": event.Seq,
		}
		if event.Model != "" {
			eventMap["model"] = event.Model
		}
		if len(event.Records) > 0 {
			eventMap["records"] = event.Records
		}
		if len(event.Values) > 0 {
			eventMap["values"] = event.Values
		}
		if len(event.Result) > 0 {
			rows := make([]any, len(event.Result))
			for n, row := range event.Result {
				rows[n] = row
			}
			eventMap["result"] = rows
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.Session != "" {
		result["session"] = s.Session
	}
	if len(s.Errors) > 0 {
		result["errors"] = s.Errors
	}
	return result
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s *TraceSnapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the trace of an already executed scenario against
// its golden file.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	snapshot := NewSnapshot(scenario, result)
	traceJSON, err := snapshot.MarshalCanonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
