package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario: record type specs, a sequence
// of session operations, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs lists CUE model spec files, relative to the scenario file.
	Specs []string `yaml:"specs"`

	// Session is the session identity. Defaults to DefaultSession.
	Session string `yaml:"session,omitempty"`

	// User is the acting user. Empty runs as superuser.
	User string `yaml:"user,omitempty"`

	// Access lists deny rules applied to the acting user.
	Access []AccessRule `yaml:"access,omitempty"`

	// Steps run in order in one session.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultSession is the session identity of scenarios that name none.
const DefaultSession = "scenario"

// AccessRule denies an operation on records of a model. Records are
// storage ids, which are deterministic in a fresh database.
type AccessRule struct {
	Model   string  `yaml:"model"`
	Op      string  `yaml:"op"`
	Records []int64 `yaml:"records,omitempty"`
	User    string  `yaml:"user,omitempty"`
}

// Step is one session operation. Exactly one field is set.
type Step struct {
	Create      *CreateStep  `yaml:"create,omitempty"`
	New         *NewStep     `yaml:"new,omitempty"`
	Write       *WriteStep   `yaml:"write,omitempty"`
	Unlink      *RecordsStep `yaml:"unlink,omitempty"`
	Read        *ReadStep    `yaml:"read,omitempty"`
	Recompute   *FieldsStep  `yaml:"recompute,omitempty"`
	Flush       *struct{}    `yaml:"flush,omitempty"`
	Invalidate  *struct{}    `yaml:"invalidate,omitempty"`
	ExpectError *ExpectError `yaml:"expect_error,omitempty"`
}

// Step operation names, as written in scenario files and traces.
const (
	OpCreate      = "create"
	OpNew         = "new"
	OpWrite       = "write"
	OpUnlink      = "unlink"
	OpRead        = "read"
	OpRecompute   = "recompute"
	OpFlush       = "flush"
	OpInvalidate  = "invalidate"
	OpExpectError = "expect_error"
)

// Op returns the operation name of the step, or "" when no operation or
// more than one is set.
func (s Step) Op() string {
	var ops []string
	if s.Create != nil {
		ops = append(ops, OpCreate)
	}
	if s.New != nil {
		ops = append(ops, OpNew)
	}
	if s.Write != nil {
		ops = append(ops, OpWrite)
	}
	if s.Unlink != nil {
		ops = append(ops, OpUnlink)
	}
	if s.Read != nil {
		ops = append(ops, OpRead)
	}
	if s.Recompute != nil {
		ops = append(ops, OpRecompute)
	}
	if s.Flush != nil {
		ops = append(ops, OpFlush)
	}
	if s.Invalidate != nil {
		ops = append(ops, OpInvalidate)
	}
	if s.ExpectError != nil {
		ops = append(ops, OpExpectError)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// CreateStep creates a persisted record and binds it to As.
type CreateStep struct {
	Model  string         `yaml:"model"`
	As     string         `yaml:"as,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// NewStep creates a transient record, optionally standing in for the
// persisted record bound to Origin.
type NewStep struct {
	Model  string         `yaml:"model"`
	As     string         `yaml:"as,omitempty"`
	Origin string         `yaml:"origin,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// RecordsStep names bound records of one model.
type RecordsStep struct {
	Records []string `yaml:"records"`
}

// WriteStep writes values on bound records.
type WriteStep struct {
	Records []string       `yaml:"records"`
	Values  map[string]any `yaml:"values"`
}

// ReadStep reads attributes of bound records. Expect, when set, is
// compared with the read values of the first record.
type ReadStep struct {
	Records []string       `yaml:"records"`
	Fields  []string       `yaml:"fields"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// FieldsStep names attributes as "model.field". An empty list means every
// pending attribute.
type FieldsStep struct {
	Fields []string `yaml:"fields,omitempty"`
}

// ExpectError runs Step and expects it to fail with Code.
type ExpectError struct {
	Code string `yaml:"code"`
	Step *Step  `yaml:"step"`
}

// Assertion validates the session state or the trace after the last step.
type Assertion struct {
	// Type is one of value, contains, not_contains, storage_calls.
	Type string `yaml:"type"`

	// Record is a bound record (value, contains, not_contains).
	Record string `yaml:"record,omitempty"`

	// Field is the attribute to read (value, contains, not_contains).
	Field string `yaml:"field,omitempty"`

	// Equals is the expected read value (value).
	Equals any `yaml:"equals,omitempty"`

	// Target is the bound record expected in a collection (contains,
	// not_contains).
	Target string `yaml:"target,omitempty"`

	// Op is the storage operation counted (storage_calls).
	Op string `yaml:"op,omitempty"`

	// Table restricts counted calls to one table (storage_calls).
	Table string `yaml:"table,omitempty"`

	// Step restricts counted calls to one step, 1-based (storage_calls).
	Step int `yaml:"step,omitempty"`

	// Count is the expected number of calls (storage_calls).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertValue        = "value"
	AssertContains     = "contains"
	AssertNotContains  = "not_contains"
	AssertStorageCalls = "storage_calls"
)

// LoadScenario reads and parses a scenario YAML file. Spec paths are
// resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving spec paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// unknown fields are typos, not extensions
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i, specPath := range scenario.Specs {
		if !filepath.IsAbs(specPath) && basePath != "" {
			scenario.Specs[i] = filepath.Join(basePath, specPath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Specs) == 0 {
		return fmt.Errorf("specs list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, specPath := range s.Specs {
		if _, err := os.Stat(specPath); os.IsNotExist(err) {
			return fmt.Errorf("spec file not found: %s", specPath)
		}
	}

	for i, rule := range s.Access {
		if rule.Model == "" || rule.Op == "" {
			return fmt.Errorf("access[%d]: model and op are required", i)
		}
	}

	for i := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), &s.Steps[i]); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Steps)); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(path string, step *Step) error {
	switch step.Op() {
	case "":
		return fmt.Errorf("%s: exactly one operation is required", path)
	case OpCreate:
		if step.Create.Model == "" {
			return fmt.Errorf("%s.create: model is required", path)
		}
	case OpNew:
		if step.New.Model == "" {
			return fmt.Errorf("%s.new: model is required", path)
		}
	case OpWrite:
		if len(step.Write.Records) == 0 {
			return fmt.Errorf("%s.write: records are required", path)
		}
		if len(step.Write.Values) == 0 {
			return fmt.Errorf("%s.write: values are required", path)
		}
	case OpUnlink:
		if len(step.Unlink.Records) == 0 {
			return fmt.Errorf("%s.unlink: records are required", path)
		}
	case OpRead:
		if len(step.Read.Records) == 0 {
			return fmt.Errorf("%s.read: records are required", path)
		}
		if len(step.Read.Fields) == 0 {
			return fmt.Errorf("%s.read: fields are required", path)
		}
	case OpExpectError:
		if step.ExpectError.Code == "" {
			return fmt.Errorf("%s.expect_error: code is required", path)
		}
		if step.ExpectError.Step == nil {
			return fmt.Errorf("%s.expect_error: step is required", path)
		}
		if step.ExpectError.Step.ExpectError != nil {
			return fmt.Errorf("%s.expect_error: steps cannot nest", path)
		}
		return validateStep(path+".expect_error.step", step.ExpectError.Step)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertValue:
		if a.Record == "" || a.Field == "" {
			return fmt.Errorf("assertions[%d]: record and field are required for value", index)
		}
	case AssertContains, AssertNotContains:
		if a.Record == "" || a.Field == "" || a.Target == "" {
			return fmt.Errorf("assertions[%d]: record, field and target are required for %s", index, a.Type)
		}
	case AssertStorageCalls:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for storage_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for storage_calls", index)
		}
		if a.Step < 0 || a.Step > steps {
			return fmt.Errorf("assertions[%d]: step %d is out of range", index, a.Step)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
