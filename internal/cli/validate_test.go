package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/compiler"
)

func TestValidateValidSpecs(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), testSpecsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All specs valid (3 model(s))")
	assert.NotContains(t, out, "warning")
}

func TestValidateValidSpecsJSON(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), testSpecsDir)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Models)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/specs")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeNotFound+"]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}

func TestValidateDeclarationErrors(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `
model: a: fields: {
	b_ids: {type: "one2many", comodel: "b"}
	kind:  {type: "selection"}
}
`})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrInverseNameMissing+": a.b_ids")
	assert.Contains(t, out, compiler.ErrSelectionEmpty+": a.kind")
}

func TestValidateDeclarationErrorsJSON(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `model: a: fields: b_id: {type: "many2one"}`})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.ErrComodelMissing, resp.Error.Code)
}

func TestValidateCompileErrorsAreListed(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `model: a: fields: x: {type: "char", colour: "red"}`})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeUnknownKey+": load: unknown key")
}

func TestValidateSetupErrors(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `model: a: fields: b_id: {type: "many2one", comodel: "nowhere"}`})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeSetupFailed+": setup:")
	assert.Contains(t, out, "nowhere")
}

func TestValidateReportsCycles(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"cycle.cue": `
model: a: fields: {
	k: {type: "float"}
	x: {type: "float", compute: "product:y,k"}
	y: {type: "float", compute: "product:x,k"}
}
`})

	out, err := execute(t, NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err, "cycles are warnings")
	assert.Contains(t, out, "✓ All specs valid (1 model(s))")
	assert.Contains(t, out, "warning: fields depend on each other")
	assert.Contains(t, out, "a.x")
	assert.Contains(t, out, "a.y")
}

func TestValidateVerboseOutput(t *testing.T) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json", Verbose: true})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{testSpecsDir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, stderr.String(), "Found 2 CUE file(s)")
	assert.Contains(t, stderr.String(), "Validating model: project")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp), "verbose logs stay out of JSON output")
}

func TestValidateSpecsDir(t *testing.T) {
	quiet := &OutputFormatter{Format: "text", Writer: io.Discard}

	result, err := ValidateSpecsDir(testSpecsDir, quiet)
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = ValidateSpecsDir("/nonexistent", quiet)
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}
