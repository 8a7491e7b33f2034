package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/compiler"
)

func TestCompileValidSpecs(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), testSpecsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Compiled 3 model(s), 1 mixin(s), 1 extension(s)")
	assert.Contains(t, out, "mixin mail.thread: 1 field")
	assert.Contains(t, out, "model project: 4 fields, inherits [mail.thread]")
	assert.Contains(t, out, "extend task: 1 field")
}

func TestCompileValidSpecsJSON(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), testSpecsDir)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Specs, 5)

	// registration order: mixins, models, extensions
	assert.Equal(t, compiler.KindMixin, resp.Data.Specs[0].Kind)
	assert.Equal(t, compiler.KindExtension, resp.Data.Specs[4].Kind)
	assert.Equal(t, "task", resp.Data.Specs[4].Decl.Name)
}

func TestCompileOutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "compiled.json")

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), testSpecsDir, "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote declarations to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Len(t, result.Specs, 5)
}

func TestCompileNonExistentDirectory(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), "/nonexistent/directory/path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompileEmptyDirectory(t *testing.T) {
	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
	assert.Contains(t, out, "no CUE files found")
}

func TestCompileNothingDeclared(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"empty.cue": "other: 1\n"})

	_, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoModels)
}

func TestCompileCollectsAllErrors(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `
model: a: fields: x: {type: "char", colour: "red"}
model: b: rec_name: "name"
`})

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "compilation failed with 2 error(s)")
	assert.Contains(t, out, "✗ Compilation failed")
	assert.Contains(t, out, ErrCodeUnknownKey+`: unknown key "colour"`)
	assert.Contains(t, out, ErrCodeNoFields+`: model "b" declares no fields`)
}

func TestCompileErrorsJSON(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"bad.cue": `model: a: fields: x: {type: "blob"}`})

	out, err := execute(t, NewCompileCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidField, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, `unknown field type "blob"`)
}

func TestCalculateStats(t *testing.T) {
	stats := calculateStats(&CompilationResult{Specs: []compiler.ModelSpec{
		{Kind: compiler.KindModel, Decl: modelDecl("a", "x", "y")},
		{Kind: compiler.KindModel, Decl: modelDecl("b", "z")},
		{Kind: compiler.KindMixin, Decl: modelDecl("m", "w")},
		{Kind: compiler.KindExtension, Decl: modelDecl("a")},
	}})
	assert.Equal(t, CompilationStats{ModelCount: 2, MixinCount: 1, ExtensionCount: 1, TotalFields: 4}, stats)
}

func TestMapCompileErrorToCode(t *testing.T) {
	tests := []struct {
		err  compiler.CompileError
		want string
	}{
		{compiler.CompileError{Field: "fields", Message: "declares no fields"}, ErrCodeNoFields},
		{compiler.CompileError{Field: "cue", Message: "conflicting values"}, ErrCodeBuildFailed},
		{compiler.CompileError{Field: "a.x.colour", Message: `unknown key "colour"`}, ErrCodeUnknownKey},
		{compiler.CompileError{Field: "a.x", Message: "selection item has no value"}, ErrCodeBadSelection},
		{compiler.CompileError{Field: "a.x.type", Message: "unknown field type"}, ErrCodeInvalidField},
		{compiler.CompileError{Field: "a.x", Message: "something else"}, ErrCodeGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MapCompileErrorToCode(&tt.err), tt.err.Message)
	}
}
