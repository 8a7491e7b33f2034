package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/model"
)

var (
	testSpecsDir     = filepath.Join("testdata", "specs")
	testScenariosDir = filepath.Join("testdata", "scenarios")
)

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeSpecs writes CUE files into a fresh directory.
func writeSpecs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
	return dir
}

// modelDecl declares a record type with char attributes.
func modelDecl(name string, fields ...string) model.Decl {
	d := model.Decl{Name: name}
	for _, f := range fields {
		d.Fields = append(d.Fields, model.FieldDecl{Name: f, Decl: field.Decl{Type: field.Char}})
	}
	return d
}
