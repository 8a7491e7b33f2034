package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/store"
)

func TestSchemaText(t *testing.T) {
	out, err := execute(t, NewSchemaCommand(&RootOptions{Format: "text"}), testSpecsDir)
	require.NoError(t, err)

	assert.Contains(t, out, "table project\n")
	assert.Contains(t, out, "  message_count INTEGER\n", "mixin attributes are stored")
	assert.Contains(t, out, "  hours REAL\n")
	assert.Contains(t, out, "  project_id INTEGER (indexed)\n")
	assert.Contains(t, out, "relation label_task_rel\n")
	assert.NotContains(t, out, "task_count", "non-stored attributes have no column")
	assert.Contains(t, out, "Schema hash: ")
	assert.NotContains(t, out, "✓")
}

func TestSchemaJSON(t *testing.T) {
	out, err := execute(t, NewSchemaCommand(&RootOptions{Format: "json"}), testSpecsDir)
	require.NoError(t, err)

	var resp struct {
		Data SchemaResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	var names []string
	for _, table := range resp.Data.Tables {
		names = append(names, table.Name)
	}
	assert.Equal(t, []string{"label", "label_task_rel", "project", "task"}, names)
	assert.True(t, resp.Data.Tables[1].Relation)

	reg, _, err := loadRegistry(testSpecsDir, nil)
	require.NoError(t, err)
	hash, err := store.SchemaHash(reg.Tables())
	require.NoError(t, err)
	assert.Equal(t, hash, resp.Data.Hash)
}

func TestSchemaApply(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data.db")

	out, err := execute(t, NewSchemaCommand(&RootOptions{Format: "text"}), testSpecsDir, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Created schema in "+dbPath)

	out, err = execute(t, NewSchemaCommand(&RootOptions{Format: "text"}), testSpecsDir, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ "+dbPath+" is up to date")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	tables, err := st.Tables(context.Background())
	require.NoError(t, err)
	var names []string
	for _, table := range tables {
		names = append(names, table.Name)
	}
	assert.Subset(t, names, []string{"label", "label_task_rel", "project", "task"})
}

func TestSchemaApplyUpdatesChangedSpecs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data.db")
	dir := writeSpecs(t, map[string]string{"a.cue": `model: note: fields: title: {type: "char"}`})

	_, err := execute(t, NewSchemaCommand(&RootOptions{Format: "text"}), dir, "--db", dbPath)
	require.NoError(t, err)

	dir = writeSpecs(t, map[string]string{"a.cue": `model: note: fields: {
	title: {type: "char"}
	body:  {type: "text"}
}`})
	out, err := execute(t, NewSchemaCommand(&RootOptions{Format: "json"}), dir, "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Data SchemaResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp.Data.Previous)
	assert.NotEqual(t, resp.Data.Previous, resp.Data.Hash)
	assert.Equal(t, dbPath, resp.Data.Database)
}

func TestSchemaBadSpecs(t *testing.T) {
	dir := writeSpecs(t, map[string]string{"a.cue": `model: a: fields: b_id: {type: "many2one", comodel: "nowhere"}`})

	out, err := execute(t, NewSchemaCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeSetupFailed+"]")
}
