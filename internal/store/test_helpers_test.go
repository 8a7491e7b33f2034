package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTables() []Table {
	return []Table{
		{Name: "line", Columns: []Column{
			{Name: "name", Type: "VARCHAR"},
			{Name: "qty", Type: "REAL"},
			{Name: "order_id", Type: "INTEGER", Index: true},
			{Name: "payload", Type: "BLOB"},
		}},
		{Name: "tag", Columns: []Column{{Name: "name", Type: "VARCHAR"}}},
		RelationTable("line_tag_rel", "line_id", "tag_id"),
	}
}

// createSchemaStore creates a store with the test tables.
func createSchemaStore(t *testing.T) *Store {
	t.Helper()
	s := createTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background(), testTables()))
	return s
}
