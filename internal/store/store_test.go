package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/queryir"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestEnsureSchema_CreatesTables(t *testing.T) {
	s := createSchemaStore(t)
	ctx := context.Background()

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, tables, 3)

	assert.Equal(t, "line", tables[0].Name)
	assert.False(t, tables[0].Relation)
	assert.Equal(t, []Column{
		{Name: "name", Type: "VARCHAR"},
		{Name: "qty", Type: "REAL"},
		{Name: "order_id", Type: "INTEGER"},
		{Name: "payload", Type: "BLOB"},
	}, tables[0].Columns)

	assert.Equal(t, "line_tag_rel", tables[1].Name)
	assert.True(t, tables[1].Relation)
}

func TestEnsureSchema_AddsColumns(t *testing.T) {
	s := createSchemaStore(t)
	ctx := context.Background()

	extended := testTables()
	extended[1].Columns = append(extended[1].Columns, Column{Name: "color", Type: "INTEGER"})
	require.NoError(t, s.EnsureSchema(ctx, extended))

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tag", tables[2].Name)
	assert.Len(t, tables[2].Columns, 2)
}

func TestSchemaHash(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	empty, err := s.SchemaHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.EnsureSchema(ctx, testTables()))
	recorded, err := s.SchemaHash(ctx)
	require.NoError(t, err)

	reversed := testTables()
	reversed[0], reversed[2] = reversed[2], reversed[0]
	computed, err := SchemaHash(reversed)
	require.NoError(t, err)
	assert.Equal(t, recorded, computed)

	changed := testTables()
	changed[1].Columns[0].Type = "TEXT"
	other, err := SchemaHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, recorded, other)
}

func TestInsertSelectUpdateDelete(t *testing.T) {
	s := createSchemaStore(t)
	ctx := context.Background()

	ids, err := s.Insert(ctx, "line", []map[string]any{
		{"name": "bolt", "qty": 2.5, "order_id": int64(7)},
		{},
		{"name": "nut", "payload": []byte{0, 1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	rows, err := s.Select(ctx, queryir.Select{
		From:    "line",
		Columns: []string{"id", "name", "qty", "order_id", "payload"},
		Filter:  queryir.ByIDs([]int64{3, 1}),
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID())
	assert.Equal(t, "bolt", rows[0]["name"])
	assert.Equal(t, 2.5, rows[0]["qty"])
	assert.Equal(t, int64(7), rows[0]["order_id"])
	assert.Nil(t, rows[0]["payload"])
	assert.Equal(t, []byte{0, 1, 2}, rows[1]["payload"])

	require.NoError(t, s.Update(ctx, "line", []Write{
		{ID: 1, Values: map[string]any{"qty": 4.0, "order_id": nil}},
		{ID: 2, Values: map[string]any{"name": "washer"}},
	}))
	rows, err = s.Select(ctx, queryir.Select{
		From:    "line",
		Columns: []string{"id", "name", "qty", "order_id"},
		Filter:  queryir.IsNull{Field: "order_id"},
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, 4.0, rows[0]["qty"])
	assert.Equal(t, "washer", rows[1]["name"])

	require.NoError(t, s.Delete(ctx, "line", []int64{1, 2}))
	rows, err = s.Select(ctx, queryir.Select{From: "line", Columns: []string{"id"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].ID())
}

func TestSelect_EmptyResultIsNotNil(t *testing.T) {
	s := createSchemaStore(t)
	rows, err := s.Select(context.Background(), queryir.Select{
		From:    "line",
		Columns: []string{"id"},
		Filter:  queryir.ByIDs([]int64{99}),
	})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestPairs(t *testing.T) {
	s := createSchemaStore(t)
	ctx := context.Background()

	read := func() []Pair {
		rows, err := s.Select(ctx, queryir.Select{
			From:    "line_tag_rel",
			Columns: []string{"line_id", "tag_id"},
			OrderBy: []string{"line_id", "tag_id"},
		})
		require.NoError(t, err)
		var pairs []Pair
		for _, r := range rows {
			pairs = append(pairs, Pair{r["line_id"].(int64), r["tag_id"].(int64)})
		}
		return pairs
	}

	require.NoError(t, s.InsertPairs(ctx, "line_tag_rel", "line_id", "tag_id", []Pair{{1, 1}, {1, 2}, {1, 3}}))
	// existing pairs are ignored
	require.NoError(t, s.InsertPairs(ctx, "line_tag_rel", "line_id", "tag_id", []Pair{{1, 3}, {2, 3}}))
	assert.Equal(t, []Pair{{1, 1}, {1, 2}, {1, 3}, {2, 3}}, read())

	require.NoError(t, s.DeletePairs(ctx, "line_tag_rel", "line_id", "tag_id", []Pair{{1, 1}, {2, 3}, {5, 5}}))
	assert.Equal(t, []Pair{{1, 2}, {1, 3}}, read())

	require.NoError(t, s.DeleteWhere(ctx, "line_tag_rel", "tag_id", []int64{3}))
	assert.Equal(t, []Pair{{1, 2}}, read())
}

func TestRejectsInvalidIdentifiers(t *testing.T) {
	s := createSchemaStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "line; --", []map[string]any{{}})
	assert.Error(t, err)

	_, err = s.Insert(ctx, "line", []map[string]any{{"bad col": 1}})
	assert.Error(t, err)

	err = s.InsertPairs(ctx, "line_tag_rel", "line_id", "tag id", []Pair{{1, 1}})
	assert.Error(t, err)
}
