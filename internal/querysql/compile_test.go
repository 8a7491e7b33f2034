package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recfield/internal/queryir"
)

func TestCompileSelect(t *testing.T) {
	tests := []struct {
		name       string
		query      queryir.Query
		wantSQL    string
		wantParams []any
	}{
		{
			name:       "batch fetch orders by id",
			query:      queryir.Select{From: "line", Columns: []string{"id", "qty"}, Filter: queryir.ByIDs([]int64{3, 1})},
			wantSQL:    `SELECT "id", "qty" FROM "line" WHERE "id" IN (?, ?) ORDER BY "id" ASC`,
			wantParams: []any{int64(3), int64(1)},
		},
		{
			name: "reference lookup with model filter",
			query: &queryir.Select{
				From:    "attachment",
				Columns: []string{"id", "res_id"},
				Filter: queryir.And{Predicates: []queryir.Predicate{
					queryir.InInt64("res_id", []int64{7}),
					queryir.Equals{Field: "res_model", Value: "order"},
				}},
			},
			wantSQL:    `SELECT "id", "res_id" FROM "attachment" WHERE "res_id" IN (?) AND "res_model" = ? ORDER BY "id" ASC`,
			wantParams: []any{int64(7), "order"},
		},
		{
			name: "relation table",
			query: queryir.Select{
				From:    "tag_record_rel",
				Columns: []string{"tag_id", "record_id"},
				Filter:  queryir.InInt64("tag_id", []int64{1}),
				OrderBy: []string{"tag_id", "record_id"},
			},
			wantSQL:    `SELECT "tag_id", "record_id" FROM "tag_record_rel" WHERE "tag_id" IN (?) ORDER BY "tag_id" ASC, "record_id" ASC`,
			wantParams: []any{int64(1)},
		},
		{
			name:    "null check without filter params",
			query:   queryir.Select{From: "line", Columns: []string{"id"}, Filter: queryir.IsNull{Field: "order_id"}},
			wantSQL: `SELECT "id" FROM "line" WHERE "order_id" IS NULL ORDER BY "id" ASC`,
		},
	}

	c := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := c.Compile(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompileRejectsInvalid(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(queryir.Select{From: "line"})
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, `"a""b"`, Quote(`a"b`))
	assert.Equal(t, "?, ?, ?", Placeholders(3))
	assert.Equal(t, "(?, ?), (?, ?)", Tuples(2, 2))
	assert.Equal(t, "", Placeholders(0))
}
