package store

import (
	"context"

	"github.com/roach88/recfield/internal/queryir"
)

// Row is one fetched row keyed by column name.
//
// Values are driver values: int64, float64, string, []byte or nil.
type Row map[string]any

// ID returns the row's id column.
func (r Row) ID() int64 {
	id, _ := r["id"].(int64)
	return id
}

// Write is the column update of a single record.
type Write struct {
	ID     int64
	Values map[string]any
}

// Pair is one row of a relation table: (column1, column2).
type Pair [2]int64

// Storage is the persistence surface used by the attribute runtime.
type Storage interface {
	// Select reads the rows matching q.
	Select(ctx context.Context, q queryir.Select) ([]Row, error)

	// Insert creates one row per values map and returns the allocated ids
	// in order. An empty map inserts a row of defaults.
	Insert(ctx context.Context, table string, rows []map[string]any) ([]int64, error)

	// Update writes column values, one statement per record, in a single
	// transaction.
	Update(ctx context.Context, table string, writes []Write) error

	// Delete removes rows by id.
	Delete(ctx context.Context, table string, ids []int64) error

	// DeleteWhere removes the rows whose column holds one of values.
	DeleteWhere(ctx context.Context, table, column string, values []int64) error

	// InsertPairs adds relation rows in one statement. Existing pairs are
	// left untouched.
	InsertPairs(ctx context.Context, table, column1, column2 string, pairs []Pair) error

	// DeletePairs removes relation rows in one statement.
	DeletePairs(ctx context.Context, table, column1, column2 string, pairs []Pair) error
}

var _ Storage = (*Store)(nil)
