package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/recfield/internal/queryir"
	"github.com/roach88/recfield/internal/store"
)

// Storage operations recorded by RecordingStorage.
const (
	OpSelect      = "select"
	OpInsert      = "insert"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpDeleteWhere = "delete_where"
	OpInsertPairs = "insert_pairs"
	OpDeletePairs = "delete_pairs"
)

// Call is one recorded storage call.
type Call struct {
	Op    string       `json:"op" yaml:"op"`
	Table string       `json:"table" yaml:"table"`
	Rows  int          `json:"rows" yaml:"rows"`
	Pairs []store.Pair `json:"pairs,omitempty" yaml:"pairs,omitempty"`
}

// String renders the call as "op table rows".
func (c Call) String() string {
	if len(c.Pairs) > 0 {
		return fmt.Sprintf("%s %s %v", c.Op, c.Table, c.Pairs)
	}
	return fmt.Sprintf("%s %s %d", c.Op, c.Table, c.Rows)
}

// RecordingStorage wraps a store.Storage and records every call, so tests
// can assert how many round trips an operation costs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type RecordingStorage struct {
	inner store.Storage

	mu    sync.Mutex
	calls []Call
}

var _ store.Storage = (*RecordingStorage)(nil)

// NewRecordingStorage wraps inner.
func NewRecordingStorage(inner store.Storage) *RecordingStorage {
	return &RecordingStorage{inner: inner}
}

func (r *RecordingStorage) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the recorded calls, in order. When ops are
// given only calls of those operations are returned.
func (r *RecordingStorage) Calls(ops ...string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0, len(r.calls))
	for _, c := range r.calls {
		if len(ops) == 0 || slices.Contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of recorded calls of op.
func (r *RecordingStorage) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Len returns the number of recorded calls.
func (r *RecordingStorage) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset forgets the recorded calls.
func (r *RecordingStorage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Select implements store.Storage.
func (r *RecordingStorage) Select(ctx context.Context, q queryir.Select) ([]store.Row, error) {
	rows, err := r.inner.Select(ctx, q)
	r.record(Call{Op: OpSelect, Table: q.From, Rows: len(rows)})
	return rows, err
}

// Insert implements store.Storage.
func (r *RecordingStorage) Insert(ctx context.Context, table string, rows []map[string]any) ([]int64, error) {
	r.record(Call{Op: OpInsert, Table: table, Rows: len(rows)})
	return r.inner.Insert(ctx, table, rows)
}

// Update implements store.Storage.
func (r *RecordingStorage) Update(ctx context.Context, table string, writes []store.Write) error {
	r.record(Call{Op: OpUpdate, Table: table, Rows: len(writes)})
	return r.inner.Update(ctx, table, writes)
}

// Delete implements store.Storage.
func (r *RecordingStorage) Delete(ctx context.Context, table string, ids []int64) error {
	r.record(Call{Op: OpDelete, Table: table, Rows: len(ids)})
	return r.inner.Delete(ctx, table, ids)
}

// DeleteWhere implements store.Storage.
func (r *RecordingStorage) DeleteWhere(ctx context.Context, table, column string, values []int64) error {
	r.record(Call{Op: OpDeleteWhere, Table: table, Rows: len(values)})
	return r.inner.DeleteWhere(ctx, table, column, values)
}

// InsertPairs implements store.Storage.
func (r *RecordingStorage) InsertPairs(ctx context.Context, table, column1, column2 string, pairs []store.Pair) error {
	r.record(Call{Op: OpInsertPairs, Table: table, Rows: len(pairs), Pairs: append([]store.Pair(nil), pairs...)})
	return r.inner.InsertPairs(ctx, table, column1, column2, pairs)
}

// DeletePairs implements store.Storage.
func (r *RecordingStorage) DeletePairs(ctx context.Context, table, column1, column2 string, pairs []store.Pair) error {
	r.record(Call{Op: OpDeletePairs, Table: table, Rows: len(pairs), Pairs: append([]store.Pair(nil), pairs...)})
	return r.inner.DeletePairs(ctx, table, column1, column2, pairs)
}
