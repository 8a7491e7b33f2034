package store

import (
	"context"
	"fmt"

	"github.com/roach88/recfield/internal/queryir"
)

// Select reads the rows matching q, ordered by q.OrderBy or id.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Select(ctx context.Context, q queryir.Select) ([]Row, error) {
	sqlText, params, err := s.compiler.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", q.From, err)
	}
	s.logger.Debug("select", "table", q.From, "sql", sqlText, "params", len(params))

	rows, err := s.db.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", q.From, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select from %s: columns: %w", q.From, err)
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for n := range values {
			dest[n] = &values[n]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("select from %s: scan: %w", q.From, err)
		}
		row := make(Row, len(columns))
		for n, col := range columns {
			row[col] = values[n]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: iterate: %w", q.From, err)
	}
	return result, nil
}
