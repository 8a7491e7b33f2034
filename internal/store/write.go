package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/recfield/internal/queryir"
	"github.com/roach88/recfield/internal/querysql"
)

// Insert creates rows and returns their ids in order.
func (s *Store) Insert(ctx context.Context, table string, rows []map[string]any) ([]int64, error) {
	if err := checkIdents(table); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	ids := make([]int64, 0, len(rows))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, values := range rows {
			columns := sortedColumns(values)
			if err := checkIdents(columns...); err != nil {
				return err
			}
			var stmt string
			if len(columns) == 0 {
				stmt = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", querysql.Quote(table))
			} else {
				stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
					querysql.Quote(table), querysql.QuoteList(columns), querysql.Placeholders(len(columns)))
			}
			res, err := tx.ExecContext(ctx, stmt, columnArgs(values, columns)...)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	s.logger.Debug("insert", "table", table, "rows", len(ids))
	return ids, nil
}

// Update writes column values of several records in one transaction.
func (s *Store) Update(ctx context.Context, table string, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := checkIdents(table); err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, w := range writes {
			columns := sortedColumns(w.Values)
			if len(columns) == 0 {
				continue
			}
			if err := checkIdents(columns...); err != nil {
				return err
			}
			sets := make([]string, len(columns))
			for n, col := range columns {
				sets[n] = querysql.Quote(col) + " = ?"
			}
			stmt := fmt.Sprintf("UPDATE %s SET %s WHERE \"id\" = ?", querysql.Quote(table), strings.Join(sets, ", "))
			args := append(columnArgs(w.Values, columns), w.ID)
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("record %d: %w", w.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	s.logger.Debug("update", "table", table, "records", len(writes))
	return nil
}

// Delete removes rows by id.
func (s *Store) Delete(ctx context.Context, table string, ids []int64) error {
	return s.DeleteWhere(ctx, table, "id", ids)
}

// DeleteWhere removes the rows whose column holds one of values.
func (s *Store) DeleteWhere(ctx context.Context, table, column string, values []int64) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkIdents(table, column); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	in := queryir.InInt64(column, values)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		querysql.Quote(table), querysql.Quote(column), querysql.Placeholders(len(values)))
	if _, err := s.db.ExecContext(ctx, stmt, in.Values...); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	s.logger.Debug("delete", "table", table, "column", column, "rows", len(values))
	return nil
}

// InsertPairs adds relation rows in a single statement.
func (s *Store) InsertPairs(ctx context.Context, table, column1, column2 string, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := checkIdents(table, column1, column2); err != nil {
		return fmt.Errorf("insert pairs into %s: %w", table, err)
	}
	stmt := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES %s",
		querysql.Quote(table), querysql.Quote(column1), querysql.Quote(column2), querysql.Tuples(len(pairs), 2))
	if _, err := s.db.ExecContext(ctx, stmt, pairArgs(pairs)...); err != nil {
		return fmt.Errorf("insert pairs into %s: %w", table, err)
	}
	s.logger.Debug("insert pairs", "table", table, "pairs", len(pairs))
	return nil
}

// DeletePairs removes relation rows in a single statement.
func (s *Store) DeletePairs(ctx context.Context, table, column1, column2 string, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}
	if err := checkIdents(table, column1, column2); err != nil {
		return fmt.Errorf("delete pairs from %s: %w", table, err)
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE (%s, %s) IN (VALUES %s)",
		querysql.Quote(table), querysql.Quote(column1), querysql.Quote(column2), querysql.Tuples(len(pairs), 2))
	if _, err := s.db.ExecContext(ctx, stmt, pairArgs(pairs)...); err != nil {
		return fmt.Errorf("delete pairs from %s: %w", table, err)
	}
	s.logger.Debug("delete pairs", "table", table, "pairs", len(pairs))
	return nil
}

func sortedColumns(values map[string]any) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func columnArgs(values map[string]any, columns []string) []any {
	args := make([]any, len(columns))
	for n, col := range columns {
		args[n] = values[col]
	}
	return args
}

func pairArgs(pairs []Pair) []any {
	args := make([]any, 0, 2*len(pairs))
	for _, p := range pairs {
		args = append(args, p[0], p[1])
	}
	return args
}

func checkIdents(names ...string) error {
	for _, name := range names {
		if !queryir.ValidIdent(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}
