package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/recfield/internal/ir"
	"github.com/roach88/recfield/internal/querysql"
)

const schemaHashKey = "schema_hash"

// Column is one stored column of a record table.
type Column struct {
	Name  string
	Type  string
	Index bool
}

// Table describes a record table or a relation table.
//
// Record tables always carry an INTEGER PRIMARY KEY "id" which is not
// listed in Columns. Relation tables hold exactly two INTEGER columns
// forming the primary key.
type Table struct {
	Name     string
	Columns  []Column
	Relation bool
}

// RelationTable returns the definition of a many2many relation table.
func RelationTable(name, column1, column2 string) Table {
	return Table{
		Name:     name,
		Relation: true,
		Columns: []Column{
			{Name: column1, Type: "INTEGER"},
			{Name: column2, Type: "INTEGER", Index: true},
		},
	}
}

// EnsureSchema creates missing tables and columns. Existing columns are
// never altered or dropped.
func (s *Store) EnsureSchema(ctx context.Context, tables []Table) error {
	sorted := append([]Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range sorted {
			if err := ensureTable(ctx, tx, t); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
		}
		hash, err := schemaHash(sorted)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recfield_meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, schemaHashKey, hash)
		return err
	})
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.logger.Info("schema ensured", "tables", len(sorted))
	return nil
}

func ensureTable(ctx context.Context, tx *sql.Tx, t Table) error {
	names := []string{t.Name}
	for _, col := range t.Columns {
		names = append(names, col.Name)
	}
	if err := checkIdents(names...); err != nil {
		return err
	}

	if t.Relation {
		if len(t.Columns) != 2 {
			return fmt.Errorf("relation table needs 2 columns, got %d", len(t.Columns))
		}
		c1, c2 := querysql.Quote(t.Columns[0].Name), querysql.Quote(t.Columns[1].Name)
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s INTEGER NOT NULL, %s INTEGER NOT NULL, PRIMARY KEY (%s, %s))",
			querysql.Quote(t.Name), c1, c2, c1, c2)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
		return ensureIndexes(ctx, tx, t)
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\"id\" INTEGER PRIMARY KEY AUTOINCREMENT)", querysql.Quote(t.Name))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return err
	}
	existing, err := tableColumns(ctx, tx, t.Name)
	if err != nil {
		return err
	}
	for _, col := range t.Columns {
		if _, ok := existing[col.Name]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", querysql.Quote(t.Name), querysql.Quote(col.Name), col.Type)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s: %w", col.Name, err)
		}
	}
	return ensureIndexes(ctx, tx, t)
}

func ensureIndexes(ctx context.Context, tx *sql.Tx, t Table) error {
	for _, col := range t.Columns {
		if !col.Index {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			querysql.Quote(t.Name+"_"+col.Name+"_index"), querysql.Quote(t.Name), querysql.Quote(col.Name))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index %s: %w", col.Name, err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tableColumns returns column name -> primary key position for a table.
func tableColumns(ctx context.Context, q querier, table string) (map[string]int, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", querysql.Quote(table)))
	if err != nil {
		return nil, fmt.Errorf("table info: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]int)
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table info: %w", err)
		}
		columns[name] = pk
	}
	return columns, rows.Err()
}

// Tables lists the user tables present in the database, sorted by name.
// Column types are those declared at creation.
func (s *Store) Tables(ctx context.Context) ([]Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != 'recfield_meta'
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := s.describe(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (s *Store) describe(ctx context.Context, name string) (Table, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", querysql.Quote(name)))
	if err != nil {
		return Table{}, fmt.Errorf("describe %s: %w", name, err)
	}
	defer rows.Close()

	t := Table{Name: name}
	pks := 0
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return Table{}, fmt.Errorf("describe %s: %w", name, err)
		}
		if pk > 0 {
			pks++
		}
		if col == "id" && pk == 1 {
			continue
		}
		t.Columns = append(t.Columns, Column{Name: col, Type: typ})
	}
	t.Relation = pks == 2
	return t, rows.Err()
}

// SchemaHash returns the hash recorded by the last EnsureSchema, or ""
// when the database has never been initialized.
func (s *Store) SchemaHash(ctx context.Context) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM recfield_meta WHERE key = ?`, schemaHashKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read schema hash: %w", err)
	}
	return value, nil
}

// SchemaHash computes the content hash of a set of table definitions.
// The order of tables does not matter.
func SchemaHash(tables []Table) (string, error) {
	sorted := append([]Table(nil), tables...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return schemaHash(sorted)
}

func schemaHash(tables []Table) (string, error) {
	defs := make([]any, len(tables))
	for n, t := range tables {
		cols := make([]any, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = map[string]any{"name": c.Name, "type": c.Type, "index": c.Index}
		}
		defs[n] = map[string]any{"name": t.Name, "relation": t.Relation, "columns": cols}
	}
	data, err := ir.MarshalCanonical(defs)
	if err != nil {
		return "", fmt.Errorf("hash schema: %w", err)
	}
	sum := sha256.Sum256(append([]byte("recfield/schema/v1\x00"), data...))
	return hex.EncodeToString(sum[:]), nil
}
