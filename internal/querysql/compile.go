package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/recfield/internal/queryir"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// Every query carries an ORDER BY so results are deterministic, and every
// value is passed as a parameter, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}
	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		QuoteList(q.Columns),
		Quote(q.From),
		whereClause,
		c.stableOrderKey(q))
	return sql, params, nil
}

// stableOrderKey returns the ORDER BY clause: the requested columns, or id.
func (c *SQLCompiler) stableOrderKey(q queryir.Select) string {
	order := q.OrderBy
	if len(order) == 0 {
		order = []string{"id"}
	}
	parts := make([]string, len(order))
	for n, col := range order {
		parts[n] = Quote(col) + " ASC"
	}
	return strings.Join(parts, ", ")
}

// compilePredicate compiles a predicate to a WHERE fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return Quote(pred.Field) + " = ?", []any{pred.Value}, nil
	case queryir.IsNull:
		return Quote(pred.Field) + " IS NULL", nil, nil
	case queryir.In:
		return fmt.Sprintf("%s IN (%s)", Quote(pred.Field), Placeholders(len(pred.Values))), pred.Values, nil
	case queryir.And:
		return c.compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	var parts []string
	var params []any
	for _, pred := range and.Predicates {
		sql, args, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, args...)
	}
	return strings.Join(parts, " AND "), params, nil
}

// Quote quotes an identifier for SQLite.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// QuoteList quotes and joins identifiers.
func QuoteList(idents []string) string {
	parts := make([]string, len(idents))
	for n, ident := range idents {
		parts[n] = Quote(ident)
	}
	return strings.Join(parts, ", ")
}

// Placeholders returns n comma-separated parameter markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// Tuples returns n parenthesized groups of width parameter markers.
func Tuples(n, width int) string {
	group := "(" + Placeholders(width) + ")"
	parts := make([]string, n)
	for i := range parts {
		parts[i] = group
	}
	return strings.Join(parts, ", ")
}
