package queryir

// Query represents an abstract read.
//
// This is a sealed interface - only types in this package implement it.
type Query interface {
	queryNode()
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Select reads explicit columns of the rows of one table that match Filter.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order>
//
// Example, fetching two columns of a batch of records:
//
//	Select{
//	  From:    "line",
//	  Columns: []string{"id", "qty", "order_id"},
//	  Filter:  In{Field: "id", Values: []any{int64(1), int64(2)}},
//	}
//
// When OrderBy is empty, rows are ordered by id.
type Select struct {
	From    string
	Columns []string
	Filter  Predicate
	OrderBy []string
}

func (Select) queryNode() {}

// Equals matches rows whose field equals a literal value.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In matches rows whose field is one of the given values.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// IsNull matches rows whose field is NULL.
type IsNull struct {
	Field string
}

func (IsNull) predicateNode() {}

// And matches rows satisfying every predicate.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// ByIDs returns the predicate selecting the given storage ids.
func ByIDs(ids []int64) In {
	return InInt64("id", ids)
}

// InInt64 returns an In predicate over integer values.
func InInt64(field string, values []int64) In {
	vals := make([]any, len(values))
	for n, v := range values {
		vals[n] = v
	}
	return In{Field: field, Values: vals}
}
