package queryir

import (
	"fmt"
	"regexp"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name may be used as a table or column name.
func ValidIdent(name string) bool {
	return identRe.MatchString(name)
}

// Validate checks that a query is well formed: explicit columns, valid
// identifiers and non-empty In lists.
func Validate(q Query) error {
	switch query := q.(type) {
	case Select:
		return validateSelect(query)
	case *Select:
		if query == nil {
			return fmt.Errorf("nil query")
		}
		return validateSelect(*query)
	case nil:
		return fmt.Errorf("nil query")
	default:
		return fmt.Errorf("unsupported query type: %T", q)
	}
}

func validateSelect(s Select) error {
	if !ValidIdent(s.From) {
		return fmt.Errorf("invalid table name %q", s.From)
	}
	if len(s.Columns) == 0 {
		return fmt.Errorf("select from %s: explicit columns required", s.From)
	}
	for _, col := range s.Columns {
		if !ValidIdent(col) {
			return fmt.Errorf("select from %s: invalid column %q", s.From, col)
		}
	}
	for _, col := range s.OrderBy {
		if !ValidIdent(col) {
			return fmt.Errorf("select from %s: invalid order column %q", s.From, col)
		}
	}
	if s.Filter != nil {
		if err := validatePredicate(s.Filter); err != nil {
			return fmt.Errorf("select from %s: %w", s.From, err)
		}
	}
	return nil
}

func validatePredicate(p Predicate) error {
	switch pred := p.(type) {
	case Equals:
		return checkField(pred.Field)
	case In:
		if len(pred.Values) == 0 {
			return fmt.Errorf("empty IN list on %s", pred.Field)
		}
		return checkField(pred.Field)
	case IsNull:
		return checkField(pred.Field)
	case And:
		for _, sub := range pred.Predicates {
			if err := validatePredicate(sub); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func checkField(name string) error {
	if !ValidIdent(name) {
		return fmt.Errorf("invalid field %q", name)
	}
	return nil
}
