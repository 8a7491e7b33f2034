package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/recfield/internal/field"
)

// Validation error codes (E100-E199)
const (
	ErrModelNameEmpty      = "E101" // record type name is required
	ErrFieldTypeMissing    = "E102" // attribute declared without a type
	ErrComodelMissing      = "E103" // relational attribute without comodel
	ErrInverseNameMissing  = "E104" // one2many without inverse_name
	ErrDuplicateName       = "E105" // duplicate record type
	ErrSelectionEmpty      = "E106" // selection without values or function
	ErrComputeAndRelated   = "E107" // both compute and related set
	ErrInvalidOnDelete     = "E108" // unknown deletion policy
	ErrModelFieldMissing   = "E109" // many2one_reference without model_field
	ErrDelegateNotMany2one = "E110" // delegate set on a non-many2one attribute
)

// ValidationError represents a declaration error found before setup.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks compiled declarations for errors that do not need the
// rest of the registry. It returns every error found. Cross-declaration
// checks (unknown comodels, inverse types, dependency paths) are left to
// registry setup.
func Validate(specs []ModelSpec) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]Kind)
	for _, spec := range specs {
		line := 0
		if spec.Pos.IsValid() {
			line = spec.Pos.Line()
		}
		name := spec.Decl.Name
		if strings.TrimSpace(name) == "" {
			errs = append(errs, ValidationError{
				Field:   string(spec.Kind),
				Message: "record type name is required",
				Code:    ErrModelNameEmpty,
				Line:    line,
			})
			continue
		}
		if spec.Kind != KindExtension {
			if prev, dup := seen[name]; dup {
				errs = append(errs, ValidationError{
					Field:   string(spec.Kind) + "." + name,
					Message: fmt.Sprintf("%q is already declared as a %s", name, prev),
					Code:    ErrDuplicateName,
					Line:    line,
				})
			}
			seen[name] = spec.Kind
		}
		for _, fd := range spec.Decl.Fields {
			for _, e := range validateField(spec.Kind, name+"."+fd.Name, fd.Decl) {
				e.Line = line
				errs = append(errs, e)
			}
		}
	}
	return errs
}

func validateField(kind Kind, path string, d field.Decl) []ValidationError {
	var errs []ValidationError
	add := func(code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: path, Message: fmt.Sprintf(format, args...), Code: code})
	}

	// extensions may override parameters without restating the type
	if d.Type == "" {
		if kind != KindExtension {
			add(ErrFieldTypeMissing, "type is required")
		}
		return errs
	}
	if d.Compute != "" && d.Related != "" {
		add(ErrComputeAndRelated, "compute and related are mutually exclusive")
	}
	if d.Type.Relational() && d.Comodel == "" && d.Related == "" {
		add(ErrComodelMissing, "%s requires a comodel", d.Type)
	}
	if d.Type == field.One2many && d.InverseName == "" && d.Related == "" && d.Compute == "" {
		add(ErrInverseNameMissing, "one2many requires an inverse_name")
	}
	if d.Type == field.Many2oneReference && d.ModelField == "" {
		add(ErrModelFieldMissing, "many2one_reference requires a model_field")
	}
	if d.Type == field.Selection && kind != KindExtension && len(d.Selection) == 0 && d.SelectionFunc == "" && d.Related == "" {
		add(ErrSelectionEmpty, "selection requires values or a selection_func")
	}
	if d.OnDelete != "" {
		switch d.OnDelete {
		case field.OnDeleteRestrict, field.OnDeleteCascade, field.OnDeleteSetNull, field.OnDeleteSetDefault:
		default:
			add(ErrInvalidOnDelete, "unknown ondelete policy %q", d.OnDelete)
		}
	}
	if d.Delegate != nil && *d.Delegate && d.Type != field.Many2one {
		add(ErrDelegateNotMany2one, "only a many2one can delegate")
	}
	return errs
}
