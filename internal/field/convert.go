package field

import (
	"context"

	"github.com/roach88/recfield/internal/ir"
)

// Resolver gives reference conversions access to the session that owns the
// value. It is implemented by the session; scalar conversions never use it.
type Resolver interface {
	// NewRecord creates a transient record of model from write values.
	NewRecord(ctx context.Context, model string, values map[string]any) (ir.ID, error)

	// UpdateRecord writes values on a record, in cache only when it is transient.
	UpdateRecord(ctx context.Context, model string, id ir.ID, values map[string]any) error

	// Current returns the cached value of f on owner, reading it when missing.
	Current(ctx context.Context, f *Field, owner ir.ID) (any, error)

	// DisplayName returns the label of a record, read with elevated privilege.
	DisplayName(ctx context.Context, model string, id ir.ID) (string, error)

	// Snapshot returns the write values of a transient record.
	Snapshot(ctx context.Context, model string, id ir.ID) (map[string]any, error)
}

// Recordset is satisfied by anything that can name the records it holds.
type Recordset interface {
	IDs() ir.IDs
}

// converter implements the four-way translation for one type tag.
type converter interface {
	toCache(ctx context.Context, f *Field, owner ir.ID, v any, r Resolver) (any, error)
	toRead(ctx context.Context, f *Field, v any, r Resolver) (any, error)
	toWrite(ctx context.Context, f *Field, v any, r Resolver) (any, error)
	toColumn(f *Field, v any) (any, error)
	fromColumn(f *Field, v any) (any, error)
	equal(f *Field, a, b any) bool
	zero(f *Field) any
}

var converters = map[Type]converter{
	Boolean:           booleanConv{},
	Integer:           integerConv{},
	Float:             floatConv{},
	Monetary:          monetaryConv{},
	Char:              stringConv{},
	Text:              stringConv{},
	HTML:              htmlConv{},
	Date:              dateConv{layout: DateLayout},
	Datetime:          dateConv{layout: DatetimeLayout},
	Binary:            binaryConv{},
	Selection:         selectionConv{},
	Many2one:          many2oneConv{},
	One2many:          collectionConv{},
	Many2many:         collectionConv{},
	Many2oneReference: integerConv{},
	ID:                idConv{},
}

func (f *Field) conv() converter {
	return converters[f.Type]
}

// ConvertToCache validates and normalizes an external value into the cache
// representation. Reference types resolve ids, records and creation payloads
// into canonical ids through r. Failures are value errors naming the field.
func (f *Field) ConvertToCache(ctx context.Context, owner ir.ID, v any, r Resolver) (any, error) {
	return f.conv().toCache(ctx, f, owner, v, r)
}

// ConvertToRead returns what callers see when reading the field.
func (f *Field) ConvertToRead(ctx context.Context, v any, r Resolver) (any, error) {
	return f.conv().toRead(ctx, f, v, r)
}

// ConvertToWrite returns a value that, written back, reproduces v.
func (f *Field) ConvertToWrite(ctx context.Context, v any, r Resolver) (any, error) {
	return f.conv().toWrite(ctx, f, v, r)
}

// ConvertToColumn applies the storage encoding to a cache value.
func (f *Field) ConvertToColumn(v any) (any, error) {
	return f.conv().toColumn(f, v)
}

// ConvertFromColumn decodes a storage value into the cache representation.
func (f *Field) ConvertFromColumn(v any) (any, error) {
	return f.conv().fromColumn(f, v)
}

// Equal compares two cache values under the type's equality.
func (f *Field) Equal(a, b any) bool {
	return f.conv().equal(f, a, b)
}

// Zero returns the type's default cache value.
func (f *Field) Zero() any {
	return f.conv().zero(f)
}

func (f *Field) invalid(v any, format string, args ...any) error {
	return ir.ValueError(f.Model, f.Name, v, format, args...)
}
