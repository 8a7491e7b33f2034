package field

import "fmt"

// Type is the type tag of an attribute.
type Type string

const (
	Boolean           Type = "boolean"
	Integer           Type = "integer"
	Float             Type = "float"
	Monetary          Type = "monetary"
	Char              Type = "char"
	Text              Type = "text"
	HTML              Type = "html"
	Date              Type = "date"
	Datetime          Type = "datetime"
	Binary            Type = "binary"
	Selection         Type = "selection"
	Many2one          Type = "many2one"
	One2many          Type = "one2many"
	Many2many         Type = "many2many"
	Many2oneReference Type = "many2one_reference"
	ID                Type = "id"
)

// Types lists every supported type tag.
var Types = []Type{
	Boolean, Integer, Float, Monetary, Char, Text, HTML, Date, Datetime,
	Binary, Selection, Many2one, One2many, Many2many, Many2oneReference, ID,
}

// columnTypes maps type tags to their SQLite column encoding. Tags absent
// from the map have no column: collections live in the comodel or in a
// relation table, and the identity is the primary key.
//
// Dates are declared TEXT so the driver does not parse them into time.Time,
// booleans INTEGER so they round-trip as integers.
var columnTypes = map[Type]string{
	Boolean:           "INTEGER",
	Integer:           "INTEGER",
	Float:             "REAL",
	Monetary:          "TEXT",
	Char:              "VARCHAR",
	Text:              "TEXT",
	HTML:              "TEXT",
	Date:              "TEXT",
	Datetime:          "TEXT",
	Binary:            "BLOB",
	Selection:         "VARCHAR",
	Many2one:          "INTEGER",
	Many2oneReference: "INTEGER",
}

// ParseType resolves a type tag. "image" is accepted as an alias of binary.
func ParseType(name string) (Type, error) {
	if name == "image" {
		return Binary, nil
	}
	for _, t := range Types {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown field type %q", name)
}

// ColumnType returns the storage column encoding, or "" when the type has none.
func (t Type) ColumnType() string {
	return columnTypes[t]
}

// Relational reports whether values of the type reference other records.
func (t Type) Relational() bool {
	return t == Many2one || t == One2many || t == Many2many
}

// Collection reports whether the type holds a list of records.
func (t Type) Collection() bool {
	return t == One2many || t == Many2many
}

// SelectionItem is one allowed value of a selection attribute.
type SelectionItem struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Deletion policies of single references.
const (
	OnDeleteRestrict   = "restrict"
	OnDeleteCascade    = "cascade"
	OnDeleteSetNull    = "set null"
	OnDeleteSetDefault = "set default"
)

func validOnDelete(policy string) bool {
	switch policy {
	case OnDeleteRestrict, OnDeleteCascade, OnDeleteSetNull, OnDeleteSetDefault:
		return true
	}
	return false
}
