package model

import (
	"sort"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/store"
)

// Tables returns the storage tables of every record type and relation,
// sorted by name. Single reference columns are indexed.
func (r *Registry) Tables() []store.Table {
	var tables []store.Table
	relations := make(map[string]bool)
	for _, m := range r.Models() {
		t := store.Table{Name: m.Table}
		for _, f := range m.ColumnFields() {
			t.Columns = append(t.Columns, store.Column{
				Name:  f.Column(),
				Type:  f.Type.ColumnType(),
				Index: f.Type == field.Many2one || f.Type == field.Many2oneReference,
			})
		}
		tables = append(tables, t)

		for _, f := range m.order {
			if f.Type != field.Many2many || len(f.Related) > 0 || relations[f.Relation] {
				continue
			}
			relations[f.Relation] = true
			tables = append(tables, store.RelationTable(f.Relation, f.Column1, f.Column2))
		}
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	return tables
}
