// Package compiler turns declarative model specs written in CUE into
// record type declarations for the model registry.
//
// A spec file declares record types under the top-level "model" struct,
// abstract mixins under "mixin" and extensions of already declared record
// types under "extend":
//
//	model: "sale.order": {
//		rec_name: "name"
//		inherit: ["mail.thread"]
//		fields: {
//			name:     {type: "char", required: true}
//			line_ids: {type: "one2many", comodel: "sale.line", inverse_name: "order_id"}
//			total:    {type: "float", compute: "sum:line_ids.amount", store: true}
//		}
//	}
//
// Field order follows declaration order in the source.
package compiler

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/recfield/internal/field"
	"github.com/roach88/recfield/internal/model"
)

// Kind tells how a compiled declaration is registered.
type Kind string

const (
	KindModel     Kind = "model"
	KindMixin     Kind = "mixin"
	KindExtension Kind = "extend"
)

// Kinds lists the top-level sections of a spec, in registration order.
var Kinds = []Kind{KindMixin, KindModel, KindExtension}

// ModelSpec is one compiled declaration and where it came from.
type ModelSpec struct {
	Kind Kind       `json:"kind"`
	Decl model.Decl `json:"decl"`
	Pos  token.Pos  `json:"-"`
}

// CompileModels compiles every declaration of the three sections of v,
// mixins first, then record types, then extensions.
func CompileModels(v cue.Value) ([]ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	var specs []ModelSpec
	for _, kind := range Kinds {
		section := v.LookupPath(cue.MakePath(cue.Str(string(kind))))
		if !section.Exists() {
			continue
		}
		iter, err := section.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := CompileModel(kind, iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				return nil, err
			}
			specs = append(specs, *spec)
		}
	}
	return specs, nil
}

var modelKeys = []string{"table", "rec_name", "inherit", "fields"}

// CompileModel compiles one record type declaration named name.
func CompileModel(kind Kind, name string, v cue.Value) (*ModelSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := checkKeys(v, modelKeys, string(kind)+"."+name); err != nil {
		return nil, err
	}
	spec := &ModelSpec{Kind: kind, Decl: model.Decl{Name: name}, Pos: v.Pos()}

	var err error
	if spec.Decl.Table, err = optionalString(v, "table"); err != nil {
		return nil, err
	}
	if spec.Decl.RecName, err = optionalString(v, "rec_name"); err != nil {
		return nil, err
	}
	if spec.Decl.Inherit, err = optionalStrings(v, "inherit"); err != nil {
		return nil, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		if kind == KindExtension {
			return spec, nil
		}
		return nil, &CompileError{
			Field:   "fields",
			Message: fmt.Sprintf("%s %q declares no fields", kind, name),
			Pos:     v.Pos(),
		}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		fname := iter.Selector().Unquoted()
		decl, err := compileField(iter.Value(), name+"."+fname)
		if err != nil {
			return nil, err
		}
		spec.Decl.Fields = append(spec.Decl.Fields, model.FieldDecl{Name: fname, Decl: decl})
	}
	return spec, nil
}

var fieldKeys = []string{
	"type", "string", "store", "required", "readonly", "recursive", "delegate",
	"compute", "inverse", "related", "depends",
	"comodel", "inverse_name", "ondelete", "relation", "column1", "column2", "model_field",
	"selection", "selection_func", "selection_add", "selection_ondelete",
	"size", "digits", "default", "default_func",
}

// compileField decodes one attribute declaration. Keys are decoded through
// the json tags of field.Decl; unknown keys are rejected first.
func compileField(v cue.Value, path string) (field.Decl, error) {
	var decl field.Decl
	if err := checkKeys(v, fieldKeys, path); err != nil {
		return decl, err
	}
	if sel := v.LookupPath(cue.ParsePath("selection")); sel.Exists() {
		items, err := compileSelection(sel, path+".selection")
		if err != nil {
			return decl, err
		}
		decl.Selection = items
	}
	if sel := v.LookupPath(cue.ParsePath("selection_add")); sel.Exists() {
		items, err := compileSelection(sel, path+".selection_add")
		if err != nil {
			return decl, err
		}
		decl.SelectionAdd = items
	}

	var rest struct {
		field.Decl
		Selection    any `json:"selection,omitempty"`
		SelectionAdd any `json:"selection_add,omitempty"`
	}
	if err := v.Decode(&rest); err != nil {
		return decl, formatCUEError(err)
	}
	selection, selectionAdd := decl.Selection, decl.SelectionAdd
	decl = rest.Decl
	decl.Selection, decl.SelectionAdd = selection, selectionAdd

	if decl.Type != "" {
		if _, err := field.ParseType(string(decl.Type)); err != nil {
			return decl, &CompileError{Field: path + ".type", Message: err.Error(), Pos: v.Pos()}
		}
		if decl.Type == "image" {
			decl.Type = field.Binary
		}
	}
	return decl, nil
}

// compileSelection accepts either [value, label] pairs or
// {value, label} structs.
func compileSelection(v cue.Value, path string) ([]field.SelectionItem, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var items []field.SelectionItem
	for iter.Next() {
		item := iter.Value()
		if pair, err := item.List(); err == nil {
			var parts []string
			for pair.Next() {
				s, err := pair.Value().String()
				if err != nil {
					return nil, formatCUEError(err)
				}
				parts = append(parts, s)
			}
			if len(parts) != 2 {
				return nil, &CompileError{Field: path, Message: "selection pairs must be [value, label]", Pos: item.Pos()}
			}
			items = append(items, field.SelectionItem{Value: parts[0], Label: parts[1]})
			continue
		}
		var si field.SelectionItem
		if err := item.Decode(&si); err != nil {
			return nil, formatCUEError(err)
		}
		if si.Value == "" {
			return nil, &CompileError{Field: path, Message: "selection item has no value", Pos: item.Pos()}
		}
		items = append(items, si)
	}
	return items, nil
}

func checkKeys(v cue.Value, known []string, path string) error {
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		key := iter.Selector().Unquoted()
		if !slices.Contains(known, key) {
			return &CompileError{
				Field:   path + "." + key,
				Message: fmt.Sprintf("unknown key %q", key),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func optionalString(v cue.Value, key string) (string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalStrings(v cue.Value, key string) ([]string, error) {
	val := v.LookupPath(cue.ParsePath(key))
	if !val.Exists() {
		return nil, nil
	}
	var out []string
	if err := val.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
