package model

import (
	"context"

	"github.com/cockroachdb/apd/v3"

	"github.com/roach88/recfield/internal/ir"
)

// Recordset is the view of a session's records handed to derivation,
// inverse and default functions.
//
// Values are in cache representation: ir.ID for single references,
// ir.IDs for collections, *apd.Decimal for monetary amounts, time.Time
// for dates. The typed helpers of this package convert them.
type Recordset interface {
	// Model returns the record type.
	Model() *Model

	// IDs returns the records, in order.
	IDs() ir.IDs

	// Len returns the number of records.
	Len() int

	// Records returns one singleton recordset per record, sharing the
	// prefetch set.
	Records() []Recordset

	// Browse returns records of the same type sharing the prefetch set.
	Browse(ids ...ir.ID) Recordset

	// Get returns the value of an attribute on a singleton recordset.
	Get(ctx context.Context, name string) (any, error)

	// Ref returns the records referenced by a relational attribute over
	// every record, in order and without duplicates.
	Ref(ctx context.Context, name string) (Recordset, error)

	// Mapped returns the leaf values reached by following a dot-separated
	// path from every record. Relational leaves yield the distinct target
	// ids.
	Mapped(ctx context.Context, path string) ([]any, error)

	// Assign sets the value of an attribute on every record. Derivation
	// functions use it to publish what they computed.
	Assign(ctx context.Context, name string, value any) error

	// Write sets attribute values on every record, with the full write
	// semantics: conversion, inverse maintenance and invalidation.
	Write(ctx context.Context, values map[string]any) error
}

// Int returns an integer cache value, or 0.
func Int(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case bool:
		if n {
			return 1
		}
	case ir.ID:
		return n.Int()
	}
	return 0
}

// Float returns a numeric cache value as a float, or 0.
func Float(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case *apd.Decimal:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// Decimal returns a numeric cache value as an exact decimal.
func Decimal(v any) *apd.Decimal {
	switch n := v.(type) {
	case *apd.Decimal:
		return new(apd.Decimal).Set(n)
	case int64:
		return apd.New(n, 0)
	case int:
		return apd.New(int64(n), 0)
	case float64:
		d, err := new(apd.Decimal).SetFloat64(n)
		if err == nil {
			return d
		}
	}
	return apd.New(0, 0)
}

// String returns a text cache value, or "".
func String(v any) string {
	s, _ := v.(string)
	return s
}

// Bool returns a boolean cache value, or false.
func Bool(v any) bool {
	b, _ := v.(bool)
	return b
}

// Ref returns a single reference cache value, or the zero id.
func Ref(v any) ir.ID {
	id, _ := v.(ir.ID)
	return id
}

// Refs returns a collection cache value, or nil.
func Refs(v any) ir.IDs {
	ids, _ := v.(ir.IDs)
	return ids
}
