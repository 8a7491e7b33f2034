// Package model holds record types and the registry that sets them up.
//
// A record type is declared once with Declare and may be extended any
// number of times with Extend. Shared attribute sets are declared with
// DeclareMixin and pulled in through Decl.Inherit. Setup merges every
// declaration of every attribute in override order (mixins, base, then
// extensions), synthesizes delegated fields, resolves related paths,
// validates cross-type invariants, registers inverse pairs, binds the
// derivation, inverse, selection and default function tables, and finally
// builds the dependency trigger tree.
//
// Function tables are resolved once, at setup. Nothing is looked up by
// name at run time.
package model
