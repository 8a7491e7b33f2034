// Package harness runs conformance scenarios against the attribute runtime.
//
// A scenario compiles CUE model specs, opens one session over a fresh
// in-memory SQLite store and executes a list of steps. Every step is
// recorded in a trace, together with the storage calls it issued.
//
// # Scenario Format
//
//	name: order_totals
//	description: "Totals follow their lines"
//	specs:
//	  - specs/sales.cue
//	steps:
//	  - create: {model: sale.order, as: o1, values: {name: SO1}}
//	  - create: {model: sale.line, as: l1, values: {order_id: "@o1", qty: 2, price: 5}}
//	  - write: {records: [l1], values: {qty: 3}}
//	  - read: {records: [o1], fields: [total], expect: {total: 15}}
//	  - flush: {}
//	  - expect_error:
//	      code: DELETE_RESTRICTED
//	      step: {unlink: {records: [p1]}}
//	assertions:
//	  - type: value
//	    record: o1
//	    field: total
//	    equals: 15
//	  - type: storage_calls
//	    op: update
//	    step: 5
//	    count: 2
//
// Records created by create and new steps are bound to their "as" name.
// Values refer to them as "@name". A list of maps is a list of relation
// commands (create, update, delete, unlink, link, clear, set).
//
// Steps without arguments are written with an empty map ("flush: {}").
//
// # Assertion Types
//
//   - value: reads an attribute and compares its external representation
//   - contains / not_contains: checks membership in a collection attribute
//   - storage_calls: counts storage calls of one operation, optionally
//     restricted to one table or one step
//
// # Deterministic Testing
//
// Each run uses a fixed session id, a fresh database and a step clock, so
// record ids and traces are identical across runs. RunWithGolden compares
// the trace against testdata/golden.
package harness
