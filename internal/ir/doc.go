// Package ir provides the foundational value types shared by every other
// package: record identities, relation-editing commands, display pairs,
// the error taxonomy and canonical JSON for traces.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Record identities are comparable values, usable as map keys
//   - Transient identities never collide with persisted ones
//   - All JSON tags use snake_case
package ir
