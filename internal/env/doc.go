// Package env is the session runtime: it resolves attribute reads
// through the value cache, storage and derivations, routes writes through
// the relational consistency engine, and schedules recomputation.
//
// # Execution model
//
// A session (Env) is single-threaded: every read, write and storage call
// of one session runs in sequence, so the cache and the Pending-Recompute
// sets need no locking. Sessions never share a cache; cross-session
// consistency is the storage layer's responsibility. Storage calls are
// the only points where a session blocks, and each takes a context.
//
// # Read-miss resolution
//
// On a cache miss for attribute A on record r, the first matching branch
// wins:
//
//  1. A is stored and r is persisted: fetch A, with every other missing
//     column of the prefetch set, in one batch; retry r alone when the
//     batch hits an access or missing-record failure.
//  2. A is stored, r is transient with an origin, and A is not derived
//     and read-only: copy the origin's value.
//  3. A is derived: compute it over the prefetch set (r alone when A is
//     recursive), or yield the zero value while A is being computed on r.
//  4. A is a delegating reference of a transient record: build the parent
//     from the cached inherited values.
//  5. Otherwise the zero value, then the record-level defaults.
//
// Stored derived values pending recomputation are recomputed before the
// cache is consulted.
package env
