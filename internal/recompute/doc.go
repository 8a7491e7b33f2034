// Package recompute tracks which derived attribute values are stale.
//
// A Tracker holds, per stored derived attribute, the Pending-Recompute set
// of records whose cached value is known stale, and the protection guard
// the session raises while it computes an attribute on some records. Both
// are owned by one session and are not safe for concurrent use.
//
// Pending sets are ordered so that recomputation batches are
// deterministic: persisted ids first, then transient ones.
package recompute
