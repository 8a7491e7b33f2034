// Package store provides SQLite-backed storage for record tables and
// many2many relation tables.
//
// The runtime talks to storage through the Storage interface:
//   - batched column reads compiled from queryir.Select
//   - row inserts returning allocated ids
//   - per-record column updates grouped into one transaction
//   - relation pair inserts and deletes issued as single statements
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Relation integrity is maintained by the runtime
//
// Every read carries an ORDER BY so results are deterministic.
package store
