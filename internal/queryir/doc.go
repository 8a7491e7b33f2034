// Package queryir is the storage-neutral description of the reads the
// attribute runtime issues: batched fetches of columns by id, reverse
// lookups of references, and relation-table reads.
//
// Query and Predicate are sealed interfaces; backends switch exhaustively
// over the types declared here.
package queryir
