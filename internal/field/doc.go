// Package field defines attribute descriptors: the immutable metadata of
// one declared attribute of one record type, the merge of re-declared
// parameter dictionaries, and the per-type conversions between cache,
// read, write and storage column representations.
package field
