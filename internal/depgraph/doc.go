// Package depgraph expands the dependency declarations of derived
// attributes into dependency chains, and inverts them into triggers:
// for every attribute, the derived attributes to invalidate when it
// changes and the path leading back to the records that own them.
package depgraph
