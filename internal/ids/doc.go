// Package ids defines the identifier types shared across the replication
// core: Dot (a per-process event id), Rifl (a per-client command id),
// ShardID, Key and Value.
//
// None of these types carry behavior beyond equality, ordering, and the
// shard-routing arithmetic described in the package's functions. Every other
// package in this module (kvstore, keydeps, graph, command) imports ids
// rather than redefining these primitives.
package ids
