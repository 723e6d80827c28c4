// Package kvstore implements the replicated key-value storage engine.
//
// A Store holds, per key, a small vector of cells ("records"). In
// single-cell mode every key has exactly one cell and the store behaves
// like a classic KV store. In MRV (multi-record value) mode every key has
// N cells, and commutative operations (Add, Subtract) can be routed to a
// disjoint subset of a key's cells so that two commands touching the same
// key but different cells never need to be ordered relative to each other.
//
// The store is intentionally ignorant of dependency tracking: it is handed
// a key, an ordered list of operations, and — in MRV mode — the cell
// indices each operation should touch, and it returns one result per
// operation. Index selection lives in package keydeps; the store only
// executes against whatever indices it is given.
package kvstore
