// Package keydeps implements the per-key dependency tracker: given an
// incoming command, it computes the set of prior commands it conflicts with
// (its "dependency set") and records itself as the new latest reader/writer
// for every key it touches.
//
// Three implementations share one capability set (AddCmd, AddNoop):
// Sequential (a plain, lane-owned map), Locked (the same algorithm behind
// striped fine-grained locks so it can be shared across lanes), and MRV
// (multi-record value: each key's conflict state is split into N
// sub-records so that commutative operations on disjoint sub-records never
// conflict).
package keydeps
