// Package graph implements the dependency-graph executor: it accepts
// (dot, command, deps) vertices as they commit, finds strongly-connected
// components with Tarjan's algorithm, and releases each SCC for local
// execution in deterministic Dot order. Dependencies that live on another
// shard are resolved through a small Request/RequestReply/Executed
// cross-shard protocol.
package graph
