// Package coordinator implements the orchestration layer that maps shards
// to the nodes hosting their dependency-graph replicas, routes client
// commands to the right node, and detects node failures so shards can be
// reassigned.
//
// # Overview
//
// The coordinator is the control plane: it makes the cluster-wide decision
// of which node a shard's replica currently lives on. It does not execute
// commands itself. A node that receives a command for a shard it does not
// yet host creates a fresh, empty replica for it, so forwarding to the
// wrong node runs the command against that node's state alone, not the
// KeyDeps/dependency-graph state of the node hosting the shard.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│         COORDINATOR                  │
//	├─────────────────────────────────────┤
//	│  ┌──────────────────────────────┐  │
//	│  │   ShardRegistry                │  │
//	│  │   - shard_id(key) = hash(key)  │  │
//	│  │        mod shard_count         │  │
//	│  │   - shard → hosting node       │  │
//	│  └──────────────────────────────┘  │
//	│  ┌──────────────────────────────┐  │
//	│  │   HealthMonitor                │  │
//	│  │   - periodic GET /health       │  │
//	│  │   - consecutive-failure        │  │
//	│  │        threshold               │  │
//	│  └──────────────────────────────┘  │
//	└─────────────────────────────────────┘
//
// # Core Components
//
// ShardRegistry: maps shard IDs to the node currently hosting their
// replica. One hosting node per shard — there is no primary/replica
// distinction in the leaderless model; availability during a node failure
// comes from reassigning the shard to a live node, not from reading a
// stale replica.
//
// HealthMonitor: polls each registered node's /health endpoint on an
// interval and calls back into the coordinator once a node has failed
// enough consecutive checks, so its shards can be reassigned.
//
// # Shard Distribution
//
// shard_id(key) = hash(key) mod shard_count, computed with FNV-1a in
// ShardRegistry.GetShardForKey. Shard-to-node placement is done by
// cmd/coordinator's autoAssignShards, which hands every unassigned shard
// round-robin to the nodes not marked unhealthy. It runs when a new node
// registers and from the health-monitor failure callback; shards that
// already have a node are never moved by it.
//
// # Failure Handling
//
// Node failure: detected by three consecutive failed health checks
// (configurable via NewHealthMonitor/maxFailures), at which point
// HealthMonitor invokes its onUnhealthy callback with the failing node's
// ID. The coordinator's callback marks the node unhealthy (it stays in the
// node list), removes the registry assignments of every shard that node
// was hosting, and runs autoAssignShards so those shards move to the
// remaining healthy nodes; other shards keep their node. In-flight
// commands against the failed node's
// shards fail and must be retried by the client against the new
// assignment.
//
// Coordinator failure: the coordinator itself is a single point of
// failure; there is no coordinator replication or failover.
//
// # See Also
//
// Related packages:
//   - internal/cluster: shared node types, the command wire protocol, and
//     the PostJSON/GetJSON HTTP helpers
//   - internal/replica: the per-shard command processor the coordinator
//     routes requests to
//   - cmd/coordinator: the HTTP server built on this package
package coordinator
