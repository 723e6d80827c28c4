// Package cluster provides the HTTP glue that lets a coordinator and a set
// of nodes discover each other, exchange health state, and carry the typed
// command wire protocol that drives the dependency-graph executor on each
// node.
//
// # Overview
//
// The cluster package is deliberately thin: it owns node identity,
// registration, and the JSON envelopes exchanged over HTTP, but it has no
// opinion about what a command does once it reaches a node's replica. That
// lives in internal/replica and internal/graph; this package only gets it
// there.
//
// # Architecture
//
// The package follows a hub-and-spoke model: a coordinator tracks which
// node hosts which shard's replica and proxies client requests to it.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │              │
//	              │ - Registry   │
//	              │ - Health Mon │
//	              │ - Broadcasts │
//	              └──────┬───────┘
//	                     │
//	      ┌──────────────┼──────────────────┐
//	      │              │                  │
//	┌─────▼─────┐ ┌──────▼──────┐ ┌─────────▼─┐
//	│  Node 1   │ │  Node 2     │ │  Node 3   │
//	│ replicas: │ │ replicas:   │ │ replicas: │
//	│ [0,1,2]   │ │ [3,4,5]     │ │ [6,7,8]   │
//	└───────────┘ └─────────────┘ └───────────┘
//
// # Core Components
//
// NodeInfo: Identity and liveness of one node.
//   - Tracks node identity, address, and health status
//   - Thread-safe for concurrent access (read-only after construction)
//
// CommandWire / CommandOpWire / CommandResultWire: the JSON shape of a
// command submitted to a shard's replica and the per-key results it
// returns. Shared between the coordinator's forwarding handler and the
// node's command handler so neither side drifts from the other.
//
// # Communication Protocol
//
// The package uses HTTP/JSON for all inter-node communication:
//
// Node Registration (POST /register):
//   - Nodes announce themselves to the coordinator on startup
//
// Health Checking (GET /health):
//   - Periodic liveness probes from coordinator to nodes
//
// Command Forwarding (POST /command/{shardID}):
//   - Coordinator forwards a CommandWire to the node hosting that shard's
//     replica and relays back the CommandResultWire
//
// State Broadcasting (POST /control):
//   - Coordinator pushes control messages to all nodes
//
// # Concurrency Model
//
// All types are safe for concurrent use; NodeInfo is read-only after
// construction, PostJSON/GetJSON hold no shared state beyond the pooled
// http.Client.
//
// # Failure Handling
//
// Network Failures:
//   - HTTP requests have configurable timeouts (default 5s)
//   - Failed requests are returned to the caller as errors; health checks
//     run only on the monitor's interval
//
// Node Failures:
//   - Health checks on a configurable interval
//   - Nodes marked unhealthy after consecutive failed checks
//   - Unhealthy nodes removed from shard routing and their shards
//     reassigned to a healthy node
//
// Coordinator Failures:
//   - Currently a single point of failure; no coordinator HA
package cluster
