// Package coordinator implements the orchestration layer that routes client
// commands to the node hosting each shard's dependency-graph replica.
// See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/telemetry"
)

// ShardAssignment records which node currently hosts the replica for a
// shard. The leaderless design gives every shard exactly one hosting node
// at a time (unlike a primary/replica scheme) — fault tolerance comes from
// the dependency graph's commutativity analysis across shards, not from
// per-shard replication.
//
// Thread Safety:
// ShardAssignment structs are immutable once created. The registry returns
// copies to prevent external modification.
type ShardAssignment struct {
	// NodeID identifies the node hosting this shard's replica.
	NodeID string

	// ShardID is the unique identifier for this shard.
	// Valid range: [0, ShardCount())
	ShardID ids.ShardID
}

// ShardRegistry tracks which node hosts each shard's replica, serving as
// the coordinator's routing table for forwarding commands to the right
// node and for computing shard_id(key) = hash(key) mod shard_count.
//
// Architecture:
//
//	┌─────────────────────────────────────┐
//	│         ShardRegistry               │
//	├─────────────────────────────────────┤
//	│  assignments: map[ShardID]→node     │
//	│  shardCount: total shard count      │
//	│  mu: RWMutex for thread safety      │
//	├─────────────────────────────────────┤
//	│  Key → Hash → Shard → Node          │
//	│  "balance:1" → 0x1a2b → 5 → "node-2"│
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Read operations use RLock for parallel access
//   - Write operations use Lock for exclusive access
//   - All returned data is copied to prevent races
type ShardRegistry struct {
	// assignments maps shard IDs to their current assignments.
	// A shard may be unassigned (not in map) during transitions.
	assignments map[ids.ShardID]*ShardAssignment

	// mu protects concurrent access to the assignments map.
	mu sync.RWMutex

	// shardCount is the total number of shards in the cluster, fixed at
	// registry creation and matching the shard_count every replica on
	// every node was constructed with.
	shardCount uint64

	// logger records assignment changes; defaults to a no-op so tests don't
	// need to configure one.
	logger *zap.Logger
}

// SetLogger installs logger for subsequent assignment-change logging.
func (r *ShardRegistry) SetLogger(logger *zap.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// NewShardRegistry creates a new shard registry with the specified number
// of shards. shardCount is fixed for the cluster's lifetime: changing it
// changes shard_id(key) for every key, which requires a full rebuild.
func NewShardRegistry(shardCount uint64) *ShardRegistry {
	return &ShardRegistry{
		assignments: make(map[ids.ShardID]*ShardAssignment),
		shardCount:  shardCount,
		logger:      telemetry.NewNop(),
	}
}

// AssignShard assigns a shard to the node that will host its replica,
// overwriting any previous assignment.
//
// Parameters:
//   - shardID: The shard to assign (must be in [0, ShardCount()))
//   - nodeID: The node to assign to (must be non-empty)
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) AssignShard(shardID ids.ShardID, nodeID string) error {
	if uint64(shardID) >= r.shardCount {
		return fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, r.shardCount)
	}
	if nodeID == "" {
		return errors.New("node ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.assignments[shardID] = &ShardAssignment{
		ShardID: shardID,
		NodeID:  nodeID,
	}

	r.logger.Info("shard assigned", zap.Uint64("shard_id", uint64(shardID)), zap.String("node_id", nodeID))
	return nil
}

// RemoveShard removes a shard assignment, effectively making the shard
// unassigned and unreachable until reassigned.
//
// Parameters:
//   - shardID: The shard to remove (must be in [0, ShardCount()))
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) RemoveShard(shardID ids.ShardID) error {
	if uint64(shardID) >= r.shardCount {
		return fmt.Errorf("invalid shard ID %d, must be in range [0, %d)", shardID, r.shardCount)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.assignments, shardID)
	r.logger.Info("shard assignment removed", zap.Uint64("shard_id", uint64(shardID)))
	return nil
}

// GetAssignment returns the current assignment for a specific shard, or
// nil if the shard is unassigned.
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
// Returns a copy to prevent external modification.
func (r *ShardRegistry) GetAssignment(shardID ids.ShardID) *ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignment := r.assignments[shardID]
	if assignment == nil {
		return nil
	}

	return &ShardAssignment{
		ShardID: assignment.ShardID,
		NodeID:  assignment.NodeID,
	}
}

// GetAllAssignments returns all current shard assignments in the cluster,
// in no particular order, each a copy safe to modify.
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) GetAllAssignments() []*ShardAssignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	assignments := make([]*ShardAssignment, 0, len(r.assignments))
	for _, assignment := range r.assignments {
		assignments = append(assignments, &ShardAssignment{
			ShardID: assignment.ShardID,
			NodeID:  assignment.NodeID,
		})
	}

	return assignments
}

// GetShardForKey determines which shard owns a given key, implementing
// shard_id(key) = hash(key) mod shard_count using an FNV-1a hash for a
// fast, deterministic, well-distributed mapping.
//
// Thread Safety:
// This method is thread-safe and lock-free: pure computation over
// r.shardCount, which is immutable after construction.
func (r *ShardRegistry) GetShardForKey(key string) ids.ShardID {
	h := fnv.New32a()
	h.Write([]byte(key))
	return ids.ShardID(uint64(h.Sum32()) % r.shardCount)
}

// GetNodeForKey finds the node hosting the replica for a given key's
// shard, combining GetShardForKey with an assignment lookup.
//
// Returns an error if the key's shard is not currently assigned to any
// node (e.g. its hosting node failed and reassignment hasn't completed).
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) GetNodeForKey(key string) (string, error) {
	shardID := r.GetShardForKey(key)

	r.mu.RLock()
	assignment := r.assignments[shardID]
	r.mu.RUnlock()

	if assignment == nil {
		return "", fmt.Errorf("shard %d is not assigned to any node", shardID)
	}

	return assignment.NodeID, nil
}

// GetNodeShards returns all shard IDs currently assigned to a specific
// node, in no particular order.
//
// Thread Safety:
// This method is thread-safe and can be called concurrently.
func (r *ShardRegistry) GetNodeShards(nodeID string) []ids.ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var shards []ids.ShardID
	for shardID, assignment := range r.assignments {
		if assignment.NodeID == nodeID {
			shards = append(shards, shardID)
		}
	}

	return shards
}

// ShardCount returns the total number of shards in the cluster. Fixed at
// registry creation; every replica in the cluster was constructed with
// this same value so dependency targeting agrees cluster-wide.
//
// Thread Safety:
// This method is thread-safe and lock-free.
func (r *ShardRegistry) ShardCount() uint64 {
	return r.shardCount
}

// RebalanceShards redistributes shards evenly across the given nodes using
// a round-robin strategy: shard i goes to node[i % len(nodes)]. Previous
// assignments are overwritten.
//
// Current limitations:
//   - Simple round-robin, doesn't consider actual load
//   - No coordination of in-flight commands during reassignment; the node
//     losing a shard keeps its replica state, and the node gaining it
//     starts from an empty replica
//
// Parameters:
//   - nodes: List of node IDs to distribute shards across (must be non-empty)
//
// Thread Safety:
// This method is thread-safe but may cause temporary request failures for
// reassigned shards until clients retry against the new hosting node.
func (r *ShardRegistry) RebalanceShards(nodes []string) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for shardID := uint64(0); shardID < r.shardCount; shardID++ {
		nodeIndex := shardID % uint64(len(nodes))
		nodeID := nodes[nodeIndex]

		r.assignments[ids.ShardID(shardID)] = &ShardAssignment{
			ShardID: ids.ShardID(shardID),
			NodeID:  nodeID,
		}
	}

	r.logger.Info("shards rebalanced", zap.Uint64("shard_count", r.shardCount), zap.Int("node_count", len(nodes)))
	return nil
}
