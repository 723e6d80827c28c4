// Package main implements the Atlas coordinator service, which orchestrates
// the cluster by managing node registration, shard-to-node assignment, and
// routing client commands to the node hosting each shard's replica.
//
// The coordinator is the control plane for the cluster, responsible for:
//   - Node registration and health monitoring
//   - Shard-to-node assignment management
//   - Routing /data requests to the node hosting the relevant shard's
//     replica, via that node's typed /command endpoint
//   - Cluster-wide broadcast operations
//   - Administrative operations (manual shard assignment, rebalancing)
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│            Coordinator                   │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /register     - Node registration    │
//	│    /nodes        - List active nodes    │
//	│    /data/*       - Route data requests  │
//	│    /shards       - Manage assignments   │
//	│    /broadcast    - Cluster-wide ops     │
//	│    /health       - Health check         │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    server        - HTTP handler state   │
//	│    ShardRegistry - Shard assignments    │
//	│    nodes[]       - Active node list     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - COORDINATOR_ADDR: Listen address (default: ":8080")
//   - COORDINATOR_SHARD_COUNT: Total shard count (default: 4)
//   - HEALTH_CHECK_INTERVAL: Duration between node health probes (default: 5s)
//
// Example usage:
//
//	# Start coordinator
//	COORDINATOR_ADDR=:8080 ./coordinator
//
//	# Register a node
//	curl -X POST localhost:8080/register \
//	  -d '{"node":{"id":"node-1","addr":"http://localhost:8081"}}'
//
//	# Store a value (routed to the shard hosting "balance:1")
//	curl -X PUT localhost:8080/data/balance:1 -d '42'
//
//	# Read it back
//	curl localhost:8080/data/balance:1
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/atlas/internal/cluster"
	"github.com/dreamware/atlas/internal/coordinator"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/telemetry"
)

// Health status constants for node health monitoring
const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
	healthStatusUnknown   = "unknown"
)

// logger is the coordinator's structured logger; tests leave it at its
// initial no-op logger, production main() swaps in a real one.
var logger = telemetry.NewNop()

// logFatal is a variable to allow mocking log.Fatal in tests, mirroring
// cmd/node's indirection.
var logFatal = log.Fatalf

// main initializes and runs the coordinator service, setting up HTTP endpoints
// for cluster management and gracefully handling shutdown signals.
//
// The main function:
//  1. Configures the HTTP server with appropriate timeouts
//  2. Registers all API endpoints for cluster operations
//  3. Starts the server in a goroutine for non-blocking operation
//  4. Sets up signal handlers for graceful shutdown
//  5. Waits for termination signal (SIGINT/SIGTERM)
//  6. Performs graceful shutdown with 5-second timeout
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Fatal error during startup or operation
func main() {
	logger = telemetry.New("coordinator")
	defer logger.Sync()

	// Get listen address from environment or use default
	addr := getenv("COORDINATOR_ADDR", ":8080")

	// Initialize server with shard registry
	srv := newServer()

	// Start health monitor in background
	go srv.healthMonitor.Start(context.Background(), func() []cluster.NodeInfo {
		srv.mu.RLock()
		defer srv.mu.RUnlock()
		nodes := make([]cluster.NodeInfo, len(srv.nodes))
		copy(nodes, srv.nodes)
		return nodes
	})

	// Configure HTTP routes
	mux := http.NewServeMux()

	// Node management endpoints
	mux.HandleFunc("/register", srv.handleRegister)   // POST: Register/update node
	mux.HandleFunc("/nodes", srv.handleListNodes)     // GET: List all nodes
	mux.HandleFunc("/broadcast", srv.handleBroadcast) // POST: Broadcast to all nodes
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Data routing endpoint - forwards client requests to the node hosting
	// the relevant shard's replica, via its /command endpoint
	mux.HandleFunc("/data/", srv.handleData)

	// Shard management endpoints for admin operations
	mux.HandleFunc("/shards", srv.handleShards)             // GET: List shard assignments
	mux.HandleFunc("/shards/assign", srv.handleShardAssign) // POST: Manual shard assignment

	// Configure HTTP server with security timeouts
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	// Start server in goroutine to allow for graceful shutdown
	go func() {
		logger.Info("coordinator listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-stop

	// Stop health monitor first
	logger.Info("stopping health monitor")
	srv.healthMonitor.Stop()

	// Initiate graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	logger.Info("coordinator stopped")
}

// server encapsulates the coordinator's runtime state: registered nodes and
// the shard-to-node assignment registry, with thread-safe access patterns.
//
// Concurrency model:
//   - Multiple readers can access node list concurrently (RLock)
//   - Write operations (registration, updates) require exclusive access (Lock)
//   - Registry has its own internal synchronization
type server struct {
	// registry manages shard-to-node assignments for data distribution.
	// Thread-safe: handles its own synchronization internally.
	registry *coordinator.ShardRegistry

	// healthMonitor periodically checks node health status
	healthMonitor *coordinator.HealthMonitor

	// nodes contains all registered nodes in the cluster.
	nodes []cluster.NodeInfo

	// proxySeq generates unique Rifl sequence numbers for commands the
	// coordinator synthesizes while proxying /data requests.
	proxySeq uint64

	// mu protects concurrent access to the nodes slice.
	mu sync.RWMutex
}

// newServer creates and initializes a new coordinator server instance.
//
// Default configuration:
//   - COORDINATOR_SHARD_COUNT shards (default 4): matches the shard_count
//     every node constructs its replicas with, so dependency targeting
//     agrees cluster-wide
//   - Empty node list: nodes register themselves after startup
func newServer() *server {
	shardCount := uint64(4)
	if envCount := os.Getenv("COORDINATOR_SHARD_COUNT"); envCount != "" {
		if parsed, err := strconv.ParseUint(envCount, 10, 64); err == nil && parsed > 0 {
			shardCount = parsed
		}
	}

	healthInterval := 5 * time.Second
	if envInterval := os.Getenv("HEALTH_CHECK_INTERVAL"); envInterval != "" {
		if parsed, err := time.ParseDuration(envInterval); err == nil {
			healthInterval = parsed
			logger.Info("health check interval set", zap.Duration("interval", healthInterval))
		}
	}

	srv := &server{
		registry:      coordinator.NewShardRegistry(shardCount),
		healthMonitor: coordinator.NewHealthMonitor(healthInterval),
	}
	srv.healthMonitor.SetLogger(logger)
	srv.registry.SetLogger(logger)
	srv.healthMonitor.SetShardLookup(srv.registry.GetNodeShards)

	// Set up callback for when nodes become unhealthy
	srv.healthMonitor.SetOnUnhealthy(func(nodeID string) {
		logger.Warn("node unhealthy, triggering shard reassignment", zap.String("node_id", nodeID))
		srv.markNodeUnhealthy(nodeID)

		srv.mu.Lock()
		defer srv.mu.Unlock()
		for _, sid := range srv.registry.GetNodeShards(nodeID) {
			if err := srv.registry.RemoveShard(sid); err != nil {
				logger.Error("error releasing shard of unhealthy node", zap.Uint64("shard_id", uint64(sid)), zap.String("node_id", nodeID), zap.Error(err))
			}
		}
		srv.autoAssignShards()
	})

	return srv
}

// handleRegister processes node registration requests, updating the cluster
// membership and triggering shard assignment for new nodes.
//
// Endpoint: POST /register
//
// Registration behavior:
//   - New nodes: added to cluster and assigned shards via round-robin
//   - Existing nodes: updated in-place (for address changes)
//
// Thread safety:
//   - Acquires write lock for entire operation
func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.nodes, func(n cluster.NodeInfo) bool { return n.ID == req.Node.ID })
	if idx >= 0 {
		s.nodes[idx] = req.Node
	} else {
		s.nodes = append(s.nodes, req.Node)
		s.autoAssignShards()
	}

	w.WriteHeader(http.StatusNoContent)
}

// markNodeUnhealthy marks a node as unhealthy in the active nodes list by ID.
// The node remains in the list for visibility but is marked as unhealthy.
//
// Thread-safe: Uses write lock to protect nodes slice modification.
func (s *server) markNodeUnhealthy(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, node := range s.nodes {
		if node.ID == nodeID {
			s.nodes[i].Status = healthStatusUnhealthy
			logger.Info("marked node unhealthy in cluster", zap.String("node_id", nodeID))
			return
		}
	}
}

// handleListNodes returns the list of all registered nodes in the cluster.
//
// Endpoint: GET /nodes
//
// Thread safety:
//   - Uses read lock for concurrent access
func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allHealth := s.healthMonitor.GetAllNodeHealth()

	nodes := make([]cluster.NodeInfo, len(s.nodes))
	for i, node := range s.nodes {
		nodes[i] = node
		if node.Status != healthStatusUnhealthy {
			if health := allHealth[node.ID]; health != nil {
				nodes[i].Status = health.Status
				nodes[i].LastHealthCheck = health.LastCheck
			} else {
				nodes[i].Status = healthStatusUnknown
			}
		}
	}

	if err := json.NewEncoder(w).Encode(struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: nodes}); err != nil {
		logger.Error("error encoding nodes response", zap.Error(err))
	}
}

// handleBroadcast sends a request to each registered node in turn, useful
// for cluster-wide operations like control-channel pushes.
//
// Endpoint: POST /broadcast
//
// Thread safety:
//   - Takes snapshot of node list to avoid holding lock during I/O
func (s *server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req cluster.BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if req.Path == "" || req.Path[0] != '/' {
		http.Error(w, "path must start with '/'", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	targets := append([]cluster.NodeInfo(nil), s.nodes...)
	s.mu.RUnlock()

	type result struct {
		NodeID string `json:"node_id"`
		Err    string `json:"err,omitempty"`
	}
	out := make([]result, 0, len(targets))

	ctx, cancel := context.WithTimeout(r.Context(), 4*time.Second)
	defer cancel()

	for _, n := range targets {
		url := n.Addr + req.Path
		err := cluster.PostJSON(ctx, url, req.Payload, nil)
		res := result{NodeID: n.ID}
		if err != nil {
			res.Err = err.Error()
		}
		out = append(out, res)
	}

	if err := json.NewEncoder(w).Encode(struct {
		Results []result `json:"results"`
		SentTo  int      `json:"sent_to"`
	}{Results: out, SentTo: len(out)}); err != nil {
		logger.Error("error encoding broadcast results", zap.Error(err))
	}
}

// handleData routes single-key data operations to the node hosting the
// relevant shard's replica, translating the HTTP verb into a one-op
// command submitted through that node's /command endpoint.
//
// Endpoint: GET|PUT|DELETE /data/{key}
//
// Routing algorithm:
//  1. Extract key from URL path
//  2. shard_id(key) = hash(key) mod shard_count
//  3. Look up the node hosting that shard's replica
//  4. Build a single-key CommandWire for the requested verb:
//     GET -> {"get"}, PUT -> {"put", value}, DELETE -> {"delete"}
//  5. POST it to the node's /command/{shardID} and translate the result
//
// PUT request bodies are a decimal unsigned integer (the counter value),
// matching ids.Value's uint16 range.
//
// Error handling:
//   - 400 Bad Request: missing key, or a PUT body that isn't a valid uint16
//   - 503 Service Unavailable: no node assigned to the key's shard, or the
//     assigned node isn't registered
//   - 502 Bad Gateway: failed to reach the node
//   - 404 Not Found: GET for a key with no value
//   - 405 Method Not Allowed: unsupported HTTP method
func (s *server) handleData(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/data/"):]
	if key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	nodeID, err := s.registry.GetNodeForKey(key)
	if err != nil {
		http.Error(w, fmt.Sprintf("no node assigned for key: %v", err), http.StatusServiceUnavailable)
		return
	}

	s.mu.RLock()
	var nodeAddr string
	for _, node := range s.nodes {
		if node.ID == nodeID {
			nodeAddr = node.Addr
			break
		}
	}
	s.mu.RUnlock()

	if nodeAddr == "" {
		http.Error(w, fmt.Sprintf("node %s not found", nodeID), http.StatusServiceUnavailable)
		return
	}

	shardID := s.registry.GetShardForKey(key)

	var op cluster.CommandOpWire
	switch r.Method {
	case http.MethodGet:
		op = cluster.CommandOpWire{Kind: "get"}
	case http.MethodPut:
		defer r.Body.Close()
		var buf [8]byte
		n, _ := r.Body.Read(buf[:])
		value, err := strconv.ParseUint(string(buf[:n]), 10, 16)
		if err != nil {
			http.Error(w, "put body must be a decimal value in [0, 65535]", http.StatusBadRequest)
			return
		}
		op = cluster.CommandOpWire{Kind: "put", Operand: ids.Value(value)}
	case http.MethodDelete:
		op = cluster.CommandOpWire{Kind: "delete"}
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wire := cluster.CommandWire{
		ClientID: 0,
		Seq:      atomic.AddUint64(&s.proxySeq, 1),
		Ops:      map[ids.Key][]cluster.CommandOpWire{key: {op}},
	}

	targetURL := fmt.Sprintf("%s/command/%d", nodeAddr, shardID)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var result cluster.CommandResultWire
	if err := cluster.PostJSON(ctx, targetURL, wire, &result); err != nil {
		http.Error(w, fmt.Sprintf("failed to forward request: %v", err), http.StatusBadGateway)
		return
	}

	switch r.Method {
	case http.MethodGet:
		values := result.Results[key]
		if len(values) == 0 || values[0] == nil {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%d", *values[0])
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleShards returns current shard assignments for monitoring and debugging.
//
// Endpoint: GET /shards
//
// Thread safety:
//   - Registry handles its own synchronization
func (s *server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	assignments := s.registry.GetAllAssignments()

	response := struct {
		Shards     []*coordinator.ShardAssignment `json:"shards"`
		ShardCount uint64                         `json:"shard_count"`
	}{
		Shards:     assignments,
		ShardCount: s.registry.ShardCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("error encoding shards response", zap.Error(err))
	}
}

// handleShardAssign manually assigns a shard to a node for administrative
// operations like rebalancing, recovery, or initial cluster setup.
//
// Endpoint: POST /shards/assign
//
// Request body:
//
//	{"shard_id": 0, "node_id": "node-1"}
//
// Thread safety:
//   - Registry handles synchronization internally
func (s *server) handleShardAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		NodeID  string      `json:"node_id"`
		ShardID ids.ShardID `json:"shard_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	if err := s.registry.AssignShard(req.ShardID, req.NodeID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// autoAssignShards automatically distributes unassigned shards among
// healthy registered nodes using round-robin allocation.
//
// When called:
//   - After new node registration
//   - After a node is marked unhealthy (reassigns its shards)
//
// Limitations:
//   - Simple round-robin, doesn't consider node capacity
//   - Only assigns unassigned shards; doesn't rebalance existing ones
//
// Thread safety:
//   - Must be called with s.mu held
func (s *server) autoAssignShards() {
	var healthyNodes []cluster.NodeInfo
	for _, node := range s.nodes {
		if node.Status != healthStatusUnhealthy {
			healthyNodes = append(healthyNodes, node)
		}
	}

	if len(healthyNodes) == 0 {
		logger.Warn("no healthy nodes available for shard assignment")
		return
	}

	assignments := s.registry.GetAllAssignments()
	assignedShards := make(map[ids.ShardID]bool, len(assignments))
	for _, a := range assignments {
		assignedShards[a.ShardID] = true
	}

	nodeIndex := 0
	for shardID := uint64(0); shardID < s.registry.ShardCount(); shardID++ {
		sid := ids.ShardID(shardID)
		if !assignedShards[sid] {
			nodeID := healthyNodes[nodeIndex].ID
			if err := s.registry.AssignShard(sid, nodeID); err != nil {
				logger.Error("error assigning shard", zap.Uint64("shard_id", shardID), zap.String("node_id", nodeID), zap.Error(err))
			}
			logger.Info("auto-assigned shard", zap.Uint64("shard_id", shardID), zap.String("node_id", nodeID))
			nodeIndex = (nodeIndex + 1) % len(healthyNodes)
		}
	}
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
