// Package main implements the Atlas node service, which hosts the
// dependency-graph replica processors for its assigned shards and
// registers with the coordinator.
//
// The node is a worker in the cluster, responsible for:
//   - Executing typed commands through KeyDeps and the dependency-graph
//     executor (GET/PUT/ADD/SUBTRACT/DELETE on ids.Key/ids.Value)
//   - Registering with the coordinator
//   - Responding to health checks
//   - Creating replicas on-demand when requests arrive for a shard it
//     hasn't yet served
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                      │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /control      - Control messages     │
//	│    /command/*    - Typed KeyDeps/graph  │
//	│                    command submission   │
//	│    /info         - Node information     │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    Node          - Runtime state        │
//	│    replicas map  - Active graph replicas│
//	│    Registration  - Coordinator link     │
//	└─────────────────────────────────────────┘
//
// Configuration:
//   - NODE_ID: Unique node identifier (required)
//   - NODE_LISTEN: Listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - NODE_SHARD_COUNT: Total shard count for dependency targeting (default: 4)
//   - NODE_NFR: "true" to enable the NFR single-key read fast path (default: false)
//
// Example usage:
//
//	# Start node
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
//
//	# Submit a typed command (through the node directly)
//	curl -X POST localhost:8081/command/0 \
//	  -d '{"client_id":1,"seq":1,"ops":{"balance":[{"kind":"put","operand":10}]}}'
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/atlas/internal/cluster"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
	"github.com/dreamware/atlas/internal/replica"
	"github.com/dreamware/atlas/internal/telemetry"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
// This indirection enables test code to intercept fatal errors
// without actually terminating the test process.
var logFatal = log.Fatalf

// logger is the node's structured logger; tests leave it at its zero value
// (a working no-op logger), production main() swaps in a real one.
var logger = telemetry.NewNop()

// Node represents a worker in the cluster, hosting dependency-graph
// replica processors for the shards routed to it by the coordinator.
//
// Replica management:
//   - Replicas are created lazily when first accessed
//   - Each replica has independent KeyDeps/executor/kvstore state
//   - Thread-safe access through RWMutex
//
// Concurrency model:
//   - Multiple readers can access the replica map concurrently
//   - Replica creation requires exclusive lock
//   - Individual replicas handle their own synchronization
type Node struct {
	// replicas maps shard IDs to their dependency-graph command
	// processors, created on demand and protected by mu.
	replicas map[ids.ShardID]*replica.Replica

	// ID uniquely identifies this node in the cluster.
	// Format: typically "node-{number}" or UUID.
	// Immutable after creation.
	ID string

	// processID identifies this node on the dependency graph. Derived
	// deterministically from ID so dots stay stable across restarts.
	processID ids.ProcessID

	// mu protects concurrent access to the replicas map.
	mu sync.RWMutex
}

// NewNode creates a new node instance ready to manage replicas for its
// assigned shards.
func NewNode(id string) *Node {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return &Node{
		ID:        id,
		processID: ids.ProcessID(h.Sum64()),
		replicas:  make(map[ids.ShardID]*replica.Replica),
	}
}

// GetOrCreateReplica returns this node's dependency-graph command
// processor for shardID, creating it on first use.
func (n *Node) GetOrCreateReplica(shardID ids.ShardID, shardCount uint64, nfr bool) *replica.Replica {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.replicas[shardID]
	if !ok {
		r = replica.New(n.processID, shardID, shardCount, nfr, logger)
		n.replicas[shardID] = r
	}
	return r
}

// ShardIDs returns the set of shard IDs this node currently hosts a
// replica for, sorted is not guaranteed.
func (n *Node) ShardIDs() []ids.ShardID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]ids.ShardID, 0, len(n.replicas))
	for id := range n.replicas {
		out = append(out, id)
	}
	return out
}

// main initializes and runs the node service, registering with the coordinator
// and serving command operations until shutdown.
//
// The main function:
//  1. Reads configuration from environment variables
//  2. Creates node instance with replica management
//  3. Sets up HTTP endpoints for operations
//  4. Registers with coordinator (with retries)
//  5. Serves requests until shutdown signal
//  6. Performs graceful shutdown
//
// Required environment:
//   - NODE_ID: Unique identifier for this node
//   - COORDINATOR_ADDR: URL of coordinator service
//
// Optional environment:
//   - NODE_LISTEN: Local listen address (default: ":8081")
//   - NODE_ADDR: Public address for coordinator (default: "http://127.0.0.1:8081")
//
// Exit codes:
//   - 0: Normal shutdown via signal
//   - 1: Missing required configuration
//   - 1: Failed to register with coordinator
//   - 1: Failed to start HTTP server
func main() {
	logger = telemetry.New("node")
	defer logger.Sync()

	// Read required configuration
	nodeID := mustGetenv("NODE_ID")
	listen := getenv("NODE_LISTEN", ":8081")
	public := getenv("NODE_ADDR", "http://127.0.0.1:8081")
	coord := mustGetenv("COORDINATOR_ADDR")
	shardCount := envUint64("NODE_SHARD_COUNT", 4)
	nfr := getenv("NODE_NFR", "false") == "true"

	// Create node with replica management
	node := NewNode(nodeID)

	// Replicas will be created on-demand when the coordinator routes
	// requests. This avoids the need for explicit shard assignment.
	logger.Info("node initialized", zap.String("node_id", nodeID), zap.String("mode", "replicas created on demand"))

	// Configure HTTP routes
	mux := http.NewServeMux()

	// Health check endpoint for monitoring
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Control endpoint for coordinator commands
	mux.HandleFunc("/control", handleControl)

	// Dependency-graph command endpoint.
	// Path: /command/{shardID}
	mux.HandleFunc("/command/", func(w http.ResponseWriter, r *http.Request) {
		handleCommandRequest(node, shardCount, nfr, w, r)
	})

	// Node info endpoint for debugging and monitoring
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		handleNodeInfo(node, w, r)
	})

	// Configure HTTP server with security timeouts
	s := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
	}

	// Start server in goroutine for non-blocking operation
	go func() {
		logger.Info("node listening", zap.String("node_id", nodeID), zap.String("listen", listen), zap.String("public", public))
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	// Register with coordinator (with retries)
	ctx := context.Background()
	register(ctx, coord, nodeID, public)

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for shutdown signal
	<-stop

	// Initiate graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("node stopped")
}

// register attempts to register the node with the coordinator, retrying on
// failure to handle coordinator startup delays or temporary network issues.
//
// Retry strategy:
//   - 10 attempts maximum
//   - 400ms delay between attempts
//   - Fatal error if all attempts fail
func register(ctx context.Context, coord, id, addr string) {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error

	for i := 0; i < 10; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, nil)
		if lastErr == nil {
			logger.Info("registered with coordinator", zap.String("coordinator", coord))
			return
		}
		logger.Warn("register retry", zap.Int("attempt", i+1), zap.Error(lastErr))
		time.Sleep(400 * time.Millisecond)
	}

	logFatal("failed to register with coordinator: %v", lastErr)
}

// handleControl processes control messages from the coordinator for cluster
// management operations like configuration updates or maintenance commands.
//
// Endpoint: POST /control
//
// Current implementation logs the payload and always returns success; no
// control operations are implemented yet.
func handleControl(w http.ResponseWriter, r *http.Request) {
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(r.Body); err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	logger.Debug("control payload", zap.ByteString("payload", raw.Bytes()))

	w.WriteHeader(http.StatusNoContent)
}

func toStoreOp(w cluster.CommandOpWire) (kvstore.Op, error) {
	switch w.Kind {
	case "get":
		return kvstore.Get(), nil
	case "put":
		return kvstore.Put(w.Operand), nil
	case "add":
		return kvstore.Add(w.Operand), nil
	case "subtract":
		return kvstore.Subtract(w.Operand), nil
	case "delete":
		return kvstore.Delete(), nil
	default:
		return kvstore.Op{}, &unknownOpKindError{w.Kind}
	}
}

type unknownOpKindError struct{ kind string }

func (e *unknownOpKindError) Error() string {
	return "unknown op kind " + strconv.Quote(e.kind)
}

// handleCommandRequest routes a client command to this node's replica for
// the path's shard ID, creating the replica on demand, and returns the
// per-key results once the dependency-graph executor releases it.
//
// Endpoint: POST /command/{shardID}
func handleCommandRequest(node *Node, shardCount uint64, nfr bool, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	shardIDStr := strings.TrimPrefix(r.URL.Path, "/command/")
	shardIDNum, err := strconv.ParseUint(shardIDStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid shard ID", http.StatusBadRequest)
		return
	}
	shardID := ids.ShardID(shardIDNum)

	var req cluster.CommandWire
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ops := make(map[ids.Key][]kvstore.Op, len(req.Ops))
	for key, wireOps := range req.Ops {
		converted := make([]kvstore.Op, 0, len(wireOps))
		for _, wo := range wireOps {
			op, err := toStoreOp(wo)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			converted = append(converted, op)
		}
		ops[key] = converted
	}

	rep := node.GetOrCreateReplica(shardID, shardCount, nfr)
	result, err := rep.Submit(ids.NewRifl(ids.ClientID(req.ClientID), req.Seq), ops)
	if err != nil {
		logger.Error("command submission failed", zap.Error(err), zap.Uint64("shard_id", uint64(shardID)))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster.CommandResultWire{Results: result.Results})
}

// handleNodeInfo returns information about the node and the shards it
// currently hosts a replica for, for monitoring and debugging purposes.
//
// Endpoint: GET /info
//
// Response body:
//
//	{
//	  "node_id": "node-1",
//	  "shard_count": 2,
//	  "shard_ids": [0, 1]
//	}
func handleNodeInfo(node *Node, w http.ResponseWriter, r *http.Request) {
	shardIDs := node.ShardIDs()

	response := struct {
		NodeID    string         `json:"node_id"`
		ShardIDs  []ids.ShardID  `json:"shard_ids"`
		Count     int            `json:"shard_count"`
	}{
		NodeID:   node.ID,
		ShardIDs: shardIDs,
		Count:    len(shardIDs),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// program if it's not set to ensure configuration completeness.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
}

// envUint64 retrieves an environment variable parsed as uint64, falling
// back to def when unset or unparseable.
func envUint64(k string, def uint64) uint64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}
