// Package replica wires kvstore, keydeps and the dependency-graph executor
// into a single-shard command processor suitable for embedding behind an
// HTTP handler. It is the CORE-backed counterpart to the teacher's
// byte-blob internal/shard: every key is a typed ids.Key/ids.Value pair,
// every write goes through KeyDeps and the executor instead of a bare
// mutex-guarded map. The executor runs in execute-at-commit mode, so
// commands release in arrival order without a Tarjan pass.
//
// A Replica only ever drives one shard. Submit files every key of a
// command under that shard; there is no cross-shard path — fanning a multi-shard command out across node processes and
// merging CommandResultBuilder state over the wire is the quorum-
// replication protocol spec.md places out of scope ("TCP/serialization
// glue... contain no deep engineering of their own").
package replica

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/graph"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
	"github.com/dreamware/atlas/internal/kvstore"
)

// Replica is a single-shard, single-process dependency-graph command
// processor: one KeyDeps lane, one store, one executor, all owned by this
// shard alone.
type Replica struct {
	mu        sync.Mutex
	processID ids.ProcessID
	shard     ids.ShardID
	seq       uint64
	store     *kvstore.Store
	deps      *keydeps.Sequential
	exec      *graph.Executor
	logger    *zap.Logger
}

// New builds a Replica for shard, identified on the dependency graph as
// processID. nfr enables the NFR fast path for single-key read-only
// commands (spec.md §4's "non-fault-tolerant read"). The store runs in
// single-cell mode: MRV's multi-cell concurrency is exercised directly by
// internal/kvstore's own suite, not by this HTTP-facing wrapper.
func New(processID ids.ProcessID, shard ids.ShardID, shardCount uint64, nfr bool, logger *zap.Logger) *Replica {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replica{
		processID: processID,
		shard:     shard,
		store:     kvstore.New(false, true, 1),
		deps:      keydeps.NewSequential(shard, nfr),
		exec:      graph.New(processID, shard, shardCount, true),
		logger:    logger,
	}
}

// Submit assigns rifl a Dot, runs it through KeyDeps and the executor, and
// executes it against the store once the executor releases it. Every key
// in ops must belong to this replica's shard; Submit does not route
// cross-shard commands.
func (r *Replica) Submit(rifl ids.Rifl, ops map[ids.Key][]kvstore.Op) (command.CommandResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := command.NewSingleShard(rifl, r.shard, ops)
	r.seq++
	dot := ids.NewDot(r.processID, r.seq)

	deps, indices := r.deps.AddCmd(dot, cmd.KeyDepsCmd(r.shard))
	r.exec.HandleAdd(dot, cmd, deps)

	builder := command.NewCommandResultBuilder(rifl, cmd.KeyCount())
	for _, ready := range r.exec.DrainReady() {
		var idx map[ids.Key][][]int
		if ready.Rifl() == rifl {
			idx = indices
		}
		for _, partial := range ready.Execute(r.shard, r.store, idx) {
			if partial.Rifl == rifl {
				builder.AddPartial(partial)
			}
		}
	}

	if !builder.Ready() {
		// A single-shard lane only ever blocks on dots it has already seen,
		// so this would indicate an executor invariant violation, not a
		// normal runtime condition.
		r.logger.Error("command did not resolve synchronously", zap.Stringer("rifl", rifl), zap.Stringer("dot", dot))
		return command.CommandResult{}, fmt.Errorf("replica: command %s did not resolve synchronously", rifl)
	}
	return builder.Build(), nil
}

// Shard returns the shard this replica drives.
func (r *Replica) Shard() ids.ShardID { return r.shard }
