package graph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
)

// Executor is the per-shard dependency-graph executor: it owns the pending
// vertex and dependency indices for one shard, releases strongly-connected
// components in deterministic order, and tracks outbound cross-shard
// protocol messages for the caller to dispatch.
type Executor struct {
	processID       ids.ProcessID
	shard           ids.ShardID
	shardCount      uint64
	executeAtCommit bool

	vertexIndex   *VertexIndex
	pendingIndex  *PendingIndex
	executedClock *ExecutedClock

	toExecute        []*command.Command
	outboundRequests []OutboundRequest
	executedPending  []ids.Dot

	sf singleflight.Group
}

// New constructs an Executor for shard, out of shardCount total shards.
// When executeAtCommit is true the SCC machinery is bypassed entirely and
// every committed command executes immediately in arrival order — a
// degraded but simple mode useful for single-shard deployments or testing.
func New(processID ids.ProcessID, shard ids.ShardID, shardCount uint64, executeAtCommit bool) *Executor {
	return &Executor{
		processID:       processID,
		shard:           shard,
		shardCount:      shardCount,
		executeAtCommit: executeAtCommit,
		vertexIndex:     NewVertexIndex(),
		pendingIndex:    NewPendingIndex(shard, shardCount),
		executedClock:   NewExecutedClock(),
	}
}

// HandleAdd processes a freshly committed local command: dot is a dot this
// shard replicates.
func (e *Executor) HandleAdd(dot ids.Dot, cmd *command.Command, deps keydeps.DepSet) {
	if e.executeAtCommit {
		e.executedClock.MarkExecuted(dot)
		e.toExecute = append(e.toExecute, cmd)
		e.executedPending = append(e.executedPending, dot)
		return
	}

	if e.executedClock.Contains(dot) {
		return
	}
	if existing, found := e.vertexIndex.Find(dot); found {
		if !sameDeps(existing.Deps, deps) {
			panic(fmt.Sprintf("graph: duplicate Add for dot %v with mismatched deps", dot))
		}
		return
	}

	e.pendingIndex.AddMine(dot)
	v := NewVertex(dot, cmd, deps)
	if !e.vertexIndex.Index(v) {
		panic(fmt.Sprintf("graph: duplicate Add for dot %v", dot))
	}
	e.findSCC(dot)
}

// findSCC runs Tarjan from dot, saves every completed SCC, and recursively
// retries every dot that was waiting on a now-resolved member — the
// "iterate to a fixpoint" step. It returns the keys touched by any SCC
// released as a direct or indirect result of this call.
func (e *Executor) findSCC(dot ids.Dot) []ids.Key {
	sccs := newTarjanRun(e).run(dot)
	if len(sccs) == 0 {
		return nil
	}

	var touchedKeys []ids.Key
	var retry []ids.Dot
	for _, scc := range sccs {
		keys, waiters := e.saveSCC(scc)
		touchedKeys = append(touchedKeys, keys...)
		retry = append(retry, waiters...)
	}
	for _, w := range retry {
		touchedKeys = append(touchedKeys, e.findSCC(w)...)
	}
	return touchedKeys
}

// saveSCC releases scc in Dot-ascending order: marks each member executed,
// removes it from the vertex and pending indices, queues its command for
// execution, and collects the keys it touched plus any dots that were
// waiting on it.
func (e *Executor) saveSCC(scc []ids.Dot) (keys []ids.Key, waiters []ids.Dot) {
	sort.Slice(scc, func(i, j int) bool { return scc[i].Less(scc[j]) })

	for _, d := range scc {
		e.executedClock.MarkExecuted(d)

		v, ok := e.vertexIndex.Remove(d)
		if !ok {
			panic(fmt.Sprintf("graph: SCC member %v missing from vertex index", d))
		}

		if ws, found := e.pendingIndex.Remove(d); found {
			for w := range ws {
				waiters = append(waiters, w)
			}
		}

		keys = append(keys, v.Cmd.ShardToKeys(e.shard)...)
		e.toExecute = append(e.toExecute, v.Cmd)
		e.executedPending = append(e.executedPending, d)
	}
	return keys, waiters
}

// queueRequest records that this shard owes target a Request for dot.
func (e *Executor) queueRequest(target ids.ShardID, dot ids.Dot) {
	e.outboundRequests = append(e.outboundRequests, OutboundRequest{Target: target, Dot: dot})
}

// HandleRequest answers a peer shard's request for metadata about dots:
// already-executed dots are reported as such; still-pending committed
// vertices are reported with their command and deps; anything this shard
// doesn't know about yet is omitted from the reply. The requester does not
// send a second Request for an omitted dot.
func (e *Executor) HandleRequest(dots []ids.Dot) RequestReply {
	entries := make([]ReplyEntry, 0, len(dots))
	for _, d := range dots {
		if e.executedClock.Contains(d) {
			entries = append(entries, ReplyEntry{Dot: d, Executed: true})
			continue
		}
		if v, found := e.vertexIndex.Find(d); found {
			entries = append(entries, ReplyEntry{Dot: d, Committed: true, Cmd: v.Cmd, Deps: v.Deps})
		}
	}
	return RequestReply{Entries: entries}
}

// HandleRequestReply ingests the answers to an earlier Request.
func (e *Executor) HandleRequestReply(reply RequestReply) {
	for _, entry := range reply.Entries {
		switch {
		case entry.Executed:
			e.resolveExecuted(entry.Dot)
		case entry.Committed:
			e.ingestRemote(entry.Dot, entry.Cmd, entry.Deps)
		}
	}
}

// HandleExecuted applies a peer's notification that dots have executed, so
// any local vertex waiting on them can retry.
func (e *Executor) HandleExecuted(dots []ids.Dot) {
	for _, d := range dots {
		e.resolveExecuted(d)
	}
}

func (e *Executor) resolveExecuted(dot ids.Dot) {
	e.executedClock.MarkExecuted(dot)
	if waiters, found := e.pendingIndex.Remove(dot); found {
		for w := range waiters {
			e.findSCC(w)
		}
	}
}

func (e *Executor) ingestRemote(dot ids.Dot, cmd *command.Command, deps keydeps.DepSet) {
	if e.executedClock.Contains(dot) {
		return
	}
	if _, found := e.vertexIndex.Find(dot); found {
		return
	}
	v := NewVertex(dot, cmd, deps)
	if !e.vertexIndex.Index(v) {
		return
	}
	e.findSCC(dot)
}

// DrainReady returns every command released for local execution since the
// last call, clearing the internal queue.
func (e *Executor) DrainReady() []*command.Command {
	out := e.toExecute
	e.toExecute = nil
	return out
}

// DrainOutboundRequests returns every Request this shard owes a peer since
// the last call, clearing the internal queue.
func (e *Executor) DrainOutboundRequests() []OutboundRequest {
	out := e.outboundRequests
	e.outboundRequests = nil
	return out
}

// DrainExecutedNotifications returns every dot this shard has executed
// since the last call, for the caller to gossip to peers as an Executed
// message.
func (e *Executor) DrainExecutedNotifications() []ids.Dot {
	out := e.executedPending
	e.executedPending = nil
	return out
}

// Cleanup is the periodic GC tick named in the external interface. Vertices
// are already dropped the moment their SCC releases, so there is nothing
// left to reclaim here; it exists so callers have a stable place to hook
// future housekeeping.
func (e *Executor) Cleanup() {}

// RequestSender dispatches an outbound Request to target and returns its
// reply; the caller supplies the actual transport.
type RequestSender func(ctx context.Context, target ids.ShardID, dot ids.Dot) (RequestReply, error)

// ResolveOutbound drains every owed Request and dispatches them
// concurrently via errgroup, deduping identical in-flight (target, dot)
// sends through a singleflight group so two vertices blocked on the same
// remote dot collapse into one physical send. Replies are applied in
// request order once every send has returned; if any send fails, no reply
// is applied and the first error is returned.
func (e *Executor) ResolveOutbound(ctx context.Context, send RequestSender) error {
	pending := e.DrainOutboundRequests()
	if len(pending) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	replies := make([]RequestReply, len(pending))
	for i, req := range pending {
		i, req := i, req
		g.Go(func() error {
			reply, err := e.sendDeduped(gctx, req, send)
			if err != nil {
				return err
			}
			replies[i] = reply
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, reply := range replies {
		e.HandleRequestReply(reply)
	}
	return nil
}

func (e *Executor) sendDeduped(ctx context.Context, req OutboundRequest, send RequestSender) (RequestReply, error) {
	key := fmt.Sprintf("%d:%s", req.Target, req.Dot)
	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		return send(ctx, req.Target, req.Dot)
	})
	if err != nil {
		return RequestReply{}, err
	}
	return v.(RequestReply), nil
}

func sameDeps(a, b keydeps.DepSet) bool {
	if len(a) != len(b) {
		return false
	}
	for dot := range a {
		if _, ok := b[dot]; !ok {
			return false
		}
	}
	return true
}
