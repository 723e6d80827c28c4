package graph

import "github.com/dreamware/atlas/internal/ids"

// VertexIndex owns every vertex pending execution on this shard, keyed by
// Dot.
type VertexIndex struct {
	byDot map[ids.Dot]*Vertex
}

// NewVertexIndex returns an empty VertexIndex.
func NewVertexIndex() *VertexIndex {
	return &VertexIndex{byDot: make(map[ids.Dot]*Vertex)}
}

// Index inserts v, returning false if a vertex was already indexed under
// the same Dot (a duplicate Add for a known dot is a protocol-level
// consistency check, not handled here).
func (vi *VertexIndex) Index(v *Vertex) bool {
	if _, exists := vi.byDot[v.Dot]; exists {
		return false
	}
	vi.byDot[v.Dot] = v
	return true
}

// Find looks up the vertex for dot.
func (vi *VertexIndex) Find(dot ids.Dot) (*Vertex, bool) {
	v, ok := vi.byDot[dot]
	return v, ok
}

// Remove deletes and returns the vertex for dot.
func (vi *VertexIndex) Remove(dot ids.Dot) (*Vertex, bool) {
	v, ok := vi.byDot[dot]
	if ok {
		delete(vi.byDot, dot)
	}
	return v, ok
}

// Len reports how many vertices are currently indexed.
func (vi *VertexIndex) Len() int { return len(vi.byDot) }

// PendingIndex is the reverse index from an unresolved dependency Dot to
// the set of Dots waiting on it, plus the set of Dots this shard
// replicates ("mine"). It is the basis for deferred SCC retries and for
// deciding when a cross-shard Request is owed.
type PendingIndex struct {
	shard      ids.ShardID
	shardCount uint64
	index      map[ids.Dot]map[ids.Dot]struct{}
	mine       map[ids.Dot]struct{}
}

// NewPendingIndex constructs a PendingIndex for a shard that owns
// shardCount shards total (used to compute a dot's target shard).
func NewPendingIndex(shard ids.ShardID, shardCount uint64) *PendingIndex {
	return &PendingIndex{
		shard:      shard,
		shardCount: shardCount,
		index:      make(map[ids.Dot]map[ids.Dot]struct{}),
		mine:       make(map[ids.Dot]struct{}),
	}
}

// AddMine records dot as one this shard replicates.
func (p *PendingIndex) AddMine(dot ids.Dot) { p.mine[dot] = struct{}{} }

// IsMine reports whether this shard replicates dot.
func (p *PendingIndex) IsMine(dot ids.Dot) bool {
	_, ok := p.mine[dot]
	return ok
}

// Index records that dot is blocked waiting on depDot. It returns the
// target shard and true the first time depDot is seen as a missing
// dependency and this shard doesn't replicate it — the caller owes that
// shard a Request. Subsequent waiters on the same depDot are folded into
// the existing waiter set without triggering another Request.
func (p *PendingIndex) Index(depDot, dot ids.Dot) (ids.ShardID, bool) {
	waiters, exists := p.index[depDot]
	if !exists {
		waiters = make(map[ids.Dot]struct{})
		p.index[depDot] = waiters
		waiters[dot] = struct{}{}

		target := depDot.TargetShard(p.shardCount)
		if target != p.shard && !p.IsMine(depDot) {
			return target, true
		}
		return 0, false
	}
	waiters[dot] = struct{}{}
	return 0, false
}

// Remove clears depDot's waiter set (depDot has resolved) and returns it.
func (p *PendingIndex) Remove(depDot ids.Dot) (map[ids.Dot]struct{}, bool) {
	delete(p.mine, depDot)
	waiters, ok := p.index[depDot]
	if ok {
		delete(p.index, depDot)
	}
	return waiters, ok
}
