package keydeps

import (
	"math/rand"
	"sync"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

// MRV is the multi-record-value KeyDeps implementation: every key's
// conflict state is split into N independent LatestRWDep slots. Each
// operation touches a subset of those slots (its "index set"), so two
// commands whose index sets are disjoint on every shared key never
// conflict even though they touch the same key.
//
// Index sets are normally supplied by the caller (mirroring the store's own
// cell selection, so the two stay in lockstep); MRV only falls back to
// choosing its own when none is given, using the conservative choices
// documented on defaultIndices.
type MRV struct {
	mu         sync.Mutex
	shard      ids.ShardID
	nfr        bool
	n          int
	rng        *rand.Rand
	slots      map[ids.Key][]*LatestRWDep
	latestNoop *Dependency
}

// NewMRV constructs an MRV KeyDeps for shard with n sub-records per key.
func NewMRV(shard ids.ShardID, nfr bool, n int) *MRV {
	if n <= 0 {
		n = 1
	}
	return &MRV{
		shard: shard,
		nfr:   nfr,
		n:     n,
		rng:   rand.New(rand.NewSource(1)),
		slots: make(map[ids.Key][]*LatestRWDep),
	}
}

func (m *MRV) slotsFor(key ids.Key) []*LatestRWDep {
	s, ok := m.slots[key]
	if !ok {
		s = make([]*LatestRWDep, m.n)
		for i := range s {
			s[i] = &LatestRWDep{}
		}
		m.slots[key] = s
	}
	return s
}

// defaultIndices chooses an op's index set when the caller left it unset:
// Get/Put/Delete touch every sub-record; Add touches one random
// sub-record. Subtract also falls back to every sub-record, since MRV has
// no access to the store's current cell balances to run the greedy walk
// itself — callers that care about precise Subtract disjointness should
// supply indices computed by kvstore.Store.IndicesFor.
func (m *MRV) defaultIndices(op kvstore.Op) []int {
	switch op.Kind {
	case kvstore.OpAdd:
		return []int{m.rng.Intn(m.n)}
	default:
		all := make([]int, m.n)
		for i := range all {
			all[i] = i
		}
		return all
	}
}

// AddCmd implements KeyDeps. Unlike Sequential/Locked, the conflict
// computation runs per operation (not per key), since each op on a key may
// select a different sub-index set.
func (m *MRV) AddCmd(dot ids.Dot, cmd Cmd) (DepSet, map[ids.Key][][]int) {
	readOnly := cmd.ReadOnly()
	if m.nfr && readOnly && len(cmd.Keys) > 1 {
		panic("keydeps: NFR enabled but command reads more than one key")
	}
	fastPath := m.nfr && readOnly && len(cmd.Keys) == 1

	m.mu.Lock()
	defer m.mu.Unlock()

	deps := NewDepSet()
	usedIndices := make(map[ids.Key][][]int, len(cmd.Keys))
	dep := NewDependency(dot, cmd.ShardsTouched)

	for key, ops := range cmd.Keys {
		slots := m.slotsFor(key)
		indices := make([][]int, len(ops.Ops))

		for i, op := range ops.Ops {
			var idx []int
			if i < len(ops.Indices) && len(ops.Indices[i]) > 0 {
				idx = ops.Indices[i]
			} else {
				idx = m.defaultIndices(op)
			}
			indices[i] = idx

			for _, at := range idx {
				addKeyDeps(deps, slots[at], op.IsRead(), dep, fastPath)
			}
		}
		usedIndices[key] = indices
	}

	if m.latestNoop != nil {
		deps.Add(*m.latestNoop)
	}
	return deps, usedIndices
}

// AddNoop implements KeyDeps: the union of every key's every sub-record's
// latest reader and writer conflicts with the noop, and the noop becomes
// every future command's dependency.
func (m *MRV) AddNoop(dot ids.Dot) DepSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	deps := NewDepSet()
	for _, slots := range m.slots {
		for _, slot := range slots {
			if slot.Read != nil {
				deps.Add(*slot.Read)
			}
			if slot.Write != nil {
				deps.Add(*slot.Write)
			}
		}
	}
	dep := NewDependency(dot, nil)
	m.latestNoop = &dep
	return deps
}
