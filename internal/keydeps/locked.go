package keydeps

import (
	"hash/fnv"
	"sync"

	"github.com/google/btree"

	"github.com/dreamware/atlas/internal/ids"
)

const lockedStripeCount = 32

// lockedStripe owns one slice of the key space behind its own mutex. order
// keeps the stripe's keys in a btree so AddNoop's union pass visits them in
// a deterministic order instead of Go's randomized map iteration order.
type lockedStripe struct {
	mu     sync.Mutex
	latest map[ids.Key]*LatestRWDep
	order  *btree.BTreeG[ids.Key]
}

func newLockedStripe() *lockedStripe {
	return &lockedStripe{
		latest: make(map[ids.Key]*LatestRWDep),
		order:  btree.NewG(32, func(a, b ids.Key) bool { return a < b }),
	}
}

// Locked is the striped-lock KeyDeps implementation: semantically identical
// to Sequential, but its key map is sharded into fixed stripes each guarded
// by its own mutex, so it can be shared across multiple lanes. There are no
// lock-ordering concerns because every operation touches exactly one
// stripe at a time.
type Locked struct {
	shard   ids.ShardID
	nfr     bool
	stripes [lockedStripeCount]*lockedStripe

	noopMu     sync.Mutex
	latestNoop *Dependency
}

// NewLocked constructs a Locked KeyDeps for shard.
func NewLocked(shard ids.ShardID, nfr bool) *Locked {
	l := &Locked{shard: shard, nfr: nfr}
	for i := range l.stripes {
		l.stripes[i] = newLockedStripe()
	}
	return l
}

func (l *Locked) stripeFor(key ids.Key) *lockedStripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.stripes[h.Sum32()%lockedStripeCount]
}

// AddCmd implements KeyDeps. Each key is handled under its own stripe's
// lock; the algorithm is identical to Sequential.AddCmd.
func (l *Locked) AddCmd(dot ids.Dot, cmd Cmd) (DepSet, map[ids.Key][][]int) {
	readOnly := cmd.ReadOnly()
	if l.nfr && readOnly && len(cmd.Keys) > 1 {
		panic("keydeps: NFR enabled but command reads more than one key")
	}
	fastPath := l.nfr && readOnly && len(cmd.Keys) == 1

	deps := NewDepSet()
	usedIndices := make(map[ids.Key][][]int, len(cmd.Keys))
	dep := NewDependency(dot, cmd.ShardsTouched)

	for key, ops := range cmd.Keys {
		keyReadOnly := ops.readOnly()
		stripe := l.stripeFor(key)

		stripe.mu.Lock()
		slot, ok := stripe.latest[key]
		if !ok {
			slot = &LatestRWDep{}
			stripe.latest[key] = slot
			stripe.order.ReplaceOrInsert(key)
		}
		addKeyDeps(deps, slot, keyReadOnly, dep, fastPath)
		stripe.mu.Unlock()

		usedIndices[key] = ops.Indices
	}

	l.noopMu.Lock()
	noop := l.latestNoop
	l.noopMu.Unlock()
	if noop != nil {
		deps.Add(*noop)
	}

	return deps, usedIndices
}

// AddNoop implements KeyDeps. It visits every stripe's keys in ascending
// order, collecting each key's latest reader and writer.
func (l *Locked) AddNoop(dot ids.Dot) DepSet {
	deps := NewDepSet()
	for _, stripe := range l.stripes {
		stripe.mu.Lock()
		stripe.order.Ascend(func(key ids.Key) bool {
			slot := stripe.latest[key]
			if slot.Read != nil {
				deps.Add(*slot.Read)
			}
			if slot.Write != nil {
				deps.Add(*slot.Write)
			}
			return true
		})
		stripe.mu.Unlock()
	}

	dep := NewDependency(dot, nil)
	l.noopMu.Lock()
	l.latestNoop = &dep
	l.noopMu.Unlock()
	return deps
}
