package keydeps

import "github.com/dreamware/atlas/internal/ids"

// Sequential is the lane-owned KeyDeps implementation: one slot per key, no
// locking. Safe only when a single goroutine drives it, which is the normal
// case for a shard lane.
type Sequential struct {
	shard      ids.ShardID
	nfr        bool
	latest     map[ids.Key]*LatestRWDep
	latestNoop *Dependency
}

// NewSequential constructs a Sequential KeyDeps for shard. When nfr is true,
// single-key read-only commands take the fast path described on AddCmd.
func NewSequential(shard ids.ShardID, nfr bool) *Sequential {
	return &Sequential{
		shard:  shard,
		nfr:    nfr,
		latest: make(map[ids.Key]*LatestRWDep),
	}
}

// AddCmd implements KeyDeps. See the package doc and addKeyDeps for the
// per-key algorithm.
func (s *Sequential) AddCmd(dot ids.Dot, cmd Cmd) (DepSet, map[ids.Key][][]int) {
	readOnly := cmd.ReadOnly()
	if s.nfr && readOnly && len(cmd.Keys) > 1 {
		panic("keydeps: NFR enabled but command reads more than one key")
	}
	fastPath := s.nfr && readOnly && len(cmd.Keys) == 1

	deps := NewDepSet()
	usedIndices := make(map[ids.Key][][]int, len(cmd.Keys))
	dep := NewDependency(dot, cmd.ShardsTouched)

	for key, ops := range cmd.Keys {
		slot := s.slotFor(key)
		keyReadOnly := ops.readOnly()

		addKeyDeps(deps, slot, keyReadOnly, dep, fastPath)

		if s.latestNoop != nil {
			deps.Add(*s.latestNoop)
		}
		usedIndices[key] = ops.Indices
	}
	return deps, usedIndices
}

// AddNoop implements KeyDeps.
func (s *Sequential) AddNoop(dot ids.Dot) DepSet {
	deps := NewDepSet()
	for _, slot := range s.latest {
		if slot.Read != nil {
			deps.Add(*slot.Read)
		}
		if slot.Write != nil {
			deps.Add(*slot.Write)
		}
	}
	dep := NewDependency(dot, nil)
	s.latestNoop = &dep
	return deps
}

func (s *Sequential) slotFor(key ids.Key) *LatestRWDep {
	slot, ok := s.latest[key]
	if !ok {
		slot = &LatestRWDep{}
		s.latest[key] = slot
	}
	return slot
}

// addKeyDeps implements the add-cmd algorithm shared by Sequential and
// Locked for a single key's slot:
//  1. read-only op: the prior writer (if any) conflicts.
//  2. writing op: both the prior reader and writer (if any) conflict.
//  3. the slot is updated to point at dep, unless fastPath suppresses it
//     (the NFR optimization never records single-key reads as a conflict
//     source).
func addKeyDeps(deps DepSet, slot *LatestRWDep, keyReadOnly bool, dep Dependency, fastPath bool) {
	if keyReadOnly {
		if slot.Write != nil {
			deps.Add(*slot.Write)
		}
	} else {
		if slot.Read != nil {
			deps.Add(*slot.Read)
		}
		if slot.Write != nil {
			deps.Add(*slot.Write)
		}
	}

	if fastPath {
		return
	}
	if keyReadOnly {
		slot.Read = &dep
	} else {
		slot.Write = &dep
	}
}
