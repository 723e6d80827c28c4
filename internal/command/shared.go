package command

import (
	"sync/atomic"

	"github.com/dreamware/atlas/internal/kvstore"
)

// sharedOps is a reference-counted handle to a key's operation list. A
// Command may be cloned across replicas before it commits; cloning a
// sharedOps bumps the refcount instead of copying the slice. Take
// implements the "take-or-clone" primitive: when the caller holds the last
// reference it moves the slice out for free; otherwise it clones,
// preserving the copies still held elsewhere.
type sharedOps struct {
	refCount *int32
	ops      []kvstore.Op
}

func newSharedOps(ops []kvstore.Op) sharedOps {
	rc := int32(1)
	return sharedOps{refCount: &rc, ops: ops}
}

// clone returns a handle to the same underlying slice, incrementing the
// shared refcount.
func (s sharedOps) clone() sharedOps {
	atomic.AddInt32(s.refCount, 1)
	return s
}

// take releases this handle's reference and returns the op list: by move,
// without copying, if this was the last outstanding reference; by copy
// otherwise, leaving any sibling handles' view of the slice untouched.
func (s sharedOps) take() []kvstore.Op {
	if atomic.AddInt32(s.refCount, -1) == 0 {
		return s.ops
	}
	cp := make([]kvstore.Op, len(s.ops))
	copy(cp, s.ops)
	return cp
}

// refs reports the current outstanding reference count, used only to
// enforce Command.Merge's unique-ownership precondition.
func (s sharedOps) refs() int32 {
	return atomic.LoadInt32(s.refCount)
}
