package keydeps

import (
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

// KeyOps is the ordered operation list a command applies to one key, along
// with the MRV cell indices each op touches (nil/unused in single-cell
// mode).
type KeyOps struct {
	Ops     []kvstore.Op
	Indices [][]int
}

// readOnly reports whether every op in the list is a Get.
func (ko KeyOps) readOnly() bool {
	for _, op := range ko.Ops {
		if !op.IsRead() {
			return false
		}
	}
	return true
}

// Cmd is the per-shard view of a command that KeyDeps.AddCmd consumes: the
// keys it touches on this shard, and the set of shards the whole command
// touches (recorded into any Dependency produced for this command's Dot).
type Cmd struct {
	Keys          map[ids.Key]KeyOps
	ShardsTouched ShardSet
}

// ReadOnly reports whether every op, on every key, is a Get.
func (c Cmd) ReadOnly() bool {
	for _, ko := range c.Keys {
		if !ko.readOnly() {
			return false
		}
	}
	return true
}

// KeyDeps is the shared capability set implemented by Sequential, Locked
// and MRV: compute dot's dependency set against prior commands and install
// it as the new latest dependency for every key it touches.
type KeyDeps interface {
	// AddCmd returns cmd's dependency set and, in MRV mode, the cell index
	// map actually used (echoing cmd's indices back, or filling in any the
	// caller left unset).
	AddCmd(dot ids.Dot, cmd Cmd) (DepSet, map[ids.Key][][]int)
	// AddNoop registers dot as a barrier: it conflicts with every key's
	// latest reader and writer, and every future command conflicts with it.
	AddNoop(dot ids.Dot) DepSet
}
