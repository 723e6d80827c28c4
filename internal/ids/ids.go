package ids

import "fmt"

// ProcessID uniquely identifies a replica process within the cluster.
// Each node derives its process identifier from its node ID (cmd/node
// hashes it with FNV-64a), so it is stable for the lifetime of the replica.
type ProcessID uint64

// ClientID uniquely identifies a client within the cluster.
type ClientID uint64

// ShardID identifies a key-space partition. Commands carry a per-shard
// operation map; a Dot's target shard is ProcessID % shardCount.
type ShardID uint64

// Key is a store key. Keys are plain strings, matching the teacher's
// storage.Store interface.
type Key = string

// Value is the storage cell type. All arithmetic on Value saturates at
// [0, math.MaxUint16] rather than wrapping, per the store's Add/Subtract
// semantics.
type Value = uint16

// MaxValue and MinValue are the saturation bounds for Value arithmetic.
const (
	MaxValue Value = ^Value(0)
	MinValue Value = 0
)

// Dot is the unique identifier of a command event at its originating
// replica: a (ProcessID, Sequence) pair. A Dot is created once, when a
// replica accepts a command, and is never reused.
type Dot struct {
	Source   ProcessID
	Sequence uint64
}

// NewDot constructs a Dot.
func NewDot(source ProcessID, sequence uint64) Dot {
	return Dot{Source: source, Sequence: sequence}
}

// String renders a Dot in "src.seq" form, matching the notation used in
// spec.md's scenarios (e.g. "1.2").
func (d Dot) String() string {
	return fmt.Sprintf("%d.%d", d.Source, d.Sequence)
}

// Less reports whether d sorts strictly before other under Dot's natural
// ascending order: first by Source, then by Sequence. SCC release order and
// the pending-index worklist both rely on this ordering being total.
func (d Dot) Less(other Dot) bool {
	if d.Source != other.Source {
		return d.Source < other.Source
	}
	return d.Sequence < other.Sequence
}

// TargetShard returns the shard that owns the process which produced this
// Dot: source % shardCount. This is the routing function used by the
// pending index to decide which shard a cross-shard Request should target.
func (d Dot) TargetShard(shardCount uint64) ShardID {
	if shardCount == 0 {
		return 0
	}
	return ShardID(uint64(d.Source) % shardCount)
}

// Rifl is the unique identifier of a command assigned by its originating
// client: a (ClientID, Sequence) pair. A given Rifl appears in at most one
// command — this is the dedup contract client libraries rely on.
type Rifl struct {
	Source   ClientID
	Sequence uint64
}

// NewRifl constructs a Rifl.
func NewRifl(source ClientID, sequence uint64) Rifl {
	return Rifl{Source: source, Sequence: sequence}
}

func (r Rifl) String() string {
	return fmt.Sprintf("%d.%d", r.Source, r.Sequence)
}
