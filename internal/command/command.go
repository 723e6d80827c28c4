package command

import (
	"fmt"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
	"github.com/dreamware/atlas/internal/kvstore"
)

// Command is a client-submitted set of operations, partitioned by the
// shard each key belongs to. It is built once at the client (or at the
// replica that first accepts it) and is immutable thereafter except for
// Merge, which is only legal while a copy is uniquely held.
type Command struct {
	rifl        ids.Rifl
	shardToOps  map[ids.ShardID]map[ids.Key]sharedOps
	shardToKeys map[ids.ShardID][]ids.Key
}

// New builds a Command from its per-shard, per-key operation lists. It
// rebuilds the shard-to-keys index from shardToOps, matching invariant I4.
func New(rifl ids.Rifl, shardToOps map[ids.ShardID]map[ids.Key][]kvstore.Op) *Command {
	ops := make(map[ids.ShardID]map[ids.Key]sharedOps, len(shardToOps))
	keys := make(map[ids.ShardID][]ids.Key, len(shardToOps))
	for shard, keyOps := range shardToOps {
		perKey := make(map[ids.Key]sharedOps, len(keyOps))
		ks := make([]ids.Key, 0, len(keyOps))
		for key, opList := range keyOps {
			if len(opList) == 0 {
				panic(fmt.Sprintf("command: empty op list for key %q", key))
			}
			perKey[key] = newSharedOps(opList)
			ks = append(ks, key)
		}
		ops[shard] = perKey
		keys[shard] = ks
	}
	return &Command{rifl: rifl, shardToOps: ops, shardToKeys: keys}
}

// NewSingleShard is a convenience constructor for commands confined to one
// shard, the common case in tests and single-partition deployments.
func NewSingleShard(rifl ids.Rifl, shard ids.ShardID, keyOps map[ids.Key][]kvstore.Op) *Command {
	return New(rifl, map[ids.ShardID]map[ids.Key][]kvstore.Op{shard: keyOps})
}

// Rifl returns the command's client-assigned identifier.
func (c *Command) Rifl() ids.Rifl { return c.rifl }

// Shards returns the shards this command touches.
func (c *Command) Shards() []ids.ShardID {
	out := make([]ids.ShardID, 0, len(c.shardToOps))
	for s := range c.shardToOps {
		out = append(out, s)
	}
	return out
}

// ShardCount returns how many distinct shards this command touches.
func (c *Command) ShardCount() int { return len(c.shardToOps) }

// ShardToKeys returns the keys this command touches on shard.
func (c *Command) ShardToKeys(shard ids.ShardID) []ids.Key {
	return c.shardToKeys[shard]
}

// KeyCount returns the total number of (shard, key) pairs this command
// touches, which is also the number of partial results a
// CommandResultBuilder must collect before the command is ready.
func (c *Command) KeyCount() int {
	total := 0
	for _, ks := range c.shardToKeys {
		total += len(ks)
	}
	return total
}

// AllKeys returns every key this command touches, across all shards.
func (c *Command) AllKeys() []ids.Key {
	out := make([]ids.Key, 0, c.KeyCount())
	for _, ks := range c.shardToKeys {
		out = append(out, ks...)
	}
	return out
}

// ContainsKey reports whether this command touches key on shard.
func (c *Command) ContainsKey(shard ids.ShardID, key ids.Key) bool {
	_, ok := c.shardToOps[shard][key]
	return ok
}

// ReadOnly reports whether every operation, on every key, is a Get.
func (c *Command) ReadOnly() bool {
	for _, keyOps := range c.shardToOps {
		for _, so := range keyOps {
			for _, op := range so.ops {
				if !op.IsRead() {
					return false
				}
			}
		}
	}
	return true
}

// NFRAllowed reports whether this command is eligible for the NFR
// (non-fault-tolerant read) fast path: exactly one key, read-only.
func (c *Command) NFRAllowed() bool {
	return c.KeyCount() == 1 && c.ReadOnly()
}

// Conflicts reports whether c and other share any (shard, key) pair.
func (c *Command) Conflicts(other *Command) bool {
	for shard, keys := range c.shardToOps {
		otherKeys, ok := other.shardToOps[shard]
		if !ok {
			continue
		}
		for key := range keys {
			if _, ok := otherKeys[key]; ok {
				return true
			}
		}
	}
	return false
}

// Merge concatenates other's per-key op lists into self. other must be
// uniquely held (no outstanding clone) — merging a shared op list would
// silently diverge the two holders' view of it, which is a programming
// error.
func (c *Command) Merge(other *Command) {
	for shard, keyOps := range other.shardToOps {
		dst, ok := c.shardToOps[shard]
		if !ok {
			dst = make(map[ids.Key]sharedOps, len(keyOps))
			c.shardToOps[shard] = dst
		}
		for key, so := range keyOps {
			if so.refs() != 1 {
				panic("command: Merge requires the source command's op lists to be uniquely owned")
			}
			if existing, ok := dst[key]; ok {
				merged := append(append([]kvstore.Op{}, existing.ops...), so.ops...)
				dst[key] = newSharedOps(merged)
			} else {
				dst[key] = so
				c.shardToKeys[shard] = append(c.shardToKeys[shard], key)
			}
		}
	}
}

// KeyDepsCmd projects this command's shard-local view into the shape
// KeyDeps.AddCmd consumes. It reads the shared op lists without taking
// ownership of them — Execute still owns the single consuming read.
func (c *Command) KeyDepsCmd(shard ids.ShardID) keydeps.Cmd {
	keyOps := c.shardToOps[shard]
	keys := make(map[ids.Key]keydeps.KeyOps, len(keyOps))
	for key, so := range keyOps {
		keys[key] = keydeps.KeyOps{Ops: so.ops}
	}
	shards := make(keydeps.ShardSet, len(c.shardToOps))
	for s := range c.shardToOps {
		shards[s] = struct{}{}
	}
	return keydeps.Cmd{Keys: keys, ShardsTouched: shards}
}

// Partial is one key's result from executing a command's shard-local
// operations against a store.
type Partial struct {
	Rifl    ids.Rifl
	Key     ids.Key
	Results []kvstore.OpResult
}

// Execute drains this command's operations for shard against store and
// returns one Partial per key. indices supplies, in MRV mode, the cell
// index lists each key's ops should touch (nil in single-cell mode, or
// when the caller leaves index selection to the store's defaults).
func (c *Command) Execute(shard ids.ShardID, store *kvstore.Store, indices map[ids.Key][][]int) []Partial {
	keyOps := c.shardToOps[shard]
	out := make([]Partial, 0, len(keyOps))
	for key, so := range keyOps {
		ops := so.take()
		var idx [][]int
		if indices != nil {
			idx = indices[key]
		}
		results := store.Execute(key, ops, c.rifl, idx)
		out = append(out, Partial{Rifl: c.rifl, Key: key, Results: results})
	}
	return out
}
