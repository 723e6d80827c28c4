// Package workload generates client commands for exercising KeyDeps and the
// graph executor under controlled contention, supplementing the spec
// scenarios with the ConflictPool generator dropped from the distillation
// (fantoch's client/workload.rs KeyGen::ConflictPool).
//
// It is test/benchmark tooling, not the simulation runner spec.md keeps out
// of scope: it only produces commands, it never schedules or measures them.
package workload

import (
	"fmt"
	"math/rand"

	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

// ConflictPool generates single-key command keys with a tunable probability
// of hitting a small shared pool, matching fantoch's KeyGen::ConflictPool:
// with probability conflictRate% the generated key is drawn uniformly from
// the pool (size poolSize); otherwise a fresh, effectively-unique key is
// minted outside the pool.
//
// With poolSize == 1 (scenario S5), every in-pool draw names the same key,
// so the fraction of generated keys equal to that key converges to
// conflictRate / 100 as the sample size grows.
type ConflictPool struct {
	rng          *rand.Rand
	poolKeys     []ids.Key
	conflictRate int
	freshCount   uint64
}

// NewConflictPool builds a generator. conflictRate must be in [0, 100];
// poolSize must be >= 1. seed makes key selection reproducible across runs.
func NewConflictPool(poolSize, conflictRate int, seed int64) *ConflictPool {
	if poolSize < 1 {
		panic("workload: pool size must be at least 1")
	}
	if conflictRate < 0 || conflictRate > 100 {
		panic("workload: conflict rate must be in [0, 100]")
	}
	pool := make([]ids.Key, poolSize)
	for i := range pool {
		pool[i] = ids.Key(fmt.Sprintf("conflict-pool-%d", i))
	}
	return &ConflictPool{
		rng:          rand.New(rand.NewSource(seed)),
		poolKeys:     pool,
		conflictRate: conflictRate,
	}
}

// NextKey returns the next generated key: a pool key with probability
// conflictRate%, a fresh never-repeated key otherwise.
func (c *ConflictPool) NextKey() ids.Key {
	if c.rng.Intn(100) < c.conflictRate {
		return c.poolKeys[c.rng.Intn(len(c.poolKeys))]
	}
	c.freshCount++
	return ids.Key(fmt.Sprintf("fresh-%d-%d", c.rng.Int63(), c.freshCount))
}

// PoolKeys returns the fixed pool of shared conflict keys, for callers that
// need to check which fraction of generated keys landed in the pool.
func (c *ConflictPool) PoolKeys() []ids.Key {
	out := make([]ids.Key, len(c.poolKeys))
	copy(out, c.poolKeys)
	return out
}

// NextCommand builds a single-shard, single-key Put command from the next
// generated key, assigning it rifl on the given shard. value is the payload
// written; callers that want read-only traffic should build their own Cmd
// with kvstore.Get instead.
func (c *ConflictPool) NextCommand(rifl ids.Rifl, shard ids.ShardID, value ids.Value) *command.Command {
	key := c.NextKey()
	return command.NewSingleShard(rifl, shard, map[ids.Key][]kvstore.Op{
		key: {kvstore.Put(value)},
	})
}
