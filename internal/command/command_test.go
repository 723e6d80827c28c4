package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

func putCmd(rifl ids.Rifl, keys ...ids.Key) *Command {
	ko := make(map[ids.Key][]kvstore.Op, len(keys))
	for _, k := range keys {
		ko[k] = []kvstore.Op{kvstore.Put(1)}
	}
	return NewSingleShard(rifl, 0, ko)
}

func TestConflictsPredicate(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	cA := putCmd(rifl1, "A")
	cB := putCmd(rifl1, "B")
	cAB := putCmd(rifl1, "A", "B")

	assert.True(t, cA.Conflicts(cAB))
	assert.True(t, cB.Conflicts(cAB))
	assert.False(t, cA.Conflicts(cB))
	assert.True(t, cA.Conflicts(cA))
}

func TestShardToKeysRoundTrip(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	cmd := New(rifl1, map[ids.ShardID]map[ids.Key][]kvstore.Op{
		0: {"A": {kvstore.Put(1)}, "B": {kvstore.Put(2)}},
		1: {"C": {kvstore.Put(3)}},
	})

	assert.ElementsMatch(t, []ids.Key{"A", "B"}, cmd.ShardToKeys(0))
	assert.ElementsMatch(t, []ids.Key{"C"}, cmd.ShardToKeys(1))
	assert.Equal(t, 3, cmd.KeyCount())
	assert.Equal(t, 2, cmd.ShardCount())
}

func TestReadOnlyAndNFRAllowed(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	readCmd := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{"A": {kvstore.Get()}})
	assert.True(t, readCmd.ReadOnly())
	assert.True(t, readCmd.NFRAllowed())

	multiKeyRead := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{
		"A": {kvstore.Get()}, "B": {kvstore.Get()},
	})
	assert.True(t, multiKeyRead.ReadOnly())
	assert.False(t, multiKeyRead.NFRAllowed())

	writeCmd := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{"A": {kvstore.Put(1)}})
	assert.False(t, writeCmd.ReadOnly())
	assert.False(t, writeCmd.NFRAllowed())
}

func TestExecuteYieldsOnePartialPerKey(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	cmd := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{
		"A": {kvstore.Put(5)},
		"B": {kvstore.Put(7)},
	})
	store := kvstore.New(false, true, 1)

	partials := cmd.Execute(0, store, nil)
	require.Len(t, partials, 2)

	builder := NewCommandResultBuilder(rifl1, cmd.KeyCount())
	for _, p := range partials {
		builder.AddPartial(p)
	}
	require.True(t, builder.Ready())

	result := builder.Build()
	assert.Equal(t, rifl1, result.Rifl)
	require.Contains(t, result.Results, ids.Key("A"))
	assert.EqualValues(t, 5, *result.Results["A"][0])
}

func TestBuilderPanicsBeforeReady(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	builder := NewCommandResultBuilder(rifl1, 2)
	builder.AddPartial(Partial{Rifl: rifl1, Key: "A"})
	assert.Panics(t, func() { builder.Build() })
}

func TestBuilderPanicsOnDuplicateKey(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	builder := NewCommandResultBuilder(rifl1, 1)
	builder.AddPartial(Partial{Rifl: rifl1, Key: "A"})
	assert.Panics(t, func() { builder.AddPartial(Partial{Rifl: rifl1, Key: "A"}) })
}

func TestTakeOrCloneMovesWhenUniquelyHeld(t *testing.T) {
	ops := []kvstore.Op{kvstore.Put(1), kvstore.Add(2)}
	handle := newSharedOps(ops)

	taken := handle.take()
	// The moved slice is the very same backing array, not a copy.
	require.Len(t, taken, 2)
	assert.Same(t, &ops[0], &taken[0])
}

func TestTakeOrCloneCopiesWhenShared(t *testing.T) {
	ops := []kvstore.Op{kvstore.Put(1)}
	handle := newSharedOps(ops)
	alias := handle.clone()

	takenA := handle.take()
	takenB := alias.take()

	require.Len(t, takenA, 1)
	require.Len(t, takenB, 1)
	assert.Equal(t, takenA, takenB)
}

func TestMergeConcatenatesUniquelyOwnedOpLists(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	base := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{"A": {kvstore.Put(1)}})
	extra := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{
		"A": {kvstore.Add(1)},
		"B": {kvstore.Put(2)},
	})

	base.Merge(extra)
	assert.ElementsMatch(t, []ids.Key{"A", "B"}, base.ShardToKeys(0))
	assert.Len(t, base.shardToOps[0]["A"].ops, 2)
}

func TestMergeOnSharedOpListPanics(t *testing.T) {
	rifl1 := ids.NewRifl(1, 1)
	base := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{"A": {kvstore.Put(1)}})
	extra := NewSingleShard(rifl1, 0, map[ids.Key][]kvstore.Op{"B": {kvstore.Put(2)}})
	_ = extra.shardToOps[0]["B"].clone()

	assert.Panics(t, func() { base.Merge(extra) })
}
