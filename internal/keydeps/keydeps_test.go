package keydeps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

func dot(src ids.ProcessID, seq uint64) ids.Dot { return ids.NewDot(src, seq) }

func writeCmd(keys ...ids.Key) Cmd {
	ko := make(map[ids.Key]KeyOps, len(keys))
	for _, k := range keys {
		ko[k] = KeyOps{Ops: []kvstore.Op{kvstore.Put(1)}}
	}
	return Cmd{Keys: ko}
}

func readCmd(keys ...ids.Key) Cmd {
	ko := make(map[ids.Key]KeyOps, len(keys))
	for _, k := range keys {
		ko[k] = KeyOps{Ops: []kvstore.Op{kvstore.Get()}}
	}
	return Cmd{Keys: ko}
}

func variants(t *testing.T) map[string]func(nfr bool) KeyDeps {
	return map[string]func(nfr bool) KeyDeps{
		"Sequential": func(nfr bool) KeyDeps { return NewSequential(0, nfr) },
		"Locked":     func(nfr bool) KeyDeps { return NewLocked(0, nfr) },
	}
}

func TestWriteThenWriteSameKeyConflicts(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(false)
			d1, _ := kd.AddCmd(dot(1, 1), writeCmd("A"))
			assert.Empty(t, d1)

			d2, _ := kd.AddCmd(dot(1, 2), writeCmd("A"))
			require.Len(t, d2, 1)
			assert.True(t, d2.Contains(dot(1, 1)))
		})
	}
}

func TestWriteThenWriteDifferentKeysDoNotConflict(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(false)
			kd.AddCmd(dot(1, 1), writeCmd("A"))
			d2, _ := kd.AddCmd(dot(1, 2), writeCmd("B"))
			assert.Empty(t, d2)
		})
	}
}

func TestReadConflictsWithPriorWriteOnly(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(false)
			kd.AddCmd(dot(1, 1), writeCmd("A"))

			readDeps, _ := kd.AddCmd(dot(1, 2), readCmd("A"))
			require.Len(t, readDeps, 1)
			assert.True(t, readDeps.Contains(dot(1, 1)))

			// A subsequent write conflicts with both the prior read and
			// write.
			writeDeps, _ := kd.AddCmd(dot(1, 3), writeCmd("A"))
			assert.True(t, writeDeps.Contains(dot(1, 1)))
			assert.True(t, writeDeps.Contains(dot(1, 2)))
		})
	}
}

func TestNFRSingleKeyReadNeverBecomesAConflictSource(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(true)
			kd.AddCmd(dot(1, 1), writeCmd("A"))

			// Fast-path read: conflicts with the prior write, but does not
			// get recorded as a future conflict source.
			readDeps, _ := kd.AddCmd(dot(1, 2), readCmd("A"))
			assert.True(t, readDeps.Contains(dot(1, 1)))

			laterDeps, _ := kd.AddCmd(dot(1, 3), writeCmd("A"))
			assert.True(t, laterDeps.Contains(dot(1, 1)))
			assert.False(t, laterDeps.Contains(dot(1, 2)))
		})
	}
}

func TestNFRMultiKeyReadPanics(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(true)
			assert.Panics(t, func() {
				kd.AddCmd(dot(1, 1), readCmd("A", "B"))
			})
		})
	}
}

func TestNoopConflictsWithAllPriorAndBindsFuture(t *testing.T) {
	for name, ctor := range variants(t) {
		t.Run(name, func(t *testing.T) {
			kd := ctor(false)
			kd.AddCmd(dot(1, 1), writeCmd("A"))
			kd.AddCmd(dot(1, 2), writeCmd("B"))

			noopDeps := kd.AddNoop(dot(1, 3))
			assert.True(t, noopDeps.Contains(dot(1, 1)))
			assert.True(t, noopDeps.Contains(dot(1, 2)))

			futureDeps, _ := kd.AddCmd(dot(1, 4), writeCmd("C"))
			assert.True(t, futureDeps.Contains(dot(1, 3)))
		})
	}
}

func TestMRVDisjointIndicesDoNotConflict(t *testing.T) {
	kd := NewMRV(0, false, 10)

	cmdA := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Add(1)}, Indices: [][]int{{2}}},
	}}
	cmdB := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Add(1)}, Indices: [][]int{{7}}},
	}}

	kd.AddCmd(dot(1, 1), cmdA)
	depsB, _ := kd.AddCmd(dot(1, 2), cmdB)
	assert.False(t, depsB.Contains(dot(1, 1)))
}

func TestMRVOverlappingIndicesConflict(t *testing.T) {
	kd := NewMRV(0, false, 10)

	cmdA := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Add(1)}, Indices: [][]int{{3}}},
	}}
	cmdB := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Add(1)}, Indices: [][]int{{3}}},
	}}

	kd.AddCmd(dot(1, 1), cmdA)
	depsB, _ := kd.AddCmd(dot(1, 2), cmdB)
	assert.True(t, depsB.Contains(dot(1, 1)))
}

func TestMRVGetTouchesAllIndicesAndConflictsWithAnyPriorAdd(t *testing.T) {
	kd := NewMRV(0, false, 4)

	cmdAdd := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Add(1)}, Indices: [][]int{{3}}},
	}}
	kd.AddCmd(dot(1, 1), cmdAdd)

	cmdGet := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Get()}, Indices: [][]int{{0, 1, 2, 3}}},
	}}
	deps, usedIndices := kd.AddCmd(dot(1, 2), cmdGet)
	assert.True(t, deps.Contains(dot(1, 1)))
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, usedIndices["A"])
}

func TestMRVDefaultIndicesWhenCallerOmitsThem(t *testing.T) {
	kd := NewMRV(0, false, 4)
	cmd := Cmd{Keys: map[ids.Key]KeyOps{
		"A": {Ops: []kvstore.Op{kvstore.Get()}},
	}}
	_, usedIndices := kd.AddCmd(dot(1, 1), cmd)
	assert.ElementsMatch(t, []int{0, 1, 2, 3}, usedIndices["A"][0])
}

func TestDepSetUnionMergesShards(t *testing.T) {
	d := ids.NewDot(1, 1)
	a := NewDependency(d, NewShardSet(0))
	b := NewDependency(d, NewShardSet(1))

	s := NewDepSet()
	s.Add(a)
	s.Add(b)

	require.Len(t, s, 1)
	merged := s[d]
	assert.Contains(t, merged.Shards, ids.ShardID(0))
	assert.Contains(t, merged.Shards, ids.ShardID(1))
}
