package graph

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
	"github.com/dreamware/atlas/internal/kvstore"
)

func noopCmd(rifl ids.Rifl, shard ids.ShardID, key ids.Key) *command.Command {
	return command.NewSingleShard(rifl, shard, map[ids.Key][]kvstore.Op{key: {kvstore.Put(1)}})
}

func depsOf(dots ...ids.Dot) keydeps.DepSet {
	ds := keydeps.NewDepSet()
	for _, d := range dots {
		ds.AddDot(d)
	}
	return ds
}

// TestSCCReleaseOrderIsDotAscendingWithinComponent reproduces the
// canonical release scenario: four dots whose dependency edges form one
// trivial SCC ({2.2}) and one three-member cycle ({1.1, 1.2, 2.1}),
// inserted out of order. 2.2 must release first (no unresolved deps), and
// the cycle must release as a single batch in Dot-ascending order.
func TestSCCReleaseOrderIsDotAscendingWithinComponent(t *testing.T) {
	e := New(1, 0, 1, false)
	rifl := ids.NewRifl(1, 1)

	d12 := ids.NewDot(1, 2)
	d11 := ids.NewDot(1, 1)
	d21 := ids.NewDot(2, 1)
	d22 := ids.NewDot(2, 2)

	e.HandleAdd(d12, noopCmd(rifl, 0, "a"), depsOf(d22, d11))
	require.Empty(t, e.DrainReady(), "1.2 must stay blocked on 2.2")

	e.HandleAdd(d11, noopCmd(rifl, 0, "b"), depsOf(d12, d21))
	require.Empty(t, e.DrainReady(), "1.1 must stay blocked on the still-open cycle")

	e.HandleAdd(d21, noopCmd(rifl, 0, "c"), depsOf(d11))
	require.Empty(t, e.DrainReady(), "the cycle is closed but still depends on 2.2")

	e.HandleAdd(d22, noopCmd(rifl, 0, "d"), depsOf())
	ready := e.DrainReady()
	require.Len(t, ready, 4)

	var order []ids.Dot
	for _, c := range ready {
		order = append(order, dotOfSingleKeyCmd(t, c))
	}
	assert.Equal(t, []ids.Dot{d22, d11, d12, d21}, order)
}

// dotOfSingleKeyCmd recovers the dot a noopCmd was tagged with from its
// single key ("a".."d"), since Command itself carries no dot.
func dotOfSingleKeyCmd(t *testing.T, c *command.Command) ids.Dot {
	t.Helper()
	switch c.AllKeys()[0] {
	case "a":
		return ids.NewDot(1, 2)
	case "b":
		return ids.NewDot(1, 1)
	case "c":
		return ids.NewDot(2, 1)
	case "d":
		return ids.NewDot(2, 2)
	default:
		t.Fatalf("unexpected key %v", c.AllKeys()[0])
		return ids.Dot{}
	}
}

// TestCrossShardDependencyQueuesRequestAndResolvesOnReply models a shard 0
// vertex depending on dot 3.3, which targets shard 1 under a 2-shard
// deployment. Shard 0 must queue an outbound Request for shard 1, and once
// fed the corresponding RequestReply (as committed, then as executed) the
// originally blocked command must release.
func TestCrossShardDependencyQueuesRequestAndResolvesOnReply(t *testing.T) {
	e := New(1, 0, 2, false)
	rifl := ids.NewRifl(1, 1)

	remoteDot := ids.NewDot(3, 3)
	require.Equal(t, ids.ShardID(1), remoteDot.TargetShard(2))

	localDot := ids.NewDot(1, 5)
	e.HandleAdd(localDot, noopCmd(rifl, 0, "x"), depsOf(remoteDot))
	require.Empty(t, e.DrainReady())

	reqs := e.DrainOutboundRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, ids.ShardID(1), reqs[0].Target)
	assert.Equal(t, remoteDot, reqs[0].Dot)

	// A second vertex blocked on the same remote dot must not queue a
	// second Request.
	localDot2 := ids.NewDot(1, 6)
	e.HandleAdd(localDot2, noopCmd(rifl, 0, "y"), depsOf(remoteDot))
	assert.Empty(t, e.DrainOutboundRequests())

	e.HandleRequestReply(RequestReply{Entries: []ReplyEntry{
		{Dot: remoteDot, Executed: true},
	}})

	ready := e.DrainReady()
	require.Len(t, ready, 2)
}

// TestCommittedReplyIsIngestedAndParticipatesInSCC covers the case where
// the reply reports the remote dot as committed (not yet executed): the
// executor must ingest it as a vertex of its own and let it join the SCC
// computation like any locally known dot.
func TestCommittedReplyIsIngestedAndParticipatesInSCC(t *testing.T) {
	e := New(1, 0, 2, false)
	rifl := ids.NewRifl(1, 1)

	remoteDot := ids.NewDot(3, 3)
	localDot := ids.NewDot(1, 5)
	e.HandleAdd(localDot, noopCmd(rifl, 0, "x"), depsOf(remoteDot))
	require.Empty(t, e.DrainReady())
	require.Len(t, e.DrainOutboundRequests(), 1)

	e.HandleRequestReply(RequestReply{Entries: []ReplyEntry{
		{Dot: remoteDot, Committed: true, Cmd: noopCmd(rifl, 1, "r"), Deps: depsOf()},
	}})

	ready := e.DrainReady()
	require.Len(t, ready, 2)
	var keys []ids.Key
	for _, c := range ready {
		keys = append(keys, c.AllKeys()[0])
	}
	assert.ElementsMatch(t, []ids.Key{"x", "r"}, keys)
}

func TestResolveOutboundDedupesConcurrentRequestsForSameDot(t *testing.T) {
	e := New(1, 0, 2, false)
	rifl := ids.NewRifl(1, 1)

	remoteDot := ids.NewDot(3, 3)
	e.HandleAdd(ids.NewDot(1, 5), noopCmd(rifl, 0, "x"), depsOf(remoteDot))
	e.HandleAdd(ids.NewDot(1, 6), noopCmd(rifl, 0, "y"), depsOf(remoteDot))

	var sends int32
	send := func(ctx context.Context, target ids.ShardID, dot ids.Dot) (RequestReply, error) {
		sends++
		return RequestReply{Entries: []ReplyEntry{{Dot: dot, Executed: true}}}, nil
	}

	err := e.ResolveOutbound(context.Background(), send)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sends, "only one physical Request should have been queued for the shared dot")
	assert.Len(t, e.DrainReady(), 2)
}

// TestReleaseOrderIsArrivalIndependent runs the same four dots from
// TestSCCReleaseOrderIsDotAscendingWithinComponent through every shuffled
// arrival order and checks that all four always release, 2.2 first and
// the three cycle members after it, mirroring the permutation-based termination check used elsewhere in this
// family of executors.
func TestReleaseOrderIsArrivalIndependent(t *testing.T) {
	rifl := ids.NewRifl(1, 1)
	d12 := ids.NewDot(1, 2)
	d11 := ids.NewDot(1, 1)
	d21 := ids.NewDot(2, 1)
	d22 := ids.NewDot(2, 2)

	type entry struct {
		dot  ids.Dot
		cmd  *command.Command
		deps keydeps.DepSet
	}
	base := []entry{
		{d12, noopCmd(rifl, 0, "a"), depsOf(d22, d11)},
		{d11, noopCmd(rifl, 0, "b"), depsOf(d12, d21)},
		{d21, noopCmd(rifl, 0, "c"), depsOf(d11)},
		{d22, noopCmd(rifl, 0, "d"), depsOf()},
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		perm := make([]entry, len(base))
		copy(perm, base)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		e := New(1, 0, 1, false)
		var released []ids.Dot
		for _, en := range perm {
			e.HandleAdd(en.dot, en.cmd, en.deps)
			for _, c := range e.DrainReady() {
				released = append(released, dotOfSingleKeyCmd(t, c))
			}
		}
		require.Len(t, released, 4)
		assert.Equal(t, d22, released[0], "2.2 must always release first regardless of arrival order")
		assert.ElementsMatch(t, []ids.Dot{d11, d12, d21}, released[1:])
	}
}

func TestExecuteAtCommitBypassesGraphEntirely(t *testing.T) {
	e := New(1, 0, 1, true)
	rifl := ids.NewRifl(1, 1)
	dot := ids.NewDot(1, 1)

	e.HandleAdd(dot, noopCmd(rifl, 0, "a"), depsOf(ids.NewDot(9, 9)))
	ready := e.DrainReady()
	require.Len(t, ready, 1)
	assert.Empty(t, e.DrainOutboundRequests())
}
