package graph

import (
	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
)

// Add is a committed command entering the executor.
type Add struct {
	Dot  ids.Dot
	Cmd  *command.Command
	Deps keydeps.DepSet
}

// ReplyEntry answers one requested dot: either the command committed with
// its deps, or a note that it is already executed.
type ReplyEntry struct {
	Dot       ids.Dot
	Committed bool
	Cmd       *command.Command
	Deps      keydeps.DepSet
	Executed  bool
}

// RequestReply carries the answers to an earlier Request.
type RequestReply struct {
	Entries []ReplyEntry
}

// Executed notifies peers that the given dots have executed, so their
// local garbage collection may proceed.
type Executed struct {
	Dots []ids.Dot
}

// OutboundRequest is a Request this executor owes to another shard: it
// needs metadata about Dot because Dot is a missing dependency of a
// locally pending vertex.
type OutboundRequest struct {
	Target ids.ShardID
	Dot    ids.Dot
}
