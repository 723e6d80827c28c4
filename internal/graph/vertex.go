package graph

import (
	"github.com/dreamware/atlas/internal/command"
	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
)

// Vertex is one pending node of the dependency graph: a committed command
// together with the dependency set computed for it. Tarjan scratch state
// (index, lowlink, stack membership) lives in tarjanRun, not here — a fresh
// pass is run from scratch on every findSCC call.
type Vertex struct {
	Dot  ids.Dot
	Cmd  *command.Command
	Deps keydeps.DepSet
}

// NewVertex constructs a Vertex.
func NewVertex(dot ids.Dot, cmd *command.Command, deps keydeps.DepSet) *Vertex {
	return &Vertex{Dot: dot, Cmd: cmd, Deps: deps}
}
