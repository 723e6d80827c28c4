package command

import (
	"fmt"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/kvstore"
)

// CommandResultBuilder accumulates a command's per-key Partial results
// until every key it touches has reported, then materializes a
// CommandResult.
type CommandResultBuilder struct {
	rifl     ids.Rifl
	keyCount int
	results  map[ids.Key][]kvstore.OpResult
}

// NewCommandResultBuilder constructs a builder expecting keyCount partial
// results before it is ready.
func NewCommandResultBuilder(rifl ids.Rifl, keyCount int) *CommandResultBuilder {
	return &CommandResultBuilder{
		rifl:     rifl,
		keyCount: keyCount,
		results:  make(map[ids.Key][]kvstore.OpResult, keyCount),
	}
}

// AddPartial records p. It panics if a result for p.Key was already
// recorded — each key reports exactly once.
func (b *CommandResultBuilder) AddPartial(p Partial) {
	if _, ok := b.results[p.Key]; ok {
		panic(fmt.Sprintf("command: duplicate partial result for key %q", p.Key))
	}
	b.results[p.Key] = p.Results
}

// Ready reports whether every expected key has reported.
func (b *CommandResultBuilder) Ready() bool {
	return len(b.results) == b.keyCount
}

// Build materializes the CommandResult. It panics if the builder isn't
// Ready — consuming a partial result set is a programming error, not a
// runtime condition callers are expected to recover from.
func (b *CommandResultBuilder) Build() CommandResult {
	if !b.Ready() {
		panic("command: Build called before all partial results were collected")
	}
	out := make(map[ids.Key][]kvstore.OpResult, len(b.results))
	for k, v := range b.results {
		out[k] = v
	}
	return CommandResult{Rifl: b.rifl, Results: out}
}

// CommandResult is the fully assembled, client-visible outcome of a
// command: one OpResult list per key it touched.
type CommandResult struct {
	Rifl    ids.Rifl
	Results map[ids.Key][]kvstore.OpResult
}
