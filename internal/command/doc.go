// Package command implements the client-submitted Command and its result
// types: a Command partitions its operations by shard and key; executing
// the shard-local slice against a store yields partial per-key results that
// a CommandResultBuilder accumulates into a CommandResult.
package command
