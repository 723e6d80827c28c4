package keydeps

import "github.com/dreamware/atlas/internal/ids"

// ShardSet is the set of shards that observed a dependency. A nil or empty
// ShardSet is valid and simply means "no shard information was recorded."
type ShardSet map[ids.ShardID]struct{}

// NewShardSet builds a ShardSet from the given shards.
func NewShardSet(shards ...ids.ShardID) ShardSet {
	s := make(ShardSet, len(shards))
	for _, sh := range shards {
		s[sh] = struct{}{}
	}
	return s
}

func (s ShardSet) union(other ShardSet) {
	for sh := range other {
		s[sh] = struct{}{}
	}
}

// Dependency identifies a predecessor command and the shards that saw the
// conflict producing it. Equality between two Dependencies is defined by
// Dot alone; Shards only accumulates additional routing information as
// further reports about the same Dot arrive.
type Dependency struct {
	Dot    ids.Dot
	Shards ShardSet
}

// NewDependency constructs a Dependency for dot, touched by shards.
func NewDependency(dot ids.Dot, shards ShardSet) Dependency {
	if shards == nil {
		shards = ShardSet{}
	}
	return Dependency{Dot: dot, Shards: shards}
}

// DepSet is a set of Dependencies keyed by Dot, matching the "equality is by
// dot" rule: inserting a Dependency for a Dot already in the set merges
// Shards instead of creating a duplicate entry.
type DepSet map[ids.Dot]Dependency

// NewDepSet returns an empty DepSet.
func NewDepSet() DepSet { return make(DepSet) }

// Add inserts d into the set, merging Shards if d.Dot is already present.
func (s DepSet) Add(d Dependency) {
	if existing, ok := s[d.Dot]; ok {
		existing.Shards.union(d.Shards)
		s[d.Dot] = existing
		return
	}
	cp := ShardSet{}
	cp.union(d.Shards)
	s[d.Dot] = Dependency{Dot: d.Dot, Shards: cp}
}

// AddDot is a convenience for inserting a bare Dot with no shard
// information.
func (s DepSet) AddDot(dot ids.Dot) { s.Add(Dependency{Dot: dot, Shards: ShardSet{}}) }

// Union merges every Dependency in other into s.
func (s DepSet) Union(other DepSet) {
	for _, d := range other {
		s.Add(d)
	}
}

// Contains reports whether dot is present in the set.
func (s DepSet) Contains(dot ids.Dot) bool {
	_, ok := s[dot]
	return ok
}

// Dots returns the set's Dots in no particular order.
func (s DepSet) Dots() []ids.Dot {
	out := make([]ids.Dot, 0, len(s))
	for dot := range s {
		out = append(out, dot)
	}
	return out
}

// LatestRWDep tracks the most recent reader and writer dependency for a
// single key (or a single MRV sub-record). Read is populated only by
// read-only commands; Write by any command that writes the key.
type LatestRWDep struct {
	Read  *Dependency
	Write *Dependency
}
