package quorumdeps

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/atlas/internal/ids"
	"github.com/dreamware/atlas/internal/keydeps"
)

// QuorumDeps collects per-replica dependency reports for one in-flight
// command and merges them into a single dependency set once quorum replicas
// have reported. It is one-shot: construct a fresh instance per command.
type QuorumDeps struct {
	mu      sync.Mutex
	quorum  int
	reports map[ids.ProcessID]keydeps.DepSet
	merged  bool
}

// New constructs a QuorumDeps that merges once quorum distinct replicas
// have reported.
func New(quorum int) *QuorumDeps {
	return &QuorumDeps{
		quorum:  quorum,
		reports: make(map[ids.ProcessID]keydeps.DepSet),
	}
}

// Report records replica's dependency set. A second report from the same
// replica overwrites the first (idempotent under retransmission). Returns
// true once quorum distinct replicas have reported.
func (q *QuorumDeps) Report(replica ids.ProcessID, deps keydeps.DepSet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reports[replica] = deps
	return len(q.reports) >= q.quorum
}

// Ready reports whether quorum has been reached.
func (q *QuorumDeps) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reports) >= q.quorum
}

// Merge returns the union of every reported dependency set. It panics if
// quorum hasn't been reached, or if called a second time — QuorumDeps is
// one-shot, matching the "discarded after Merge" contract.
func (q *QuorumDeps) Merge() keydeps.DepSet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.reports) < q.quorum {
		panic("quorumdeps: Merge called before quorum reached")
	}
	if q.merged {
		panic("quorumdeps: Merge called twice on the same instance")
	}
	q.merged = true

	out := keydeps.NewDepSet()
	for _, deps := range q.reports {
		out.Union(deps)
	}
	return out
}

// Fetch asks one replica for its dependency report.
type Fetch func(ctx context.Context, replica ids.ProcessID) (keydeps.DepSet, error)

// Collect fans out fetch to every replica concurrently via errgroup, and
// returns the merged dependency set as soon as quorum replies have arrived
// successfully. It does not wait for the remaining replicas: a slow or
// failed replica must not block commit, matching fast-quorum semantics. The
// outstanding goroutines are left to drain in the background; their errors
// are discarded once quorum is already satisfied.
func Collect(ctx context.Context, replicas []ids.ProcessID, quorum int, fetch Fetch) (keydeps.DepSet, error) {
	q := New(quorum)
	results := make(chan struct {
		replica ids.ProcessID
		deps    keydeps.DepSet
	}, len(replicas))

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range replicas {
		r := r
		g.Go(func() error {
			deps, err := fetch(ctx, r)
			if err != nil {
				return nil
			}
			select {
			case results <- struct {
				replica ids.ProcessID
				deps    keydeps.DepSet
			}{r, deps}:
			case <-gctx.Done():
			}
			return nil
		})
	}
	go func() { _ = g.Wait(); close(results) }()

	for res := range results {
		if q.Report(res.replica, res.deps) {
			return q.Merge(), nil
		}
	}
	return nil, context.DeadlineExceeded
}
