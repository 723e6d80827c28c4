package kvstore

import (
	"math/rand"
	"sync"

	"github.com/dreamware/atlas/internal/ids"
)

// OpKind enumerates the storage operations a command may carry.
type OpKind int

const (
	OpGet OpKind = iota
	OpPut
	OpAdd
	OpSubtract
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "Get"
	case OpPut:
		return "Put"
	case OpAdd:
		return "Add"
	case OpSubtract:
		return "Subtract"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// Op is a single storage operation. Operand is meaningful only for Put, Add
// and Subtract.
type Op struct {
	Kind    OpKind
	Operand ids.Value
}

func Get() Op                    { return Op{Kind: OpGet} }
func Put(v ids.Value) Op         { return Op{Kind: OpPut, Operand: v} }
func Add(v ids.Value) Op         { return Op{Kind: OpAdd, Operand: v} }
func Subtract(v ids.Value) Op    { return Op{Kind: OpSubtract, Operand: v} }
func Delete() Op                 { return Op{Kind: OpDelete} }
func (o Op) IsRead() bool        { return o.Kind == OpGet }

// OpResult mirrors the source's `Option<Value>`: nil means "no value to
// report" (missing key on Get/Delete, insufficient balance on Subtract).
type OpResult = *ids.Value

func some(v ids.Value) OpResult { return &v }
func none() OpResult            { return nil }

// Event records one (rifl, read-only) execution against a key, used only
// when a Store is created with its execution-order monitor enabled.
type Event struct {
	Rifl     ids.Rifl
	ReadOnly bool
}

// ExecutionOrderMonitor records, per key, the order commands executed
// against it. It exists purely for tests that want to assert a
// linearization-independent result by replaying recorded orders.
type ExecutionOrderMonitor struct {
	mu     sync.Mutex
	events map[ids.Key][]Event
}

func newExecutionOrderMonitor() *ExecutionOrderMonitor {
	return &ExecutionOrderMonitor{events: make(map[ids.Key][]Event)}
}

func (m *ExecutionOrderMonitor) add(key ids.Key, readOnly bool, rifl ids.Rifl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[key] = append(m.events[key], Event{Rifl: rifl, ReadOnly: readOnly})
}

// EventsFor returns a copy of the recorded events for key, in execution
// order.
func (m *ExecutionOrderMonitor) EventsFor(key ids.Key) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events[key]))
	copy(out, m.events[key])
	return out
}

// Store is the replicated key-value engine. In single-cell mode every key
// maps to a one-element cell vector; in MRV mode every key maps to an
// N-element vector and operations are routed to a caller-supplied subset of
// cells (computed upstream by keydeps).
type Store struct {
	mu         sync.Mutex
	cells      map[ids.Key][]ids.Value
	monitor    *ExecutionOrderMonitor
	rng        *rand.Rand
	singleCell bool
	n          int
}

// New creates a Store. When singleCell is true the store behaves as a
// classic KV store (n is ignored and treated as 1); otherwise every key has
// n cells. withMonitor enables the execution-order monitor.
func New(withMonitor bool, singleCell bool, n int) *Store {
	if singleCell {
		n = 1
	}
	if n <= 0 {
		n = 1
	}
	var monitor *ExecutionOrderMonitor
	if withMonitor {
		monitor = newExecutionOrderMonitor()
	}
	return &Store{
		cells:      make(map[ids.Key][]ids.Value),
		monitor:    monitor,
		rng:        rand.New(rand.NewSource(1)),
		singleCell: singleCell,
		n:          n,
	}
}

// Monitor returns the store's execution-order monitor, or nil if the store
// was created without one.
func (s *Store) Monitor() *ExecutionOrderMonitor { return s.monitor }

// Execute runs ops against key in order and returns one OpResult per op.
// perOpIndices[i], when the store is in MRV mode, names the cell indices op
// i should touch; it is ignored in single-cell mode and may be shorter than
// ops (missing entries fall back to the default index set for that op
// kind).
func (s *Store) Execute(key ids.Key, ops []Op, rifl ids.Rifl, perOpIndices [][]int) []OpResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitor != nil {
		readOnly := true
		for _, op := range ops {
			if !op.IsRead() {
				readOnly = false
				break
			}
		}
		s.monitor.add(key, readOnly, rifl)
	}

	results := make([]OpResult, len(ops))
	for i, op := range ops {
		var indices []int
		if i < len(perOpIndices) {
			indices = perOpIndices[i]
		}
		results[i] = s.executeOp(key, op, indices)
	}
	return results
}

// defaultIndices returns the cell-index set an op touches when the caller
// didn't supply one explicitly: Get/Put/Delete touch every cell, Add/
// Subtract touch a single randomly chosen cell.
func (s *Store) defaultIndices(op Op) []int {
	switch op.Kind {
	case OpGet, OpPut, OpDelete:
		all := make([]int, s.n)
		for i := range all {
			all[i] = i
		}
		return all
	default:
		return []int{s.rng.Intn(s.n)}
	}
}

func (s *Store) executeOp(key ids.Key, op Op, indices []int) OpResult {
	if len(indices) == 0 {
		indices = s.defaultIndices(op)
	}

	switch op.Kind {
	case OpGet:
		cell, ok := s.cells[key]
		if !ok {
			return none()
		}
		return some(sum(cell))

	case OpDelete:
		cell, ok := s.cells[key]
		if !ok {
			return none()
		}
		total := sum(cell)
		delete(s.cells, key)
		return some(total)

	case OpPut:
		cell := s.cellFor(key)
		idx := indices[0]
		cell[idx] = op.Operand
		return some(op.Operand)

	case OpAdd:
		cell := s.cellFor(key)
		idx := indices[0]
		cell[idx] = saturatingAdd(cell[idx], op.Operand)
		return some(cell[idx])

	case OpSubtract:
		cell, ok := s.cells[key]
		if !ok {
			return none()
		}
		if s.singleCell {
			cell[0] = saturatingSub(cell[0], op.Operand)
			return some(cell[0])
		}
		available := ids.Value(0)
		for _, idx := range indices {
			available = saturatingAdd(available, cell[idx])
		}
		if available < op.Operand {
			return none()
		}
		remaining := op.Operand
		for _, idx := range indices {
			if remaining == 0 {
				break
			}
			if cell[idx] >= remaining {
				cell[idx] -= remaining
				remaining = 0
			} else {
				remaining -= cell[idx]
				cell[idx] = 0
			}
		}
		return some(op.Operand)

	default:
		panic("kvstore: unknown op kind")
	}
}

// cellFor returns the cell vector for key, creating a zero-filled one of
// size n if absent.
func (s *Store) cellFor(key ids.Key) []ids.Value {
	cell, ok := s.cells[key]
	if !ok {
		cell = make([]ids.Value, s.n)
		s.cells[key] = cell
	}
	return cell
}

func sum(cell []ids.Value) ids.Value {
	total := ids.Value(0)
	for _, v := range cell {
		total = saturatingAdd(total, v)
	}
	return total
}

func saturatingAdd(a, b ids.Value) ids.Value {
	sum := uint32(a) + uint32(b)
	if sum > uint32(ids.MaxValue) {
		return ids.MaxValue
	}
	return ids.Value(sum)
}

func saturatingSub(a, b ids.Value) ids.Value {
	if b > a {
		return ids.MinValue
	}
	return a - b
}

// IndicesFor computes the cell-index set op would touch on key right now,
// mirroring the canonical MRV selection rule: Get/Put/Delete touch every
// cell; Add touches one random cell; Subtract greedily walks
// cells starting at a random offset until the running sum covers the
// requested amount, returning ok=false if the key has no recorded balance.
// This is exposed for callers (e.g. keydeps) that want the store's view of
// "what would this op touch" without executing it.
func (s *Store) IndicesFor(key ids.Key, op Op) (indices []int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.singleCell {
		return []int{0}, true
	}

	switch op.Kind {
	case OpGet, OpPut, OpDelete:
		return s.defaultIndices(op), true
	case OpAdd:
		return []int{s.rng.Intn(s.n)}, true
	case OpSubtract:
		cell, exists := s.cells[key]
		if !exists {
			return []int{s.rng.Intn(s.n)}, false
		}
		start := s.rng.Intn(s.n)
		var chosen []int
		accumulated := ids.Value(0)
		for i := 0; i < s.n; i++ {
			idx := (start + i) % s.n
			chosen = append(chosen, idx)
			accumulated = saturatingAdd(accumulated, cell[idx])
			if accumulated >= op.Operand {
				return chosen, true
			}
		}
		return chosen, false
	default:
		return nil, false
	}
}
