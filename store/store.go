// Package store implements the allocation store (C4): an address-keyed,
// ordered table supporting point and range lookup, snapshot enumeration,
// and counting, translated from
// original_source/backend/src/storage.rs (AllocationsStorage /
// BtreeMapStorage over std::collections::BTreeMap) onto
// github.com/google/btree.
//
// Store itself holds no lock: in the original source the mutex lives one
// level up, in State (Mutex<Box<dyn AllocationsStorage>>), so that a
// caller needing several operations to observe one consistent snapshot
// (e.g. dispatch's Find handler) can hold a single guard across all of
// them. state.SharedState plays that role here.
package store

import (
	"github.com/google/btree"

	"github.com/ntqbit/allocation-catcher/heap"
)

const degree = 32

type item struct {
	allocation heap.Allocation
}

func (i item) Less(than btree.Item) bool {
	return i.allocation.BaseAddress < than.(item).allocation.BaseAddress
}

func keyItem(addr heap.Address) item {
	return item{allocation: heap.Allocation{BaseAddress: addr}}
}

// Store is an address-keyed ordered map of live allocations. Not safe for
// concurrent use on its own; callers must serialize access (state.SharedState
// does this with a single mutex).
type Store struct {
	tree *btree.BTree
}

// New returns an empty allocation store.
func New() *Store {
	return &Store{tree: btree.New(degree)}
}

// Put inserts or replaces the allocation keyed by its BaseAddress (an
// aliasing allocator reuse replaces the prior entry, spec.md §3).
func (s *Store) Put(a heap.Allocation) {
	s.tree.ReplaceOrInsert(item{allocation: a})
}

// Remove deletes the allocation at addr, reporting whether it was present.
func (s *Store) Remove(addr heap.Address) bool {
	return s.tree.Delete(keyItem(addr)) != nil
}

// Find returns the allocation at addr, if any.
func (s *Store) Find(addr heap.Address) (heap.Allocation, bool) {
	found := s.tree.Get(keyItem(addr))
	if found == nil {
		return heap.Allocation{}, false
	}
	return found.(item).allocation, true
}

// FindRange returns all allocations with lower <= base_address < upper, in
// ascending order. lower > upper returns an empty slice, never an error
// (spec.md §3 invariant).
func (s *Store) FindRange(lower, upper heap.Address) []heap.Allocation {
	if lower > upper {
		return nil
	}

	var out []heap.Allocation
	s.tree.AscendRange(keyItem(lower), keyItem(upper), func(i btree.Item) bool {
		out = append(out, i.(item).allocation)
		return true
	})
	return out
}

// Dump returns every allocation in ascending base-address order.
func (s *Store) Dump() []heap.Allocation {
	out := make([]heap.Allocation, 0, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(item).allocation)
		return true
	})
	return out
}

// Clear removes every stored allocation.
func (s *Store) Clear() {
	s.tree = btree.New(degree)
}

// Count returns the number of live keys.
func (s *Store) Count() int {
	return s.tree.Len()
}
