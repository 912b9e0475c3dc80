// Package handler implements C6, the storage allocation handler: the
// concrete AllocationHandler that snapshots stack/back traces, writes
// entries to the store, and updates statistics. Translated from
// original_source/backend/src/handler.rs
// (StorageAllocationHandler::on_allocation/on_reallocation/on_deallocation).
package handler

import (
	"github.com/ntqbit/allocation-catcher/backtrace"
	"github.com/ntqbit/allocation-catcher/heap"
	"github.com/ntqbit/allocation-catcher/internal/xlog"
	"github.com/ntqbit/allocation-catcher/state"
	"github.com/ntqbit/allocation-catcher/store"
)

var log = xlog.New("pkg", "handler")

// StorageAllocationHandler is the production heap.AllocationHandler: it
// records every successful allocation/reallocation/deallocation into the
// shared store and bumps the shared statistics.
type StorageAllocationHandler struct {
	state *state.SharedState
}

// New returns a StorageAllocationHandler bound to the given shared state.
func New(s *state.SharedState) *StorageAllocationHandler {
	return &StorageAllocationHandler{state: s}
}

var _ heap.AllocationHandler = (*StorageAllocationHandler)(nil)

func (h *StorageAllocationHandler) OnAllocation(ev heap.AllocationEvent) {
	if ev.AllocatedBaseAddress == nil {
		return
	}

	cfg := h.state.GetConfiguration()
	stackTrace, backTrace := backtrace.CaptureStackAndBackTrace(ev.Base, cfg)

	a := heap.Allocation{
		BaseAddress: *ev.AllocatedBaseAddress,
		Size:        ev.Size,
		HeapHandle:  ev.Base.HeapHandle,
		StackTrace:  stackTrace,
		BackTrace:   backTrace,
	}

	h.state.WithStorage(func(s *store.Store) {
		s.Put(a)
	})
	h.state.WithStatistics(func(stats *heap.Statistics) {
		stats.TotalAllocations++
	})
}

func (h *StorageAllocationHandler) OnReallocation(ev heap.ReallocationEvent) {
	if ev.Allocation.AllocatedBaseAddress == nil {
		// spec.md §9(d): only successful reallocations are counted.
		return
	}

	cfg := h.state.GetConfiguration()
	stackTrace, backTrace := backtrace.CaptureStackAndBackTrace(ev.Allocation.Base, cfg)

	a := heap.Allocation{
		BaseAddress: *ev.Allocation.AllocatedBaseAddress,
		Size:        ev.Allocation.Size,
		HeapHandle:  ev.Allocation.Base.HeapHandle,
		StackTrace:  stackTrace,
		BackTrace:   backTrace,
	}

	h.state.WithStorage(func(s *store.Store) {
		s.Remove(ev.BaseAddress) // old key may be absent; ignored, matching storage.remove().ok()
		s.Put(a)
	})
	h.state.WithStatistics(func(stats *heap.Statistics) {
		stats.TotalReallocations++
	})
}

func (h *StorageAllocationHandler) OnDeallocation(ev heap.DeallocationEvent) {
	if !ev.Success {
		return
	}

	var removed bool
	h.state.WithStorage(func(s *store.Store) {
		removed = s.Remove(ev.BaseAddress)
	})

	h.state.WithStatistics(func(stats *heap.Statistics) {
		stats.TotalDeallocations++
		if !removed {
			stats.TotalDeallocationsNonAllocated++
		}
	})

	if !removed {
		log.Debug("freed address was not tracked", "address", ev.BaseAddress)
	}
}
