// Package state implements the shared state (C5): configuration, storage,
// and statistics, each independently guarded, plus the process-wide
// reentrancy flag set, translated from
// original_source/backend/src/state.rs.
package state

import (
	"sync"

	"github.com/ntqbit/allocation-catcher/flagset"
	"github.com/ntqbit/allocation-catcher/heap"
	"github.com/ntqbit/allocation-catcher/store"
)

// SharedState owns the configuration, allocation store, statistics, and
// reentrancy flag set for one observer instance. It is intended to live
// for the process: callers
// typically construct exactly one and hand out *SharedState to the detour
// handler, the dispatcher, and the listener.
type SharedState struct {
	cfgMu sync.Mutex
	cfg   heap.Configuration

	storageMu sync.Mutex
	storage   *store.Store

	statsMu sync.Mutex
	stats   heap.Statistics

	Flags *flagset.Set
}

// New constructs a SharedState with the zero Configuration (all tracing
// disabled, spec.md §3) and an empty store.
func New() *SharedState {
	return &SharedState{
		storage: store.New(),
		Flags:   flagset.New(),
	}
}

// SetConfiguration atomically replaces the configuration.
func (s *SharedState) SetConfiguration(cfg heap.Configuration) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.cfg = cfg
}

// GetConfiguration returns a consistent snapshot of the configuration
// (spec.md §3: "one atomic snapshot per event").
func (s *SharedState) GetConfiguration() heap.Configuration {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// WithStorage runs fn with the storage guard held for its entire duration,
// matching spec.md §5's requirement that Find/Dump observe a
// mutex-consistent snapshot across a whole FindRecord.
func (s *SharedState) WithStorage(fn func(*store.Store)) {
	s.storageMu.Lock()
	defer s.storageMu.Unlock()
	fn(s.storage)
}

// WithStatistics runs fn with the statistics guard held.
func (s *SharedState) WithStatistics(fn func(*heap.Statistics)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	fn(&s.stats)
}

// Statistics returns a copy of the current counters plus the live store
// count (spec.md §3: "allocated (count) equals the number of live keys").
// Storage is locked first, then statistics, per spec.md §5's fixed lock
// order.
func (s *SharedState) Statistics() (stats heap.Statistics, allocated int) {
	s.storageMu.Lock()
	defer s.storageMu.Unlock()
	allocated = s.storage.Count()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	stats = s.stats
	return stats, allocated
}

// ResetStatistics zeroes every counter; the store itself is untouched.
func (s *SharedState) ResetStatistics() {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Reset()
}

// ClearStorage removes every stored allocation.
func (s *SharedState) ClearStorage() {
	s.storageMu.Lock()
	defer s.storageMu.Unlock()
	s.storage.Clear()
}
