// Package trampoline implements C2, the detour engine: it hooks
// RtlAllocateHeap, RtlReAllocateHeap and RtlFreeHeap in ntdll.dll, routes
// each call through the process-wide reentrancy flag set (flagset), and
// forwards observed events to a heap.AllocationHandler. Translated from
// original_source/backend/src/detour/mod.rs and
// original_source/backend/src/detour/rtl_heap_detour.rs.
//
// The actual byte-patching of ntdll is delegated to a Provider: this
// package owns hook sequencing, the recursion gate and event shaping, not
// the machine code that redirects control flow.
package trampoline

import (
	"errors"
	"sync"

	"github.com/ntqbit/allocation-catcher/flagset"
	"github.com/ntqbit/allocation-catcher/heap"
	"github.com/ntqbit/allocation-catcher/internal/xlog"
)

var log = xlog.New("pkg", "trampoline")

// Errors mirror original_source/backend/src/detour/mod.rs's Error enum.
var (
	ErrCouldNotFindModule  = errors.New("trampoline: could not find module")
	ErrCouldNotFindProc    = errors.New("trampoline: could not find procedure")
	ErrHookInitializeFailed = errors.New("trampoline: hook initialize failed")
	ErrHookEnableFailed    = errors.New("trampoline: hook enable failed")
	ErrHookDisableFailed   = errors.New("trampoline: hook disable failed")
)

// HeapNoSerialize is the RTL_HEAP_NO_SERIALIZE bit a caller may pass in
// the flags argument of RtlAllocateHeap/RtlReAllocateHeap/RtlFreeHeap to
// tell the heap manager it already holds the heap lock. Dispatching a
// handler event for such a call risks the handler (or anything it calls,
// e.g. logging) re-entering the same unserialized heap and deadlocking,
// so it must be excluded from dispatch regardless of the recursion gate.
const HeapNoSerialize uintptr = 0x1

// Hook identifies one of the three functions the engine intercepts.
type Hook int

const (
	HookAllocate Hook = iota
	HookReallocate
	HookFree
)

func (h Hook) String() string {
	switch h {
	case HookAllocate:
		return "RtlAllocateHeap"
	case HookReallocate:
		return "RtlReAllocateHeap"
	case HookFree:
		return "RtlFreeHeap"
	default:
		return "unknown"
	}
}

// Provider installs, enables and disables a single hook. A real
// implementation resolves the target procedure's address and patches it
// with an inline trampoline (see ProcessProvider); a fake one is used in
// tests and on platforms where ntdll does not exist.
type Provider interface {
	// Install resolves the target procedure and prepares (but does not
	// yet redirect) the hook, returning an address identifying the
	// resolved procedure. Engine checks only the error; it does not use
	// the address.
	Install(hook Hook) (original uintptr, err error)
	// Enable redirects calls to the hook's detour.
	Enable(hook Hook) error
	// Disable restores the original procedure bytes.
	Disable(hook Hook) error
}

// Engine wires the three RTL heap hooks to a heap.AllocationHandler,
// gated by a flagset.Set so that allocations made by the handler itself
// (or anything it calls) are never re-observed. Mirrors detour::initialize
// / enable / disable / uninitialize plus the RtlAllocateHeapDetour /
// RtlFreeHeapDetour shims in rtl_heap_detour.rs.
type Engine struct {
	provider Provider
	flags    *flagset.Set
	handler  heap.AllocationHandler

	mu          sync.Mutex
	initialized bool
	enabled     bool

	// wg tracks in-flight detour calls so Disable can wait for
	// quiescence before a caller tears down the handler/state (spec.md
	// §5 resolution 1: disable must not return while a detour callback
	// is still executing on another thread).
	wg sync.WaitGroup
}

// NewEngine constructs an Engine. The handler defaults to heap.NoopHandler{}
// and must be replaced with SetHandler before Enable, matching the
// original's "must never be called while detour is enabled" contract on
// set_allocation_handler.
func NewEngine(provider Provider, flags *flagset.Set) *Engine {
	return &Engine{
		provider: provider,
		flags:    flags,
		handler:  heap.NoopHandler{},
	}
}

// SetHandler replaces the allocation handler. Must not be called while
// the engine is enabled.
func (e *Engine) SetHandler(h heap.AllocationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enabled {
		panic("trampoline: SetHandler called while engine enabled")
	}
	if h == nil {
		h = heap.NoopHandler{}
	}
	e.handler = h
}

// Initialize resolves and prepares all three hooks but does not yet
// redirect control flow to them.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	for _, h := range []Hook{HookAllocate, HookReallocate, HookFree} {
		if _, err := e.provider.Install(h); err != nil {
			log.Error("hook install failed", "hook", h.String(), "err", err)
			return ErrHookInitializeFailed
		}
	}

	e.initialized = true
	log.Info("detour engine initialized")
	return nil
}

// Enable redirects the three RTL heap procedures to this engine's
// detours. Initialize must have succeeded first.
func (e *Engine) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return ErrHookInitializeFailed
	}
	if e.enabled {
		return nil
	}

	for _, h := range []Hook{HookAllocate, HookReallocate, HookFree} {
		if err := e.provider.Enable(h); err != nil {
			log.Error("hook enable failed", "hook", h.String(), "err", err)
			return ErrHookEnableFailed
		}
	}

	e.enabled = true
	log.Info("detour engine enabled")
	return nil
}

// Disable restores the original procedures and blocks until any detour
// call already in flight on another OS thread has finished, matching
// spec.md §5's requirement that teardown observe quiescence.
func (e *Engine) Disable() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return nil
	}

	for _, h := range []Hook{HookAllocate, HookReallocate, HookFree} {
		if err := e.provider.Disable(h); err != nil {
			log.Error("hook disable failed", "hook", h.String(), "err", err)
			return ErrHookDisableFailed
		}
	}

	e.enabled = false
	e.wg.Wait()
	log.Info("detour engine disabled")
	return nil
}

// OnAllocate is invoked by a platform's detour shim after calling through
// to the real RtlAllocateHeap. It is the Go equivalent of
// RtlAllocateHeapDetour: the recursion gate ensures the handler's own
// allocations (e.g. from logging or backtrace capture) are never
// re-reported.
func (e *Engine) OnAllocate(heapHandle, flags uintptr, size uint64, result uintptr) {
	e.wg.Add(1)
	defer e.wg.Done()

	acq := e.flags.Acquire(flagset.FlagAlloc.Mask())
	if !acq.Acquired() {
		return
	}
	defer acq.Release()
	if flags&HeapNoSerialize != 0 {
		return
	}

	var base *heap.Address
	if result != 0 {
		a := heap.Address(result)
		base = &a
	}

	e.handler.OnAllocation(heap.AllocationEvent{
		Base:       heap.Base{HeapHandle: heap.HeapHandle(heapHandle)},
		Size:       size,
		AllocatedBaseAddress: base,
	})
}

// OnReallocate mirrors OnAllocate for RtlReAllocateHeap.
func (e *Engine) OnReallocate(heapHandle, flags uintptr, baseAddress uintptr, size uint64, result uintptr) {
	e.wg.Add(1)
	defer e.wg.Done()

	acq := e.flags.Acquire(flagset.FlagAlloc.Mask())
	if !acq.Acquired() {
		return
	}
	defer acq.Release()
	if flags&HeapNoSerialize != 0 {
		return
	}

	var newBase *heap.Address
	if result != 0 {
		a := heap.Address(result)
		newBase = &a
	}

	e.handler.OnReallocation(heap.ReallocationEvent{
		BaseAddress: heap.Address(baseAddress),
		Allocation: heap.AllocationEvent{
			Base:       heap.Base{HeapHandle: heap.HeapHandle(heapHandle)},
			Size:       size,
			AllocatedBaseAddress: newBase,
		},
	})
}

// OnFree mirrors RtlFreeHeapDetour.
func (e *Engine) OnFree(heapHandle, flags uintptr, baseAddress uintptr, success bool) {
	e.wg.Add(1)
	defer e.wg.Done()

	acq := e.flags.Acquire(flagset.FlagFree.Mask())
	if !acq.Acquired() {
		return
	}
	defer acq.Release()
	if flags&HeapNoSerialize != 0 {
		return
	}

	e.handler.OnDeallocation(heap.DeallocationEvent{
		Base:        heap.Base{HeapHandle: heap.HeapHandle(heapHandle)},
		BaseAddress: heap.Address(baseAddress),
		Success:     success,
	})
}

// IsInitialized and IsEnabled report engine lifecycle, matching
// is_initialized/is_enabled in rtl_heap_detour.rs.
func (e *Engine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func (e *Engine) IsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}
