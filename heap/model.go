// Package heap holds the core data model (spec.md §3) and the
// AllocationHandler contract (C3) that the detour engine notifies.
package heap

// Address identifies a byte in the target's virtual address space.
type Address uint64

// HeapHandle is an opaque identifier of a Windows heap.
type HeapHandle uint64

// BackTraceSymbol is a single resolved (or partially resolved) symbol.
type BackTraceSymbol struct {
	Name    *string
	Address *Address
}

// BackTraceFrame is one frame of a walked call stack.
type BackTraceFrame struct {
	InstructionPointer Address
	StackPointer       Address
	ModuleBase         *Address
	ResolvedSymbols    []BackTraceSymbol
}

// BackTrace is an ordered sequence of walked frames.
type BackTrace struct {
	Frames []BackTraceFrame
}

// StackTrace is a raw capture of consecutive stack words.
type StackTrace struct {
	Base  Address
	Trace []uint64
}

// Allocation is a single live allocation record as stored (spec.md §3).
type Allocation struct {
	BaseAddress Address
	Size        uint64
	HeapHandle  HeapHandle
	StackTrace  *StackTrace
	BackTrace   *BackTrace
}

// Configuration controls stack/backtrace capture. The zero value disables
// all tracing, matching spec.md §3.
type Configuration struct {
	StackTraceOffset            uint64
	StackTraceSize               uint64
	BacktraceFramesSkip          uint32
	BacktraceFramesCount         uint32
	BacktraceResolveSymbolsCount uint32
}

// Statistics are monotone counters, reset only on explicit request.
type Statistics struct {
	TotalAllocations              uint64
	TotalReallocations            uint64
	TotalDeallocations            uint64
	TotalDeallocationsNonAllocated uint64
}

// Reset zeroes every counter.
func (s *Statistics) Reset() {
	*s = Statistics{}
}
