// Package proto hand-encodes the request/response payloads carried by
// the wire protocol (C8). spec.md treats the protobuf codec as an
// external collaborator and the reference corpus has no protoc-generated
// stubs available in this environment, so messages are encoded directly
// against google.golang.org/protobuf/encoding/protowire, the same
// low-level package protoc-generated code itself builds on. Field numbers
// follow declaration order, matching what protoc would assign to the
// schema implied by spec.md §3/§4.8.
package proto

// Configuration mirrors heap.Configuration on the wire.
type Configuration struct {
	StackTraceOffset             uint64
	StackTraceSize                uint64
	BacktraceFramesSkip           uint32
	BacktraceFramesCount          uint32
	BacktraceResolveSymbolsCount  uint32
}

// Statistics mirrors heap.Statistics plus the live-key count reported
// alongside it in GetStatisticsResponse.
type Statistics struct {
	TotalAllocations               uint64
	TotalReallocations              uint64
	TotalDeallocations              uint64
	TotalDeallocationsNonAllocated uint64
	Allocated                       uint64
}

// BackTraceSymbol mirrors heap.BackTraceSymbol.
type BackTraceSymbol struct {
	Name    *string
	Address *uint64
}

// BackTraceFrame mirrors heap.BackTraceFrame.
type BackTraceFrame struct {
	InstructionPointer uint64
	StackPointer       uint64
	ModuleBase         *uint64
	ResolvedSymbols    []BackTraceSymbol
}

// BackTrace mirrors heap.BackTrace.
type BackTrace struct {
	Frames []BackTraceFrame
}

// StackTrace mirrors heap.StackTrace.
type StackTrace struct {
	Base  uint64
	Trace []uint64
}

// Allocation mirrors heap.Allocation.
type Allocation struct {
	BaseAddress uint64
	Size        uint64
	HeapHandle  uint64
	StackTrace  *StackTrace
	BackTrace   *BackTrace
}

// RangeFilter is the Range arm of Filter's location oneof.
type RangeFilter struct {
	Lower uint64
	Upper uint64
}

// Filter is FindRecord's optional location selector. Exactly one of
// Address/Range should be set; both nil is a protocol error (spec.md
// §4.8: "a FindRequest with a present filter whose location is unset").
type Filter struct {
	Address *uint64
	Range   *RangeFilter
}

// FindRecord is one entry of a FindRequest.
type FindRecord struct {
	Id     uint32
	Filter *Filter // nil: dump all allocations
}

// FoundAllocation is FindResponse's per-record result, echoing Id.
type FoundAllocation struct {
	Id          uint32
	Allocations []Allocation
}

type PingRequest struct {
	Num uint32
}

type PingResponse struct {
	Version  uint32
	Num      uint32
	Wordsize uint32
}

type SetConfigurationRequest struct {
	Configuration Configuration
}

type SetConfigurationResponse struct{}

type GetConfigurationRequest struct{}

type GetConfigurationResponse struct {
	Configuration Configuration
}

type ClearStorageRequest struct{}

type ClearStorageResponse struct{}

type FindRequest struct {
	Records []FindRecord
}

type FindResponse struct {
	Allocations []FoundAllocation
}

type GetStatisticsRequest struct{}

type GetStatisticsResponse struct {
	Statistics Statistics
}

type ResetStatisticsRequest struct{}

type ResetStatisticsResponse struct{}
