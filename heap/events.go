package heap

// Base describes the call site of an intercepted heap call: the heap
// handle, the return address, the address of that return address on the
// stack, and the frame address. trampoline.Engine fills in HeapHandle
// only; for the events it delivers ReturnAddress stays zero and
// AddressOfReturnAddress and StackFrameAddress stay nil, so StackBase
// reports false and no stack trace is captured for them.
type Base struct {
	HeapHandle             HeapHandle
	ReturnAddress           Address
	AddressOfReturnAddress *Address
	StackFrameAddress      *Address
}

// StackBase picks the preferred stack-snapshot origin: the address of the
// return address if available, else the frame address.
func (b Base) StackBase() (Address, bool) {
	if b.AddressOfReturnAddress != nil {
		return *b.AddressOfReturnAddress, true
	}
	if b.StackFrameAddress != nil {
		return *b.StackFrameAddress, true
	}
	return 0, false
}

// AllocationEvent is delivered on a successful or failed RtlAllocateHeap
// call. AllocatedBaseAddress is nil iff the allocator returned null.
type AllocationEvent struct {
	Base                 Base
	Size                 uint64
	AllocatedBaseAddress *Address
}

// ReallocationEvent is delivered on RtlReAllocateHeap. BaseAddress is the
// address the client passed in; Allocation.AllocatedBaseAddress is nil on
// failure.
type ReallocationEvent struct {
	BaseAddress Address
	Allocation  AllocationEvent
}

// DeallocationEvent is delivered on RtlFreeHeap.
type DeallocationEvent struct {
	Base        Base
	BaseAddress Address
	Success     bool
}

// AllocationHandler is the abstract sink the detour engine notifies
// (C3). The default implementation is a no-op; StorageAllocationHandler
// (C6) is the concrete implementation used in production.
type AllocationHandler interface {
	OnAllocation(AllocationEvent)
	OnReallocation(ReallocationEvent)
	OnDeallocation(DeallocationEvent)
}

// NoopHandler discards every event. It is the default handler until an
// installer replaces it, which per spec.md §4.3 must only happen while the
// detour engine is disabled.
type NoopHandler struct{}

func (NoopHandler) OnAllocation(AllocationEvent)     {}
func (NoopHandler) OnReallocation(ReallocationEvent) {}
func (NoopHandler) OnDeallocation(DeallocationEvent) {}

var _ AllocationHandler = NoopHandler{}
