package trampoline

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ntqbit/allocation-catcher/flagset"
	"github.com/ntqbit/allocation-catcher/heap"
)

type recordingHandler struct {
	mu      sync.Mutex
	allocs  int
	reallocs int
	frees   int
}

func (h *recordingHandler) OnAllocation(heap.AllocationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allocs++
}

func (h *recordingHandler) OnReallocation(heap.ReallocationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reallocs++
}

func (h *recordingHandler) OnDeallocation(heap.DeallocationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frees++
}

func (h *recordingHandler) counts() (int, int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.allocs, h.reallocs, h.frees
}

func TestEngineLifecycle(t *testing.T) {
	fp := NewFakeProvider()
	e := NewEngine(fp, flagset.New())

	require.NoError(t, e.Initialize())
	require.True(t, e.IsInitialized())

	require.NoError(t, e.Enable())
	require.True(t, e.IsEnabled())
	require.True(t, fp.IsEnabled(HookAllocate))
	require.True(t, fp.IsEnabled(HookReallocate))
	require.True(t, fp.IsEnabled(HookFree))

	require.NoError(t, e.Disable())
	require.False(t, e.IsEnabled())
}

func TestEngineInitializeFailurePropagates(t *testing.T) {
	fp := NewFakeProvider()
	fp.FailInstall[HookFree] = true
	e := NewEngine(fp, flagset.New())

	require.ErrorIs(t, e.Initialize(), ErrHookInitializeFailed)
	require.False(t, e.IsInitialized())
}

func TestEngineEnableRequiresInitialize(t *testing.T) {
	fp := NewFakeProvider()
	e := NewEngine(fp, flagset.New())

	require.Error(t, e.Enable())
}

func TestOnAllocateReportsToHandler(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h := &recordingHandler{}
	e := NewEngine(NewFakeProvider(), flagset.New())
	e.SetHandler(h)

	e.OnAllocate(1, 0, 32, 0x1000)

	allocs, _, _ := h.counts()
	require.Equal(t, 1, allocs)
}

// TestOnAllocateSuppressesReentrancy exercises the recursion gate: a
// handler that itself triggers another allocation event on the same OS
// thread must not be re-observed (spec.md §5).
func TestOnAllocateSuppressesReentrancy(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	flags := flagset.New()
	var reentrantCalls int

	reentrant := &selfTriggeringHandler{
		onAlloc: func() {
			reentrantCalls++
		},
	}

	e := NewEngine(NewFakeProvider(), flags)
	e.SetHandler(reentrant)
	reentrant.engine = e

	e.OnAllocate(1, 0, 16, 0x2000)

	require.Equal(t, 1, reentrantCalls, "nested OnAllocate on the same thread must be suppressed: only the outer call reaches the handler")
}

// TestOnAllocateSuppressesHeapNoSerialize exercises the HEAP_NO_SERIALIZE
// gate: a call that tells RtlAllocateHeap it already holds the heap lock
// must never reach the handler, even though the recursion gate alone
// would have let it through (spec.md §4.2 step 4, §8 S6).
func TestOnAllocateSuppressesHeapNoSerialize(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h := &recordingHandler{}
	e := NewEngine(NewFakeProvider(), flagset.New())
	e.SetHandler(h)

	e.OnAllocate(1, HeapNoSerialize, 32, 0x1000)

	allocs, _, _ := h.counts()
	require.Equal(t, 0, allocs, "HEAP_NO_SERIALIZE call must produce zero handler events")
}

func TestOnReallocateSuppressesHeapNoSerialize(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h := &recordingHandler{}
	e := NewEngine(NewFakeProvider(), flagset.New())
	e.SetHandler(h)

	e.OnReallocate(1, HeapNoSerialize, 0x1000, 64, 0x2000)

	_, reallocs, _ := h.counts()
	require.Equal(t, 0, reallocs, "HEAP_NO_SERIALIZE call must produce zero handler events")
}

func TestOnFreeSuppressesHeapNoSerialize(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h := &recordingHandler{}
	e := NewEngine(NewFakeProvider(), flagset.New())
	e.SetHandler(h)

	e.OnFree(1, HeapNoSerialize, 0x1000, true)

	_, _, frees := h.counts()
	require.Equal(t, 0, frees, "HEAP_NO_SERIALIZE call must produce zero handler events")
}

type selfTriggeringHandler struct {
	heap.NoopHandler
	engine  *Engine
	onAlloc func()
}

func (h *selfTriggeringHandler) OnAllocation(heap.AllocationEvent) {
	h.engine.OnAllocate(1, 0, 8, 0x3000) // nested call, same OS thread
	h.onAlloc()
}

func TestDisableWaitsForInFlightCalls(t *testing.T) {
	fp := NewFakeProvider()
	e := NewEngine(fp, flagset.New())

	started := make(chan struct{})
	blockHandler := &blockingHandler{started: started, release: make(chan struct{})}
	e.SetHandler(blockHandler)

	require.NoError(t, e.Initialize())
	require.NoError(t, e.Enable())

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		e.OnAllocate(1, 0, 4, 0x4000)
	}()

	<-started
	done := make(chan struct{})
	go func() {
		e.Disable()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Disable returned before in-flight call finished")
	default:
	}

	close(blockHandler.release)
	<-done
}

type blockingHandler struct {
	heap.NoopHandler
	started chan struct{}
	release chan struct{}
}

func (h *blockingHandler) OnAllocation(heap.AllocationEvent) {
	close(h.started)
	<-h.release
}
