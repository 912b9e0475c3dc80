// Package backtrace implements C6's stack-snapshot and back-trace capture,
// translated from original_source/backend/src/handler.rs
// (create_stack_trace / create_back_trace, built on the Rust `backtrace`
// crate) onto Go's github.com/go-stack/stack.
package backtrace

import (
	"runtime/debug"
	"unsafe"

	"github.com/go-stack/stack"

	"github.com/ntqbit/allocation-catcher/heap"
)

func init() {
	// A raw stack-word read (CaptureStackTrace) may fault on unmapped
	// memory near thread startup (spec.md §4.6, §9(c)). SetPanicOnFault
	// turns that fault into a recoverable panic instead of crashing the
	// process.
	debug.SetPanicOnFault(true)
}

// CaptureStackTrace reads size consecutive machine words starting at
// base + wordsize*offset. It returns nil if size == 0. A fault while
// reading (e.g. near thread startup, per spec.md §4.6) is caught and
// degrades to nil rather than terminating the process.
func CaptureStackTrace(base heap.Address, offset, size uint64) (trace *heap.StackTrace) {
	if size == 0 {
		return nil
	}

	addr := base + heap.Address(uintptr(offset)*unsafe.Sizeof(uintptr(0)))

	defer func() {
		if r := recover(); r != nil {
			trace = nil
		}
	}()

	// A raw stack-word read may fault on unmapped memory near thread
	// startup (spec.md §4.6, §9(c)). SetPanicOnFault turns that fault into
	// a recoverable panic; it applies to the calling goroutine only, so it
	// is enabled here for the duration of the read and then restored.
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))

	words := make([]uint64, 0, size)
	ptr := uintptr(addr)
	for i := uint64(0); i < size; i++ {
		words = append(words, *(*uint64)(unsafe.Pointer(ptr))) // #nosec G103 -- raw target-stack read, guarded by SetPanicOnFault
		ptr += unsafe.Sizeof(uintptr(0))
	}

	return &heap.StackTrace{Base: addr, Trace: words}
}

// CaptureBackTrace walks the current call stack skipping the first skip
// frames, collecting up to count frames, resolving at most
// resolveSymbolsCount symbols per frame. Returns nil if count == 0.
func CaptureBackTrace(skip int, count, resolveSymbolsCount uint32) *heap.BackTrace {
	if count == 0 {
		return nil
	}

	trace := stack.Trace().TrimRuntime()
	if skip > 0 && skip < len(trace) {
		trace = trace[skip:]
	} else if skip >= len(trace) {
		trace = nil
	}

	bt := &heap.BackTrace{Frames: make([]heap.BackTraceFrame, 0, count)}

	for _, call := range trace {
		if uint32(len(bt.Frames)) >= count {
			break
		}

		frame := call.Frame()
		ip := heap.Address(frame.PC)

		var symbols []heap.BackTraceSymbol
		if resolveSymbolsCount > 0 {
			name := frame.Function
			symAddr := ip
			symbols = []heap.BackTraceSymbol{{Name: &name, Address: &symAddr}}
		}

		bt.Frames = append(bt.Frames, heap.BackTraceFrame{
			InstructionPointer: ip,
			StackPointer:       0, // go-stack/stack does not expose the frame's SP
			ModuleBase:         nil,
			ResolvedSymbols:    symbols,
		})
	}

	return bt
}

// CaptureStackAndBackTrace is the combined helper mirroring
// creeate_stack_and_back_trace in the original source.
func CaptureStackAndBackTrace(base heap.Base, cfg heap.Configuration) (*heap.StackTrace, *heap.BackTrace) {
	var stackTrace *heap.StackTrace
	if stackBase, ok := base.StackBase(); ok {
		stackTrace = CaptureStackTrace(stackBase, cfg.StackTraceOffset, cfg.StackTraceSize)
	}

	backTrace := CaptureBackTrace(int(cfg.BacktraceFramesSkip), cfg.BacktraceFramesCount, cfg.BacktraceResolveSymbolsCount)

	return stackTrace, backTrace
}
