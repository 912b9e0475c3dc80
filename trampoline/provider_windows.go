//go:build windows

package trampoline

import (
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// syscallN calls the trampoline stub at addr as a stdcall with the given
// arguments, used by the shims to invoke the relocated original
// procedure.
func syscallN(addr uintptr, args ...uintptr) (uintptr, uintptr, syscall.Errno) {
	return syscall.SyscallN(addr, args...)
}

// ProcessProvider is the production Provider: it resolves RtlAllocateHeap,
// RtlReAllocateHeap and RtlFreeHeap in ntdll.dll and redirects them with an
// inline trampoline, the Go equivalent of the technique original_source's
// detour/rtl_heap_detour.rs delegates to the `retour` crate's
// static_detour! macro. There is no inline-hooking library in the
// reference corpus, so this Provider is hand-rolled on
// golang.org/x/sys/windows, the corpus's syscall surface (DESIGN.md).
type ProcessProvider struct {
	engine *Engine

	mu    sync.Mutex
	hooks [3]*patchedProc
}

// patchedProc tracks one hooked procedure: its address, the bytes
// originally there, the relocated copy of those bytes (callable as "the
// original function"), and whether the inline jump is currently live.
type patchedProc struct {
	addr        uintptr
	original    [jumpPatchSize]byte
	trampoline  uintptr // executable stub: original bytes + jmp back past the patch
	patched     bool
}

// jumpPatchSize covers `mov rax, imm64; jmp rax` (12 bytes), the minimal
// position-independent absolute jump on amd64.
const jumpPatchSize = 12

var hookProcNames = [3]string{
	HookAllocate:   "RtlAllocateHeap",
	HookReallocate: "RtlReAllocateHeap",
	HookFree:       "RtlFreeHeap",
}

// NewProcessProvider loads ntdll.dll. The provider cannot reach the
// engine whose hooks it serves until SetEngine is called (Engine and
// Provider are constructed in opposite directions, so callers wire them
// together after both exist: provider, _ := NewProcessProvider();
// engine := NewEngine(provider, flags); provider.SetEngine(engine)).
// Grounded on initialize()'s LoadLibraryA("ntdll.dll") call in
// rtl_heap_detour.rs.
func NewProcessProvider() (*ProcessProvider, error) {
	if _, err := windows.LoadLibrary("ntdll.dll"); err != nil {
		return nil, ErrCouldNotFindModule
	}
	return &ProcessProvider{}, nil
}

// SetEngine binds the engine whose OnAllocate/OnReallocate/OnFree the
// detour shims report to. Must be called before Enable.
func (p *ProcessProvider) SetEngine(engine *Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engine = engine
}

func (p *ProcessProvider) Install(hook Hook) (uintptr, error) {
	mod, err := windows.LoadLibrary("ntdll.dll")
	if err != nil {
		return 0, ErrCouldNotFindModule
	}

	proc, err := windows.GetProcAddress(mod, hookProcNames[hook])
	if err != nil {
		return 0, ErrCouldNotFindProc
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks[hook] = &patchedProc{addr: proc}
	return proc, nil
}

func (p *ProcessProvider) Enable(hook Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.hooks[hook]
	if h == nil {
		return ErrHookEnableFailed
	}
	if h.patched {
		return nil
	}

	original := unsafe.Slice((*byte)(unsafe.Pointer(h.addr)), jumpPatchSize)
	copy(h.original[:], original)

	stub, err := buildTrampolineStub(h.original, h.addr+jumpPatchSize)
	if err != nil {
		return ErrHookEnableFailed
	}
	h.trampoline = stub

	patch := buildAbsoluteJump(shimFor(hook, p.engine, stub))

	var old uint32
	if err := windows.VirtualProtect(h.addr, jumpPatchSize, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return ErrHookEnableFailed
	}
	copy(original, patch[:])
	var restore uint32
	_ = windows.VirtualProtect(h.addr, jumpPatchSize, old, &restore)

	h.patched = true
	return nil
}

func (p *ProcessProvider) Disable(hook Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.hooks[hook]
	if h == nil || !h.patched {
		return nil
	}

	var old uint32
	if err := windows.VirtualProtect(h.addr, jumpPatchSize, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return ErrHookDisableFailed
	}
	original := unsafe.Slice((*byte)(unsafe.Pointer(h.addr)), jumpPatchSize)
	copy(original, h.original[:])
	var restore uint32
	_ = windows.VirtualProtect(h.addr, jumpPatchSize, old, &restore)

	h.patched = false
	return nil
}

// buildTrampolineStub allocates an executable page containing saved, then
// a jmp back to resumeAt (the original procedure past the overwritten
// prologue), giving callers a way to invoke "the original function"
// despite its prologue now being overwritten.
func buildTrampolineStub(saved [jumpPatchSize]byte, resumeAt uintptr) (uintptr, error) {
	mem, err := windows.VirtualAlloc(0, jumpPatchSize*2, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return 0, err
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(mem)), jumpPatchSize*2)
	copy(buf, saved[:])
	jmp := buildAbsoluteJump(resumeAt)
	copy(buf[jumpPatchSize:], jmp[:])

	return mem, nil
}

// buildAbsoluteJump encodes `mov rax, target; jmp rax` (48 B8 <imm64> FF
// E0).
func buildAbsoluteJump(target uintptr) [jumpPatchSize]byte {
	var b [jumpPatchSize]byte
	b[0] = 0x48
	b[1] = 0xB8
	for i := 0; i < 8; i++ {
		b[2+i] = byte(target >> (8 * i))
	}
	b[10] = 0xFF
	b[11] = 0xE0
	return b
}

// shimFor builds the Go callback that RtlAllocateHeap/RtlReAllocateHeap/
// RtlFreeHeap get redirected to: call through the relocated trampoline,
// then report the result to engine, mirroring RtlAllocateHeapDetour /
// RtlFreeHeapDetour in rtl_heap_detour.rs.
func shimFor(hook Hook, engine *Engine, trampoline uintptr) uintptr {
	switch hook {
	case HookAllocate:
		return windows.NewCallback(func(heapHandle, flags uintptr, size uintptr) uintptr {
			ret, _, _ := syscallN(trampoline, heapHandle, flags, size)
			engine.OnAllocate(heapHandle, flags, uint64(size), ret)
			return ret
		})
	case HookReallocate:
		return windows.NewCallback(func(heapHandle, flags, base, size uintptr) uintptr {
			ret, _, _ := syscallN(trampoline, heapHandle, flags, base, size)
			engine.OnReallocate(heapHandle, flags, base, uint64(size), ret)
			return ret
		})
	default:
		return windows.NewCallback(func(heapHandle, flags, base uintptr) uintptr {
			ret, _, _ := syscallN(trampoline, heapHandle, flags, base)
			engine.OnFree(heapHandle, flags, base, ret != 0)
			return ret
		})
	}
}
