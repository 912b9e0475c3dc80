package trampoline

import "sync"

// FakeProvider is an in-memory Provider used by tests and non-Windows
// builds: instead of patching ntdll, it lets the test drive the engine's
// OnAllocate/OnReallocate/OnFree callbacks directly while still
// exercising Engine's Initialize/Enable/Disable lifecycle and errors.
type FakeProvider struct {
	mu sync.Mutex

	// FailInstall/FailEnable/FailDisable let a test force a specific
	// hook's lifecycle call to fail, exercising Engine's error paths.
	FailInstall, FailEnable, FailDisable map[Hook]bool

	installed map[Hook]bool
	enabled   map[Hook]bool
}

// NewFakeProvider returns a FakeProvider with nothing installed.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		FailInstall: map[Hook]bool{},
		FailEnable:  map[Hook]bool{},
		FailDisable: map[Hook]bool{},
		installed:   map[Hook]bool{},
		enabled:     map[Hook]bool{},
	}
}

func (p *FakeProvider) Install(hook Hook) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailInstall[hook] {
		return 0, ErrCouldNotFindProc
	}
	p.installed[hook] = true
	return uintptr(hook) + 1, nil
}

func (p *FakeProvider) Enable(hook Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailEnable[hook] {
		return ErrHookEnableFailed
	}
	p.enabled[hook] = true
	return nil
}

func (p *FakeProvider) Disable(hook Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailDisable[hook] {
		return ErrHookDisableFailed
	}
	p.enabled[hook] = false
	return nil
}

// IsEnabled reports whether hook is currently redirected, for test
// assertions.
func (p *FakeProvider) IsEnabled(hook Hook) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled[hook]
}
