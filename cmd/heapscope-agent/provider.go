//go:build windows

package main

import "github.com/ntqbit/allocation-catcher/trampoline"

// newProvider builds the real ntdll detour provider on Windows, unless
// -dev forces the in-memory fake (useful for exercising the server and
// CLI without actually patching this process's heap). The returned
// provider is not yet bound to an engine; callers must call bindEngine
// once the engine exists.
func newProvider(dev bool) (trampoline.Provider, error) {
	if dev {
		return trampoline.NewFakeProvider(), nil
	}
	return trampoline.NewProcessProvider()
}

// bindEngine completes wiring for providers that need to call back into
// the engine (only ProcessProvider does).
func bindEngine(p trampoline.Provider, engine *trampoline.Engine) {
	if pp, ok := p.(*trampoline.ProcessProvider); ok {
		pp.SetEngine(engine)
	}
}
