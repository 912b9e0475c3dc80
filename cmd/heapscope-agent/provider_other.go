//go:build !windows

package main

import "github.com/ntqbit/allocation-catcher/trampoline"

// newProvider always returns the in-memory fake on non-Windows builds:
// the real detour patches ntdll, which only exists on Windows. dev is
// accepted for signature symmetry with the Windows build but has no
// effect here.
func newProvider(dev bool) (trampoline.Provider, error) {
	return trampoline.NewFakeProvider(), nil
}

// bindEngine is a no-op here; FakeProvider does not call back into the
// engine.
func bindEngine(p trampoline.Provider, engine *trampoline.Engine) {}
