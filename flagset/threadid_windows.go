//go:build windows

package flagset

import "golang.org/x/sys/windows"

// currentThreadID returns the Win32 thread id of the calling OS thread —
// the identity the detour trampoline actually runs on.
func currentThreadID() uint32 {
	return windows.GetCurrentThreadId()
}
