//go:build !windows

package flagset

import "golang.org/x/sys/unix"

// currentThreadID provides the non-Windows development/test identity: the
// kernel thread id of the calling OS thread, the closest portable analogue
// of a Win32 thread id for exercising this package off Windows.
func currentThreadID() uint32 {
	return uint32(unix.Gettid())
}
