//go:build linux

package stream

import "golang.org/x/sys/unix"

// elevateThreadPriority sets a nice value of -10 on the calling (locked)
// OS thread, matching the documented "dedicated high-priority runtime"
// behavior on Linux. PRIO_PROCESS with the thread's own tid is the
// standard way to set a per-thread (not per-process) nice value, since
// Linux threads are schedulable entities with their own pid/tid.
func elevateThreadPriority() {
	tid := unix.Gettid()
	_ = unix.Setpriority(unix.PRIO_PROCESS, tid, -10)
}
