//go:build !linux

package stream

// elevateThreadPriority is a no-op on platforms this deployment doesn't
// target. Windows MMCSS ("Pro Audio" task) and macOS SCHED_RR priority
// elevation have no equivalent in this module's dependency set; streaming
// still runs correctly, just without the OS-level priority boost Linux
// gets.
func elevateThreadPriority() {}
