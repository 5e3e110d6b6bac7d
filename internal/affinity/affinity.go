//go:build linux
// +build linux

// Package affinity pins an I/O thread's underlying OS thread to a single
// CPU core using sched_setaffinity(2) via golang.org/x/sys/unix, with no
// cgo dependency.
package affinity

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its current OS thread
// and, if cpuID >= 0, restricts that thread's scheduling to cpuID. The
// caller must run this from the goroutine it wants pinned, before doing
// any work — LockOSThread applies to the calling goroutine only.
//
// cpuID < 0 locks the OS thread (still useful: it stops the runtime from
// migrating the goroutine between threads) without constraining which
// core the scheduler picks.
func PinCurrentThread(cpuID int) error {
	runtime.LockOSThread()
	if cpuID < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu=%d: %w", cpuID, err)
	}
	return nil
}

// NumCPU reports the number of logical CPUs available to the process.
// The I/O thread pool does not consult it: threads without an explicit
// CPU ID are left unpinned.
func NumCPU() int {
	return runtime.NumCPU()
}
