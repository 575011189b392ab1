// Copyright 2025 by the ttrack authors, see LICENSE file

// The thread package elevates the calling goroutine to a realtime kernel
// thread. The radio test tools call it before timing-sensitive work: the RSSI
// sweep's fixed sampling grid and the TX FIFO refills drift when the SBC
// deschedules the process mid-operation.
package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

const rr = 2 // round-robin scheduling policy

type schedParam struct {
	Priority int
}

// Realtime locks the calling goroutine to its own kernel thread and gives
// that thread round-robin realtime scheduling at priority 10, low enough in
// the realtime range that the kernel's own realtime threads still win.
func Realtime() error {
	// First pin the goroutine to its own kernel thread.
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(rr), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}
