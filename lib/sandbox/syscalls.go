// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import "golang.org/x/sys/unix"

// BaseSyscalls is the set of syscalls allowed to every worker
// regardless of its role: pipe I/O, memory management (the filter
// compares syscall numbers only, so mmap's protection flags,
// PROT_EXEC included, are not checked), and the handful of
// syscalls the Go runtime itself needs to keep scheduling goroutines
// and handling signals.
var BaseSyscalls = []uintptr{
	unix.SYS_READ,
	unix.SYS_WRITE,
	unix.SYS_CLOSE,
	unix.SYS_MMAP,
	unix.SYS_MUNMAP,
	unix.SYS_MREMAP,
	unix.SYS_BRK,
	unix.SYS_FUTEX,
	unix.SYS_SIGALTSTACK,
	unix.SYS_CLOCK_GETTIME,
	unix.SYS_RT_SIGRETURN,
	unix.SYS_EXIT,
	unix.SYS_EXIT_GROUP,
}

// WithExtra returns BaseSyscalls plus extra, for a worker that needs
// additional syscalls beyond the common set (for example, ioctl and
// lseek for the device reader, or lseek and fsync-equivalents for the
// tar and filesystem writers).
func WithExtra(extra ...uintptr) []uintptr {
	syscalls := make([]uintptr, 0, len(BaseSyscalls)+len(extra))
	syscalls = append(syscalls, BaseSyscalls...)
	syscalls = append(syscalls, extra...)
	return syscalls
}
