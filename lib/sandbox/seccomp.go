// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Classic BPF opcodes used to build a seccomp filter program. These
// are not exposed by golang.org/x/sys/unix (which provides the
// SockFilter/SockFprog wire types but not the instruction-encoding
// constants), so they are defined here directly from the kernel's
// BPF and seccomp ABI.
const (
	bpfLdWAbs = 0x00 | 0x00 | 0x20 // BPF_LD | BPF_W | BPF_ABS
	bpfJmpJEQK = 0x05 | 0x10 | 0x00 // BPF_JMP | BPF_JEQ | BPF_K
	bpfRetK   = 0x06 | 0x00        // BPF_RET | BPF_K

	// seccompRetAllow lets the syscall through unmodified.
	seccompRetAllow = 0x7fff0000
	// seccompRetKillProcess terminates the whole process immediately,
	// without the possibility of catching or ignoring the signal.
	seccompRetKillProcess = 0x80000000

	// seccompDataNrOffset is the byte offset of the syscall number
	// field within struct seccomp_data, which the BPF program's
	// accumulator loads from. It is the struct's first field (a
	// 4-byte int) on every architecture Linux supports.
	seccompDataNrOffset = 0
)

// InstallSyscallFilter installs a seccomp-bpf filter that allows only
// the syscalls in allowed and kills the process on any other syscall.
// It first sets PR_SET_NO_NEW_PRIVS so the restriction cannot be
// escaped by execing a setuid binary, then installs the filter via
// PR_SET_SECCOMP. Both steps are irreversible for the calling thread
// group: once installed, a filter cannot be removed or loosened.
func InstallSyscallFilter(allowed []uintptr) error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("sandbox: setting no_new_privs: %w", err)
	}

	program := buildAllowlistProgram(allowed)
	fprog := unix.SockFprog{
		Len:    uint16(len(program)),
		Filter: &program[0],
	}

	if err := unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(&fprog)), 0, 0); err != nil {
		return fmt.Errorf("sandbox: installing seccomp filter: %w", err)
	}
	return nil
}

// buildAllowlistProgram compiles a BPF program that loads the
// syscall number, compares it against each entry in allowed in turn,
// and returns SECCOMP_RET_ALLOW on the first match or
// SECCOMP_RET_KILL_PROCESS if none match.
func buildAllowlistProgram(allowed []uintptr) []unix.SockFilter {
	program := make([]unix.SockFilter, 0, len(allowed)+2)
	program = append(program, unix.SockFilter{
		Code: bpfLdWAbs,
		K:    seccompDataNrOffset,
	})

	for i, syscallNumber := range allowed {
		// On a match, jump forward past the remaining comparisons to
		// land exactly on the ALLOW return; on a mismatch, fall
		// through to the next comparison.
		jumpToAllow := uint8(len(allowed) - i - 1)
		program = append(program, unix.SockFilter{
			Code: bpfJmpJEQK,
			K:    uint32(syscallNumber),
			Jt:   jumpToAllow,
			Jf:   0,
		})
	}

	program = append(program, unix.SockFilter{Code: bpfRetK, K: seccompRetAllow})
	program = append(program, unix.SockFilter{Code: bpfRetK, K: seccompRetKillProcess})
	return program
}
