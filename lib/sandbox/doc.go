// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox implements the two in-process self-confinement
// primitives workers use during their sandbox transition: a seccomp-bpf syscall allowlist
// ([InstallSyscallFilter]) and a Landlock filesystem-access
// whitelist ([RestrictPaths]). Both are pure Go over
// golang.org/x/sys/unix raw syscalls — no cgo, no libseccomp.
//
// A worker calls one or both from the function it passes to
// lib/workerproc's Worker.Transition. Once installed, neither
// restriction can be loosened or removed for the lifetime of the
// process: a worker that needs a new file descriptor or syscall
// after transitioning simply cannot get one, which is the entire
// point.
package sandbox
