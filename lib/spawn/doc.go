// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn starts worker binaries and wires up their two pipes.
// Each child inherits a minimal, explicitly
// allow-listed environment rather than the supervisor's full
// environment, and receives its pipe file descriptors via
// environment variables naming inherited fd numbers — the same
// indirection used throughout this codebase to hand a child process
// resources it did not open itself.
//
// A [Spawner] configured with WaitOnStartup marks the child locked
// until [Child.Unlock] sends an explicit readiness token; a worker
// that calls lib/workerproc's AwaitStartupToken before its Serve loop
// waits for that token. The supervisor spawns its workers without
// WaitOnStartup, and no worker binary calls AwaitStartupToken.
package spawn
