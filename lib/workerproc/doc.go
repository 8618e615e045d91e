// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package workerproc implements the worker side of usbsas's IPC
// protocol: the Init / Transition / Serve / End lifecycle that every
// worker binary follows.
//
// A worker constructs a [Worker] over its request-in and
// response-out pipes during Init, performs whatever privileged setup
// it needs, calls [Worker.Transition] exactly once to install its
// sandbox (lib/sandbox) and mark Init complete, then calls
// [Worker.Serve] with a [StateMachine] that implements its own
// per-action logic. Serve blocks until the supervisor sends an End
// request or the connection breaks.
package workerproc
