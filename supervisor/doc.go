// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the transfer state machine, pipeline
// choreography, and frontend Unix-domain socket server. It holds the
// roster of spawned workers and drives
// them over lib/workerproc.Client; it never touches a device, tar, or
// filesystem image byte directly — that is always done by a worker
// on the supervisor's behalf.
package supervisor
