// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package proto defines the wire types exchanged over usbsas's two
// protocol surfaces: the frontend's Unix domain socket
// ([FrontendRequest] / [FrontendResponse]) and each worker's pair of
// pipes ([WorkerRequest] / [WorkerResponse]). Both surfaces share the
// same framing (lib/framing) and encoding (lib/codec).
//
// Following the action-keyed request convention used throughout this
// codebase, a request is a single flat struct with an Action
// discriminator field and a set of action-specific optional fields
// (cbor:",omitempty"), rather than a sum type. Workers only ever see
// the subset of actions valid for their own state machine; receiving
// anything else is a protocol violation.
//
// A worker's response is likewise one flat struct carrying the four
// standard response variants described in the IPC framing design
// (End, Error, Status, and the request-specific payload) plus that
// worker's own specific fields.
package proto
