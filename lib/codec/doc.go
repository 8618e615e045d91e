// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides usbsas's standard CBOR encoding configuration.
//
// Every byte that crosses a worker boundary — the supervisor's pipes to
// each child process, and the frontend's Unix socket — is CBOR. There
// is no protobuf or JSON on the wire: the frontend, the workers, and
// the supervisor all speak the same encoding, framed by lib/framing.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes — useful for the round-trip tests in lib/proto.
//
// For buffer-oriented operations (a single frame's payload, the
// simplefs superblock and file table):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (worker pipes, the frontend socket),
// callers go through lib/framing rather than NewEncoder/NewDecoder
// directly: the wire format length-prefixes each message instead of
// relying on CBOR's self-delimiting property, so a worker can detect a
// truncated write without blocking forever on a partial frame.
package codec
