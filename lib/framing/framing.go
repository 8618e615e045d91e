// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package framing implements the length-delimited message framing
// used on every worker's two pipes (request-in, response-out) and on
// the frontend's Unix domain socket.
//
// A frame is a 4-byte little-endian unsigned length prefix followed
// by that many bytes of payload. The payload is opaque to this
// package: callers encode it with lib/codec before framing it, and
// decode it after unframing. There is no out-of-band signalling and
// no interleaving — one frame is one complete write, and the reader
// always consumes it as one complete unit before anything else
// touches the pipe.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxPayloadSize is the declared ceiling on a single frame's payload,
// independent of the length prefix's own range. It bounds worst-case
// memory use when reading an untrusted or malfunctioning peer, and
// matches the largest inline bulk-data chunk ever carried in the
// protocol (a ReadFile response).
const MaxPayloadSize = 1 << 20 // 1 MiB

// lengthPrefixSize is the width of the frame length prefix in bytes.
const lengthPrefixSize = 4

// ErrPayloadTooLarge is returned when a frame's declared length
// exceeds [MaxPayloadSize].
var ErrPayloadTooLarge = fmt.Errorf("framing: payload exceeds maximum size of %d bytes", MaxPayloadSize)

// WriteFrame writes payload to w as a single length-delimited frame:
// a 4-byte little-endian length prefix followed by payload. The
// caller must already have encoded payload (typically with
// lib/codec); this function does not interpret its contents.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("framing: writing frame: %w (got %d bytes)", ErrPayloadTooLarge, len(payload))
	}

	var header [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("framing: writing length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("framing: writing payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-delimited frame from r and returns its
// payload. It blocks until a complete frame has been read, the
// underlying reader returns an error, or the declared length exceeds
// [MaxPayloadSize].
//
// A frame whose declared length exceeds the ceiling is a fatal
// protocol error: the caller must treat the connection as dead rather
// than attempt to skip or resynchronize, since there is no
// out-of-band framing to recover a byte boundary.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("framing: reading length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxPayloadSize {
		return nil, fmt.Errorf("framing: reading frame: %w (declared %d bytes)", ErrPayloadTooLarge, length)
	}
	if length == 0 {
		return nil, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("framing: reading payload (%d bytes): %w", length, err)
	}
	return payload, nil
}
