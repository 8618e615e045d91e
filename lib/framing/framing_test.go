// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestWriteReadFrameRoundtrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0x42}, 4096),
	}

	var buffer bytes.Buffer
	for _, payload := range payloads {
		if err := WriteFrame(&buffer, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	for i, want := range payloads {
		got, err := ReadFrame(&buffer)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			t.Errorf("frame %d: got %d bytes, want %d bytes", i, len(got), len(want))
		}
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buffer bytes.Buffer
	oversized := make([]byte, MaxPayloadSize+1)

	err := WriteFrame(&buffer, oversized)
	if err == nil {
		t.Fatal("expected error writing oversized frame")
	}
}

func TestReadFrameRejectsOversizedDeclaredLength(t *testing.T) {
	var buffer bytes.Buffer
	var header [4]byte
	// Declare a length one byte past the ceiling without providing
	// the corresponding payload: the declared-length check must fire
	// before ReadFrame attempts to read the body.
	putUint32LE(header[:], MaxPayloadSize+1)
	buffer.Write(header[:])

	_, err := ReadFrame(&buffer)
	if err == nil {
		t.Fatal("expected error reading frame with oversized declared length")
	}
}

func TestReadFrameOnTruncatedStream(t *testing.T) {
	var buffer bytes.Buffer
	var header [4]byte
	putUint32LE(header[:], 10)
	buffer.Write(header[:])
	buffer.Write([]byte("abc")) // only 3 of the declared 10 bytes

	_, err := ReadFrame(&buffer)
	if err == nil {
		t.Fatal("expected error reading truncated frame")
	}
}

func TestReadFrameOnEmptyStream(t *testing.T) {
	_, err := ReadFrame(&bytes.Buffer{})
	if err == nil {
		t.Fatal("expected error reading from empty stream")
	}
	if err != io.EOF {
		// io.ReadFull wraps a zero-byte read as io.EOF; anything else
		// read as io.ErrUnexpectedEOF. Either is acceptable as long as
		// it is non-nil, so only check the wrapped case explicitly
		// when it surfaces directly.
		t.Logf("got wrapped error (expected): %v", err)
	}
}

func TestWriteFrameOnPipe(t *testing.T) {
	reader, writer := io.Pipe()
	done := make(chan error, 1)

	go func() {
		done <- WriteFrame(writer, []byte("pipe payload"))
		writer.Close()
	}()

	got, err := ReadFrame(reader)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(got) != "pipe payload" {
		t.Errorf("got %q, want %q", got, "pipe payload")
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
