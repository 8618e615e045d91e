// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package workerproc

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/usbsas/usbsas/lib/spawn"
)

// AwaitStartupToken blocks until the supervisor releases a worker
// spawned with lib/spawn's WaitOnStartup, reading the raw 8-byte
// little-endian token written by [spawn.Child.Unlock]. It must be
// called, if at all, before any framed protocol traffic is read from
// reqIn: the token is not itself a framed message.
//
// A worker that was not spawned with WaitOnStartup never calls this.
func AwaitStartupToken(reqIn io.Reader) (uint64, error) {
	var token [8]byte
	if _, err := io.ReadFull(reqIn, token[:]); err != nil {
		return 0, fmt.Errorf("workerproc: reading startup token: %w", err)
	}
	return binary.LittleEndian.Uint64(token[:]), nil
}

// PipesFromEnv opens the request-in and response-out file descriptors
// a worker inherits from the supervisor, as numbered by the
// USBSAS_INPUT_PIPE_FD / USBSAS_OUTPUT_PIPE_FD environment variables
// [spawn.Spawner] sets. Every worker main() calls this first, before
// doing anything else.
func PipesFromEnv() (reqIn *os.File, respOut *os.File, err error) {
	inFd, err := envFd(spawn.InputPipeFDVar)
	if err != nil {
		return nil, nil, err
	}
	outFd, err := envFd(spawn.OutputPipeFDVar)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(inFd, "reqIn"), os.NewFile(outFd, "respOut"), nil
}

func envFd(name string) (uintptr, error) {
	value := os.Getenv(name)
	if value == "" {
		return 0, fmt.Errorf("workerproc: %s not set", name)
	}
	fd, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("workerproc: parsing %s=%q: %w", name, value, err)
	}
	return uintptr(fd), nil
}
