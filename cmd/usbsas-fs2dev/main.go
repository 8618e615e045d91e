// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-fs2dev is the block writer: it opens the destination USB
// device, receives the dirty-sector bitmap usbsas-files2fs computed,
// pushed chunk by chunk, and copies exactly the sectors
// the bitmap marks dirty from the locally built image onto the real
// device, in ascending sector order. It also performs the standalone
// device wipe operation.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/simplefs"
	"github.com/usbsas/usbsas/lib/workerproc"
)

const wipeChunkSectors = 8192

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	reqIn, respOut, err := workerproc.PipesFromEnv()
	if err != nil {
		return err
	}
	defer reqIn.Close()
	defer respOut.Close()

	worker := workerproc.New(reqIn, respOut, logger)
	if err := worker.Transition(func() error {
		return sandbox.InstallSyscallFilter(sandbox.WithExtra(
			unix.SYS_OPENAT,
			unix.SYS_LSEEK,
			unix.SYS_IOCTL,
			unix.SYS_NEWFSTATAT,
			unix.SYS_PREAD64,
			unix.SYS_PWRITE64,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-fs2dev: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

type stateMachine struct {
	device blockdev.Device
	chunks []simplefs.Chunk
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionOpenDevice:
		return true
	case proto.WorkerActionDeviceSize, proto.WorkerActionWipeSectors:
		return sm.device != nil
	case proto.WorkerActionBitmapChunk:
		return sm.device != nil
	case proto.WorkerActionWriteDirty:
		return sm.device != nil && len(sm.chunks) > 0
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionOpenDevice:
		return sm.openDevice(req)
	case proto.WorkerActionDeviceSize:
		size, err := sm.device.Size()
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		return proto.WorkerResponse{Size: size}, nil
	case proto.WorkerActionWipeSectors:
		return sm.wipeSectors(req, status)
	case proto.WorkerActionBitmapChunk:
		sm.chunks = append(sm.chunks, simplefs.Chunk{Data: req.Chunk, Last: req.Last})
		return proto.WorkerResponse{}, nil
	case proto.WorkerActionWriteDirty:
		return sm.writeDirty(req, status)
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) openDevice(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	if sm.device != nil {
		sm.device.Close()
	}
	device, err := blockdev.Open(req.DevicePath, true)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: %w", err)
	}
	sm.device = device
	size, err := device.Size()
	if err != nil {
		return proto.WorkerResponse{}, err
	}
	return proto.WorkerResponse{Size: size}, nil
}

func (sm *stateMachine) wipeSectors(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	total, err := sm.device.Size()
	if err != nil {
		return proto.WorkerResponse{}, err
	}
	count := total / blockdev.SectorSize

	zero := make([]byte, wipeChunkSectors*blockdev.SectorSize)
	var written uint64
	for written < count {
		chunk := count - written
		if chunk > wipeChunkSectors {
			chunk = wipeChunkSectors
		}
		if err := sm.device.WriteSectors(written, zero[:chunk*blockdev.SectorSize]); err != nil {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: wiping sector %d: %w", written, err)
		}
		written += chunk
		status(proto.StatusEvent{Kind: proto.StatusWipe, Current: written, Total: count})
	}
	status(proto.StatusEvent{Done: true, Kind: proto.StatusWipe, Current: written, Total: count})
	return proto.WorkerResponse{}, nil
}

// writeDirty assembles the bitmap pushed over the prior BitmapChunk
// requests and copies exactly the sectors it marks dirty from the
// locally built image (req.ImagePath) onto the destination device, in
// ascending sector order.
func (sm *stateMachine) writeDirty(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	totalSectors := req.ImageSize / blockdev.SectorSize
	bitmap := simplefs.Assemble(totalSectors, sm.chunks)
	dirty := bitmap.DirtySectors()

	image, err := os.Open(req.ImagePath)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: opening %s: %w", req.ImagePath, err)
	}
	defer image.Close()

	buf := make([]byte, blockdev.SectorSize)
	for i, sector := range dirty {
		if _, err := image.ReadAt(buf, int64(sector*blockdev.SectorSize)); err != nil && err != io.EOF {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: reading image sector %d: %w", sector, err)
		}
		if err := sm.device.WriteSectors(sector, buf); err != nil {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-fs2dev: writing sector %d: %w", sector, err)
		}
		status(proto.StatusEvent{Kind: proto.StatusWriteDst, Current: uint64(i + 1), Total: uint64(len(dirty))})
	}
	sm.chunks = nil
	status(proto.StatusEvent{Done: true, Kind: proto.StatusWriteDst, Current: uint64(len(dirty)), Total: uint64(len(dirty))})
	return proto.WorkerResponse{}, nil
}
