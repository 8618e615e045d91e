// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-files2fs builds the destination filesystem image the block
// writer eventually copies onto a USB device. It owns the one
// lib/simplefs.Image in the pipeline: either the file-table path (one
// NewFile/WriteFile*/EndFile sequence per selected file) or, for
// full-disk imaging, the raw sector-copy path that bypasses the file
// table entirely.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/simplefs"
	"github.com/usbsas/usbsas/lib/workerproc"
)

// bitmapChunkBytes bounds a single BitmapChunk response's payload, so
// the bitmap for a large device streams over many small IPC frames
// rather than risking framing.MaxPayloadSize on one giant chunk.
const bitmapChunkBytes = 64 * 1024

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
			unix.SYS_FTRUNCATE,
			unix.SYS_FSYNC,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-files2fs: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

type stateMachine struct {
	img    *simplefs.Image
	fw     *simplefs.FileWriter
	raw    bool
	bitmap *simplefs.Bitmap
	chunks []simplefs.Chunk
	chunkI int
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionInitFs:
		return sm.img == nil
	case proto.WorkerActionNewFile:
		return sm.img != nil && !sm.raw && sm.fw == nil
	case proto.WorkerActionWriteFile, proto.WorkerActionEndFile:
		return sm.img != nil && sm.fw != nil
	case proto.WorkerActionRawWriteSector:
		return sm.img != nil && sm.raw
	case proto.WorkerActionCloseFs:
		return sm.img != nil && sm.fw == nil
	case proto.WorkerActionBitmapChunk:
		return sm.bitmap != nil
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionInitFs:
		return sm.initFs(req)
	case proto.WorkerActionNewFile:
		return sm.newFile(req)
	case proto.WorkerActionWriteFile:
		return sm.writeFile(req, status)
	case proto.WorkerActionEndFile:
		return sm.endFile()
	case proto.WorkerActionRawWriteSector:
		return sm.rawWriteSector(req, status)
	case proto.WorkerActionCloseFs:
		return sm.closeFs(req)
	case proto.WorkerActionBitmapChunk:
		return sm.bitmapChunk()
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) initFs(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	img, err := simplefs.Create(req.ImagePath, req.ImageSize, req.FsType)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: %w", err)
	}
	sm.img = img
	sm.raw = req.Raw
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) newFile(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	fw, err := sm.img.NewFile(req.Path, proto.FileTypeRegular)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: %w", err)
	}
	sm.fw = fw
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) writeFile(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	n, err := sm.fw.Write(req.Chunk)
	if err != nil {
		return proto.WorkerResponse{}, workerproc.Recoverable(fmt.Errorf("usbsas-files2fs: %w", err))
	}
	status(proto.StatusEvent{Kind: proto.StatusMkFs, Current: uint64(n)})
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) endFile() (proto.WorkerResponse, error) {
	if err := sm.fw.Close(); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: %w", err)
	}
	sm.fw = nil
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) rawWriteSector(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	if err := sm.img.RawWriteSector(req.StartLBA, req.Data); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: %w", err)
	}
	status(proto.StatusEvent{Kind: proto.StatusDiskImg, Current: req.StartLBA})
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) closeFs(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	bitmap, err := sm.img.Close()
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: %w", err)
	}
	sm.bitmap = bitmap
	sm.chunks = bitmap.Chunks(bitmapChunkBytes)
	sm.chunkI = 0
	return proto.WorkerResponse{}, nil
}

// bitmapChunk is called repeatedly by the supervisor, once per chunk, until it returns one
// with Last=true.
func (sm *stateMachine) bitmapChunk() (proto.WorkerResponse, error) {
	if sm.chunkI >= len(sm.chunks) {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2fs: bitmap already fully streamed")
	}
	chunk := sm.chunks[sm.chunkI]
	sm.chunkI++
	return proto.WorkerResponse{Chunk: chunk.Data, Last: chunk.Last}, nil
}
