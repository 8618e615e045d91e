// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-files2tar streams the selected source files into a tar
// archive. A bundled archive (used for a network destination)
// additionally nests every
// file under a data/ prefix and appends a config.json member carrying
// the transfer's metadata, so the receiving server can tell the
// archive's shape without guessing.
package main

import (
	"archive/tar"
	"fmt"
	"log/slog"
	"os"
	"path"
	"time"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
)

const bundledConfigName = "config.json"

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
			unix.SYS_UNLINKAT,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-files2tar: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

type stateMachine struct {
	file    *os.File
	tw      *tar.Writer
	bundled bool

	inFile         bool
	currentSize    uint64
	currentWritten uint64
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionOpenTar:
		return sm.tw == nil
	case proto.WorkerActionNewFile:
		return sm.tw != nil && !sm.inFile
	case proto.WorkerActionWriteFile, proto.WorkerActionEndFile:
		return sm.tw != nil && sm.inFile
	case proto.WorkerActionCloseTar:
		return sm.tw != nil && !sm.inFile
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionOpenTar:
		return sm.openTar(req)
	case proto.WorkerActionNewFile:
		return sm.newFile(req)
	case proto.WorkerActionWriteFile:
		return sm.writeFile(req, status)
	case proto.WorkerActionEndFile:
		return sm.endFile()
	case proto.WorkerActionCloseTar:
		return sm.closeTar(req)
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) openTar(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	file, err := os.OpenFile(req.TarPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: creating %s: %w", req.TarPath, err)
	}
	sm.file = file
	sm.tw = tar.NewWriter(file)
	sm.bundled = req.Bundled
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) newFile(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	name := req.Path
	if sm.bundled {
		name = path.Join("data", req.Path)
	}
	modTime := time.Unix(req.FileUnixTimestamp, 0)
	if req.FileUnixTimestamp == 0 {
		modTime = time.Unix(0, 0)
	}
	header := &tar.Header{
		Name:    name,
		Size:    int64(req.FileSize),
		Mode:    0o644,
		ModTime: modTime,
	}
	if err := sm.tw.WriteHeader(header); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: writing header for %s: %w", req.Path, err)
	}
	sm.inFile = true
	sm.currentSize = req.FileSize
	sm.currentWritten = 0
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) writeFile(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	n, err := sm.tw.Write(req.Chunk)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: writing chunk: %w", err)
	}
	sm.currentWritten += uint64(n)
	status(proto.StatusEvent{Kind: proto.StatusMkArchive, Current: sm.currentWritten, Total: sm.currentSize})
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) endFile() (proto.WorkerResponse, error) {
	if sm.currentWritten != sm.currentSize {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: file closed after %d bytes, header declared %d", sm.currentWritten, sm.currentSize)
	}
	sm.inFile = false
	sm.currentSize = 0
	sm.currentWritten = 0
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) closeTar(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	if sm.bundled && len(req.Data) > 0 {
		header := &tar.Header{
			Name:    bundledConfigName,
			Size:    int64(len(req.Data)),
			Mode:    0o644,
			ModTime: time.Unix(0, 0),
		}
		if err := sm.tw.WriteHeader(header); err != nil {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: writing %s header: %w", bundledConfigName, err)
		}
		if _, err := sm.tw.Write(req.Data); err != nil {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: writing %s: %w", bundledConfigName, err)
		}
	}
	if err := sm.tw.Close(); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: closing tar writer: %w", err)
	}
	if err := sm.file.Close(); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-files2tar: closing %s: %w", sm.file.Name(), err)
	}
	sm.tw = nil
	sm.file = nil
	return proto.WorkerResponse{}, nil
}
