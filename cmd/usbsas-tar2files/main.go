// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-tar2files opens a tar archive (downloaded by usbsas-downloader
// or produced locally for a USB destination) and presents it through
// the same ReadDir/GetAttr/ReadFile surface usbsas-scsi2files exposes
// for a source device.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
)

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
			unix.SYS_PREAD64,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-tar2files: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

// tarEntry records one member's data region within the archive file,
// so ReadFile can seek directly to it instead of re-scanning the
// whole tar sequentially for every request.
type tarEntry struct {
	path       string
	ftype      proto.FileType
	size       uint64
	dataOffset int64
}

type stateMachine struct {
	file    *os.File
	entries []tarEntry
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionOpenTar:
		return sm.file == nil
	case proto.WorkerActionReadDir, proto.WorkerActionGetAttr, proto.WorkerActionReadFile:
		return sm.file != nil
	case proto.WorkerActionCloseTar:
		return sm.file != nil
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionOpenTar:
		return sm.openTar(req)
	case proto.WorkerActionReadDir:
		return sm.readDir(req)
	case proto.WorkerActionGetAttr:
		return sm.getAttr(req)
	case proto.WorkerActionReadFile:
		return sm.readFile(req, status)
	case proto.WorkerActionCloseTar:
		return sm.closeTar()
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) openTar(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	file, err := os.Open(req.TarPath)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: opening %s: %w", req.TarPath, err)
	}

	tr := tar.NewReader(file)
	var entries []tarEntry
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			file.Close()
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: reading %s: %w", req.TarPath, err)
		}
		offset, err := file.Seek(0, io.SeekCurrent)
		if err != nil {
			file.Close()
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "data/")
		if name == "config.json" && header.Name == "config.json" {
			continue
		}
		ftype := proto.FileTypeRegular
		if header.FileInfo().IsDir() {
			ftype = proto.FileTypeDirectory
		}
		entries = append(entries, tarEntry{
			path:       "/" + strings.TrimPrefix(name, "/"),
			ftype:      ftype,
			size:       uint64(header.Size),
			dataOffset: offset,
		})
	}

	sm.file = file
	sm.entries = entries
	return proto.WorkerResponse{}, nil
}

func (sm *stateMachine) readDir(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	dir := strings.TrimSuffix(req.Path, "/")
	var files []proto.FileInfo
	seenDirs := make(map[string]bool)
	for _, e := range sm.entries {
		p := strings.TrimPrefix(e.path, "/")
		var rel string
		if dir == "" {
			rel = p
		} else {
			prefix := strings.TrimPrefix(dir, "/") + "/"
			if !strings.HasPrefix(p, prefix) {
				continue
			}
			rel = strings.TrimPrefix(p, prefix)
		}
		if rel == "" {
			continue
		}
		if idx := strings.Index(rel, "/"); idx >= 0 {
			child := path.Join(dir, rel[:idx])
			if !seenDirs[child] {
				seenDirs[child] = true
				files = append(files, proto.FileInfo{Path: child, Type: proto.FileTypeDirectory})
			}
			continue
		}
		files = append(files, proto.FileInfo{Path: path.Join(dir, rel), Type: e.ftype, Size: e.size})
	}
	return proto.WorkerResponse{Files: files}, nil
}

func (sm *stateMachine) getAttr(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	for _, e := range sm.entries {
		if e.path == req.Path {
			attr := proto.FileInfo{Path: e.path, Type: e.ftype, Size: e.size}
			return proto.WorkerResponse{Attr: &attr}, nil
		}
	}
	return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: %s: %w", req.Path, os.ErrNotExist)
}

func (sm *stateMachine) readFile(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	for _, e := range sm.entries {
		if e.path != req.Path {
			continue
		}
		start := req.Offset
		if start > e.size {
			start = e.size
		}
		end := start + uint64(req.Length)
		eof := false
		if end >= e.size {
			end = e.size
			eof = true
		}
		buf := make([]byte, end-start)
		if _, err := sm.file.ReadAt(buf, e.dataOffset+int64(start)); err != nil && err != io.EOF {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: reading %s: %w", req.Path, err)
		}
		status(proto.StatusEvent{Kind: proto.StatusReadSrc, Current: end, Total: e.size})
		return proto.WorkerResponse{Data: buf, EOF: eof}, nil
	}
	return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: %s: %w", req.Path, os.ErrNotExist)
}

func (sm *stateMachine) closeTar() (proto.WorkerResponse, error) {
	err := sm.file.Close()
	sm.file = nil
	sm.entries = nil
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-tar2files: %w", err)
	}
	return proto.WorkerResponse{}, nil
}
