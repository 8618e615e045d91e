// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-scsi2files combines the device-reader and filesystem-reader
// roles the original pipeline split across two processes: it opens a
// source USB device, reads its partition table, and walks a selected
// partition's file table. Real
// FAT/exFAT/NTFS/ext4/ISO9660 parsing is out of scope;
// lib/simplefs stands in as the one filesystem format this
// implementation actually understands, on both the read and write
// side.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/mbr"
	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/simplefs"
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
			unix.SYS_IOCTL,
			unix.SYS_NEWFSTATAT,
			unix.SYS_PREAD64,
			unix.SYS_PWRITE64,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-scsi2files: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

type stateMachine struct {
	device     blockdev.Device
	partitions []proto.PartitionInfo
	reader     *simplefs.Reader
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionOpenDevice:
		return true
	case proto.WorkerActionDeviceSize, proto.WorkerActionReadSectors,
		proto.WorkerActionPartitions:
		return sm.device != nil
	case proto.WorkerActionOpenPartition:
		return sm.partitions != nil
	case proto.WorkerActionReadDir, proto.WorkerActionGetAttr, proto.WorkerActionReadFile:
		return sm.reader != nil
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
	case proto.WorkerActionReadSectors:
		data, err := sm.device.ReadSectors(req.StartLBA, req.SectorCount)
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		return proto.WorkerResponse{Data: data}, nil
	case proto.WorkerActionPartitions:
		partitions, err := mbr.Read(sm.device)
		if err != nil {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: %w", err)
		}
		sm.partitions = partitions
		return proto.WorkerResponse{Partitions: partitions}, nil
	case proto.WorkerActionOpenPartition:
		return sm.openPartition(req)
	case proto.WorkerActionReadDir:
		return sm.readDir(req)
	case proto.WorkerActionGetAttr:
		return sm.getAttr(req)
	case proto.WorkerActionReadFile:
		return sm.readFile(req, status)
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) openDevice(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	if sm.device != nil {
		sm.device.Close()
		sm.device = nil
		sm.partitions = nil
		sm.reader = nil
	}
	device, err := blockdev.Open(req.DevicePath, false)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: %w", err)
	}
	sm.device = device
	size, err := device.Size()
	if err != nil {
		return proto.WorkerResponse{}, err
	}
	return proto.WorkerResponse{Size: size}, nil
}

func (sm *stateMachine) openPartition(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	if req.PartitionIndex < 0 || req.PartitionIndex >= len(sm.partitions) {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: partition index %d out of range", req.PartitionIndex)
	}
	partition := sm.partitions[req.PartitionIndex]
	reader, err := simplefs.OpenReaderAt(sm.device.ReaderAt(), partition.StartLBA)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: opening partition %d: %w", req.PartitionIndex, err)
	}
	sm.reader = reader
	return proto.WorkerResponse{}, nil
}

// readDir returns the immediate children of req.Path, synthesizing
// directory entries for any intermediate path component: the
// simplefs file table is flat, so "directories" only exist as path
// prefixes of one or more file paths.
func (sm *stateMachine) readDir(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	dir := strings.TrimSuffix(req.Path, "/")
	var files []proto.FileInfo
	seenDirs := make(map[string]bool)
	for _, e := range sm.reader.Entries() {
		p := strings.TrimPrefix(e.Path, "/")

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

		files = append(files, proto.FileInfo{Path: path.Join(dir, rel), Type: e.Type, Size: e.Size})
	}
	return proto.WorkerResponse{Files: files}, nil
}

func (sm *stateMachine) getAttr(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	for _, e := range sm.reader.Entries() {
		if e.Path == req.Path {
			attr := proto.FileInfo{Path: e.Path, Type: e.Type, Size: e.Size}
			return proto.WorkerResponse{Attr: &attr}, nil
		}
	}
	return proto.WorkerResponse{}, fmt.Errorf("usbsas-scsi2files: %s: %w", req.Path, os.ErrNotExist)
}

func (sm *stateMachine) readFile(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	contents, err := sm.reader.ReadFile(req.Path)
	if err != nil {
		return proto.WorkerResponse{}, workerproc.Recoverable(fmt.Errorf("usbsas-scsi2files: reading %s: %w", req.Path, err))
	}
	status(proto.StatusEvent{Kind: proto.StatusReadSrc, Current: req.Offset, Total: uint64(len(contents))})

	start := req.Offset
	if start > uint64(len(contents)) {
		start = uint64(len(contents))
	}
	end := start + uint64(req.Length)
	eof := false
	if end >= uint64(len(contents)) {
		end = uint64(len(contents))
		eof = true
	}
	return proto.WorkerResponse{Data: contents[start:end], EOF: eof}, nil
}
