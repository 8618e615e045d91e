// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"fmt"
	"io"
	"os"
)

// SectorSize is the fixed logical sector size this implementation
// assumes. Real USB mass-storage devices reporting a different
// physical block size are out of scope.
const SectorSize = 512

// Device is a sector-addressable block device: the destination or
// source USB drive, or a mock file standing in for one.
type Device interface {
	// ReadSectors reads count sectors starting at startLBA.
	ReadSectors(startLBA, count uint64) ([]byte, error)

	// WriteSectors writes data, which must be a whole number of
	// sectors, starting at startLBA.
	WriteSectors(startLBA uint64, data []byte) error

	// Size returns the device's total size in bytes.
	Size() (uint64, error)

	// ReaderAt exposes the device for byte-offset reads, for callers
	// (such as lib/simplefs) that need to read a region starting at an
	// arbitrary sector without going through ReadSectors' whole-sector
	// contract.
	ReaderAt() io.ReaderAt

	// Close releases the underlying file descriptor.
	Close() error
}

// fileDevice implements Device over a plain *os.File: both the real
// device-special-file path and the mock-file path end up here, since
// on Linux a block special file supports the same ReadAt/WriteAt
// semantics as a regular file.
type fileDevice struct {
	file *os.File
}

// Open opens path as a block device. If the corresponding
// USBSAS_MOCK_IN_DEV or USBSAS_MOCK_OUT_DEV environment variable is
// set, callers should pass its value instead of a real device path;
// Open itself does not consult the environment, so that call sites
// make the substitution explicit (cmd/usbsas-usbdev is where they
// are read).
func Open(path string, writable bool) (Device, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: opening %s: %w", path, err)
	}
	return &fileDevice{file: file}, nil
}

func (d *fileDevice) ReadSectors(startLBA, count uint64) ([]byte, error) {
	buffer := make([]byte, count*SectorSize)
	offset := int64(startLBA * SectorSize)
	if _, err := io.ReadFull(io.NewSectionReader(d.file, offset, int64(len(buffer))), buffer); err != nil {
		return nil, fmt.Errorf("blockdev: reading %d sectors at LBA %d: %w", count, startLBA, err)
	}
	return buffer, nil
}

func (d *fileDevice) WriteSectors(startLBA uint64, data []byte) error {
	if len(data)%SectorSize != 0 {
		return fmt.Errorf("blockdev: write of %d bytes is not a whole number of sectors", len(data))
	}
	offset := int64(startLBA * SectorSize)
	if _, err := d.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("blockdev: writing at LBA %d: %w", startLBA, err)
	}
	return nil
}

func (d *fileDevice) Size() (uint64, error) {
	info, err := d.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("blockdev: stat: %w", err)
	}
	if info.Mode()&os.ModeDevice != 0 {
		return blockDeviceSize(d.file)
	}
	return uint64(info.Size()), nil
}

func (d *fileDevice) ReaderAt() io.ReaderAt {
	return d.file
}

func (d *fileDevice) Close() error {
	return d.file.Close()
}
