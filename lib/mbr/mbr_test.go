// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package mbr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/usbsas/usbsas/lib/blockdev"
)

func newMockDevice(t *testing.T, sectors uint64) blockdev.Device {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mock.img")
	if err := os.WriteFile(path, make([]byte, sectors*blockdev.SectorSize), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dev, err := blockdev.Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestReadRejectsMissingSignature(t *testing.T) {
	dev := newMockDevice(t, 8)
	if _, err := Read(dev); err != ErrNoSignature {
		t.Errorf("Read() err = %v, want ErrNoSignature", err)
	}
}

func TestWriteProtectiveThenRead(t *testing.T) {
	dev := newMockDevice(t, 2048)

	if err := WriteProtective(dev, 0x0b, 2048, 2046); err != nil {
		t.Fatalf("WriteProtective: %v", err)
	}

	partitions, err := Read(dev)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
	p := partitions[0]
	if p.PType != 0x0b {
		t.Errorf("PType = %#x, want 0x0b", p.PType)
	}
	if p.StartLBA != 2048 {
		t.Errorf("StartLBA = %d, want 2048", p.StartLBA)
	}
	if p.SizeBytes != 2046*blockdev.SectorSize {
		t.Errorf("SizeBytes = %d, want %d", p.SizeBytes, 2046*blockdev.SectorSize)
	}
	if !p.Mountable {
		t.Error("expected FAT32 (LBA) partition to be mountable")
	}
	if p.TypeStr != "FAT32 (LBA)" {
		t.Errorf("TypeStr = %q, want FAT32 (LBA)", p.TypeStr)
	}
}

func TestReadSkipsEmptyEntriesMarksUnrecognizedUnmountable(t *testing.T) {
	dev := newMockDevice(t, 8192)

	if err := WriteProtective(dev, 0x05, 1, 8191); err != nil { // extended partition type
		t.Fatalf("WriteProtective: %v", err)
	}

	partitions, err := Read(dev)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(partitions) != 1 {
		t.Fatalf("len(partitions) = %d, want 1", len(partitions))
	}
	if partitions[0].Mountable {
		t.Error("extended partition should not be marked mountable")
	}
}
