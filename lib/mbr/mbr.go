// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package mbr

import (
	"encoding/binary"
	"fmt"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/proto"
)

// bootSignature is the two bytes 0x55 0xAA at offset 510 of a valid
// MBR sector.
var bootSignature = [2]byte{0x55, 0xAA}

const (
	partitionTableOffset = 446
	partitionEntrySize   = 16
	maxPartitions        = 4
)

// ErrNoSignature is returned by Read when the device's first sector
// does not end with the 0x55AA boot signature.
var ErrNoSignature = fmt.Errorf("mbr: missing boot signature")

// typeNames gives a human-readable label for the common partition
// type bytes. Anything not listed here is still returned, just
// unnamed and marked unmountable by [Read].
var typeNames = map[uint8]string{
	0x00: "empty",
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "extended",
	0x06: "FAT16",
	0x07: "NTFS/exFAT",
	0x0b: "FAT32",
	0x0c: "FAT32 (LBA)",
	0x0e: "FAT16 (LBA)",
	0x0f: "extended (LBA)",
	0x83: "Linux",
	0x82: "Linux swap",
	0xee: "GPT protective",
}

// recognizedTypes lists the type bytes usbsas considers mountable: a
// plain primary filesystem partition it can hand to a filesystem
// reader/writer, as opposed to extended, empty, or GPT-protective
// entries which only describe the table further or nothing at all.
var recognizedTypes = map[uint8]bool{
	0x01: true, 0x04: true, 0x06: true, 0x07: true,
	0x0b: true, 0x0c: true, 0x0e: true, 0x83: true,
}

// Read parses the MBR partition table from dev's first sector and
// returns up to four primary partition entries, skipping empty
// (type 0x00) entries. Partitions with an unrecognized type are
// still returned, with Mountable=false.
func Read(dev blockdev.Device) ([]proto.PartitionInfo, error) {
	sector, err := dev.ReadSectors(0, 1)
	if err != nil {
		return nil, fmt.Errorf("mbr: reading boot sector: %w", err)
	}
	if sector[510] != bootSignature[0] || sector[511] != bootSignature[1] {
		return nil, ErrNoSignature
	}

	var partitions []proto.PartitionInfo
	for i := 0; i < maxPartitions; i++ {
		entry := sector[partitionTableOffset+i*partitionEntrySize:]
		ptype := entry[4]
		if ptype == 0x00 {
			continue
		}
		startLBA := uint64(binary.LittleEndian.Uint32(entry[8:12]))
		numSectors := uint64(binary.LittleEndian.Uint32(entry[12:16]))

		partitions = append(partitions, proto.PartitionInfo{
			SizeBytes: numSectors * blockdev.SectorSize,
			StartLBA:  startLBA,
			PType:     ptype,
			Name:      fmt.Sprintf("Partition %d", i+1),
			TypeStr:   typeNames[ptype],
			Mountable: recognizedTypes[ptype],
		})
	}
	return partitions, nil
}

// WriteProtective writes a minimal MBR with a single primary
// partition of type ptype spanning [startLBA, startLBA+numSectors) to
// dev's first sector. This is used by the filesystem builder when
// initializing a blank destination image, so that a real MBR-aware
// tool mounting the finished image finds a valid table.
func WriteProtective(dev blockdev.Device, ptype uint8, startLBA, numSectors uint64) error {
	sector := make([]byte, blockdev.SectorSize)
	entry := sector[partitionTableOffset:]
	entry[0] = 0x00 // not bootable
	entry[4] = ptype
	binary.LittleEndian.PutUint32(entry[8:12], uint32(startLBA))
	binary.LittleEndian.PutUint32(entry[12:16], uint32(numSectors))
	sector[510] = bootSignature[0]
	sector[511] = bootSignature[1]

	if err := dev.WriteSectors(0, sector); err != nil {
		return fmt.Errorf("mbr: writing boot sector: %w", err)
	}
	return nil
}
