// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package simplefs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/proto"
)

// SectorSize matches blockdev's, since the block writer opens the
// finished image through that package.
const SectorSize = blockdev.SectorSize

var magic = [8]byte{'u', 's', 'b', 's', 'a', 's', 'f', 's'}

// ErrNotEnoughSpace is returned by [Image.Close] when the file table
// does not fit in the sectors left after the last file's data, or by
// [Create] when sizeBytes is smaller than one sector.
var ErrNotEnoughSpace = errors.New("simplefs: not enough space in image")

// superblock is the fixed-layout header written to sector 0.
type superblock struct {
	Magic           [8]byte
	Version         uint32
	FSType          string
	TotalSectors    uint64
	FileTableSector uint64
	FileTableBytes  uint64
}

// entry describes one file in the image's flat file table.
type entry struct {
	Path        string          `cbor:"path"`
	Type        proto.FileType  `cbor:"ftype"`
	StartSector uint64          `cbor:"start_sector"`
	Size        uint64          `cbor:"size"`
}

// Image is a filesystem image under construction. It is not safe for
// concurrent use: the filesystem builder worker is single-threaded
//
type Image struct {
	file         *os.File
	fstype       string
	totalSectors uint64
	cursor       uint64 // next free sector, sector 0 is reserved for the superblock
	entries      []entry
	dirty        *Bitmap
	closed       bool
}

// Create truncates path to sizeBytes (rounded up to a whole number of
// sectors) and reserves sector 0 for the superblock. fstype is stored
// verbatim as a label; simplefs does not interpret it, since real
// on-disk filesystem semantics for FAT/NTFS/ext4/ISO9660 are out of
// scope.
func Create(path string, sizeBytes uint64, fstype string) (*Image, error) {
	totalSectors := (sizeBytes + SectorSize - 1) / SectorSize
	if totalSectors < 1 {
		return nil, ErrNotEnoughSpace
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("simplefs: creating %s: %w", path, err)
	}
	if err := file.Truncate(int64(totalSectors * SectorSize)); err != nil {
		file.Close()
		return nil, fmt.Errorf("simplefs: sizing %s: %w", path, err)
	}

	img := &Image{
		file:         file,
		fstype:       fstype,
		totalSectors: totalSectors,
		cursor:       1,
		dirty:        newBitmap(totalSectors),
	}
	return img, nil
}

// NewFile begins writing a file into the image at the next free
// sector. The returned [FileWriter] must be closed before the next
// call to NewFile or to [Image.Close].
func (img *Image) NewFile(path string, kind proto.FileType) (*FileWriter, error) {
	if img.closed {
		return nil, fmt.Errorf("simplefs: NewFile on closed image")
	}
	return &FileWriter{img: img, path: path, kind: kind, startSector: img.cursor}, nil
}

// RawWriteSector writes data, which must be exactly one sector, at
// absolute sector index lba, bypassing the file table. This is the
// raw-write path used for full-disk imaging, where the
// device reader streams every sector of a source device straight
// into the image with no file structure at all.
func (img *Image) RawWriteSector(lba uint64, data []byte) error {
	if img.closed {
		return fmt.Errorf("simplefs: RawWriteSector on closed image")
	}
	if len(data) != SectorSize {
		return fmt.Errorf("simplefs: RawWriteSector requires exactly %d bytes, got %d", SectorSize, len(data))
	}
	if lba >= img.totalSectors {
		return fmt.Errorf("simplefs: sector %d out of range (%d total)", lba, img.totalSectors)
	}
	if _, err := img.file.WriteAt(data, int64(lba*SectorSize)); err != nil {
		return fmt.Errorf("simplefs: writing sector %d: %w", lba, err)
	}
	img.dirty.setIfNonZero(lba, data)
	if lba >= img.cursor {
		img.cursor = lba + 1
	}
	return nil
}

// writeSector writes one sector's worth of data (zero-padded if
// shorter) at sector index lba and updates the dirty bitmap.
func (img *Image) writeSector(lba uint64, data []byte) error {
	if lba >= img.totalSectors {
		return ErrNotEnoughSpace
	}
	buf := data
	if len(buf) < SectorSize {
		buf = make([]byte, SectorSize)
		copy(buf, data)
	}
	if _, err := img.file.WriteAt(buf, int64(lba*SectorSize)); err != nil {
		return fmt.Errorf("simplefs: writing sector %d: %w", lba, err)
	}
	img.dirty.setIfNonZero(lba, buf)
	return nil
}

// Close finalizes the image: it encodes the file table as CBOR,
// writes it after the last file's data, and rewrites the superblock
// to record the table's location. It returns the completed dirty
// bitmap for streaming to the block writer.
func (img *Image) Close() (*Bitmap, error) {
	if img.closed {
		return nil, fmt.Errorf("simplefs: image already closed")
	}
	img.closed = true
	defer img.file.Close()

	tableBytes, err := codec.Marshal(img.entries)
	if err != nil {
		return nil, fmt.Errorf("simplefs: encoding file table: %w", err)
	}

	tableSector := img.cursor
	tableSectors := (uint64(len(tableBytes)) + SectorSize - 1) / SectorSize
	if tableSectors == 0 {
		tableSectors = 1
	}
	if tableSector+tableSectors > img.totalSectors {
		return nil, ErrNotEnoughSpace
	}
	for i := uint64(0); i < tableSectors; i++ {
		start := i * SectorSize
		end := start + SectorSize
		if end > uint64(len(tableBytes)) {
			end = uint64(len(tableBytes))
		}
		if err := img.writeSector(tableSector+i, tableBytes[start:end]); err != nil {
			return nil, err
		}
	}

	sb := superblock{
		Magic:           magic,
		Version:         1,
		FSType:          img.fstype,
		TotalSectors:    img.totalSectors,
		FileTableSector: tableSector,
		FileTableBytes:  uint64(len(tableBytes)),
	}
	sbEncoded, err := codec.Marshal(sb)
	if err != nil {
		return nil, fmt.Errorf("simplefs: encoding superblock: %w", err)
	}
	if len(sbEncoded)+4 > SectorSize {
		return nil, fmt.Errorf("simplefs: superblock grew past one sector (%d bytes)", len(sbEncoded))
	}
	sbBytes := make([]byte, 4+len(sbEncoded))
	binary.LittleEndian.PutUint32(sbBytes[:4], uint32(len(sbEncoded)))
	copy(sbBytes[4:], sbEncoded)
	if err := img.writeSector(0, sbBytes); err != nil {
		return nil, err
	}

	return img.dirty.clone(), nil
}

// FileWriter streams one file's bytes into an [Image] at a fixed
// sector offset. It buffers a partial sector internally, flushing
// whole sectors to the image as they fill.
type FileWriter struct {
	img         *Image
	path        string
	kind        proto.FileType
	startSector uint64
	nextSector  uint64
	size        uint64
	partial     []byte
	closed      bool
}

// Write appends p to the file. It implements io.Writer.
func (fw *FileWriter) Write(p []byte) (int, error) {
	if fw.closed {
		return 0, fmt.Errorf("simplefs: write on closed FileWriter")
	}
	n := len(p)
	fw.size += uint64(n)
	fw.partial = append(fw.partial, p...)

	for len(fw.partial) >= SectorSize {
		sector := fw.startSector + fw.nextSector
		if err := fw.img.writeSector(sector, fw.partial[:SectorSize]); err != nil {
			return 0, err
		}
		fw.nextSector++
		fw.partial = fw.partial[SectorSize:]
	}
	return n, nil
}

// Close flushes any buffered partial sector (zero-padded) and records
// the file's entry in the image's file table.
func (fw *FileWriter) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true

	if len(fw.partial) > 0 {
		sector := fw.startSector + fw.nextSector
		if err := fw.img.writeSector(sector, fw.partial); err != nil {
			return err
		}
		fw.nextSector++
		fw.partial = nil
	}

	fw.img.entries = append(fw.img.entries, entry{
		Path:        fw.path,
		Type:        fw.kind,
		StartSector: fw.startSector,
		Size:        fw.size,
	})
	fw.img.cursor = fw.startSector + fw.nextSector
	return nil
}
