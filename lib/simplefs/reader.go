// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package simplefs

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/proto"
)

// ErrBadMagic is returned by OpenReaderAt when the region does not
// start with a simplefs superblock.
var ErrBadMagic = fmt.Errorf("simplefs: bad magic")

// Reader opens a finished image to read back its file table and file
// contents. The block writer never needs this (it only consumes the
// [Bitmap]); it is used by the device-reader worker to walk a
// selected source partition (since real FAT/exFAT/NTFS/ext4/ISO9660
// parsers are out of scope, simplefs stands in on both the
// read and write side) and, standalone, for verification.
type Reader struct {
	ra          io.ReaderAt
	closer      io.Closer
	baseSector  uint64
	sb          superblock
	entries     []entry
}

// OpenReaderAt reads the superblock and file table from a region
// starting at baseSector sectors into ra. This is how the
// device-reader worker opens a selected partition directly from an
// already-open [blockdev.Device] without copying it to a local file
// first: baseSector is the partition's StartLBA.
func OpenReaderAt(ra io.ReaderAt, baseSector uint64) (*Reader, error) {
	base := int64(baseSector * SectorSize)

	sbSector := make([]byte, SectorSize)
	if _, err := ra.ReadAt(sbSector, base); err != nil {
		return nil, fmt.Errorf("simplefs: reading superblock: %w", err)
	}
	sbLen := binary.LittleEndian.Uint32(sbSector[:4])
	if int(sbLen) > SectorSize-4 {
		return nil, fmt.Errorf("simplefs: superblock length %d exceeds sector", sbLen)
	}
	var sb superblock
	if err := codec.Unmarshal(sbSector[4:4+sbLen], &sb); err != nil {
		return nil, fmt.Errorf("simplefs: decoding superblock: %w", err)
	}
	if sb.Magic != magic {
		return nil, ErrBadMagic
	}

	tableBytes := make([]byte, sb.FileTableBytes)
	if _, err := ra.ReadAt(tableBytes, base+int64(sb.FileTableSector*SectorSize)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("simplefs: reading file table: %w", err)
	}

	var entries []entry
	if err := codec.Unmarshal(tableBytes, &entries); err != nil {
		return nil, fmt.Errorf("simplefs: decoding file table: %w", err)
	}

	return &Reader{ra: ra, baseSector: baseSector, sb: sb, entries: entries}, nil
}

// Open opens path as a standalone image file and reads it with
// OpenReaderAt at sector 0. Used by tests and by tools inspecting an
// image file directly rather than through an open device.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("simplefs: opening %s: %w", path, err)
	}
	r, err := OpenReaderAt(file, 0)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// FSType returns the label the image was created with.
func (r *Reader) FSType() string { return r.sb.FSType }

// TotalSectors returns the image's total size in sectors.
func (r *Reader) TotalSectors() uint64 { return r.sb.TotalSectors }

// FileEntry mirrors one row of the file table for callers outside
// this package.
type FileEntry struct {
	Path string
	Type proto.FileType
	Size uint64
}

// Entries returns every file recorded in the file table, in the
// order they were written.
func (r *Reader) Entries() []FileEntry {
	out := make([]FileEntry, len(r.entries))
	for i, e := range r.entries {
		out[i] = FileEntry{Path: e.Path, Type: e.Type, Size: e.Size}
	}
	return out
}

// OpenFile returns a reader for the full contents of the named file.
func (r *Reader) OpenFile(path string) (io.Reader, error) {
	for _, e := range r.entries {
		if e.Path != path {
			continue
		}
		offset := int64((r.baseSector+e.StartSector)*SectorSize)
		return io.NewSectionReader(r.ra, offset, int64(e.Size)), nil
	}
	return nil, fmt.Errorf("simplefs: %s: %w", path, os.ErrNotExist)
}

// ReadFile returns the full contents of the named file.
func (r *Reader) ReadFile(path string) ([]byte, error) {
	sr, err := r.OpenFile(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0)
	tmp := make([]byte, 32*1024)
	for {
		n, err := sr.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("simplefs: reading file: %w", err)
		}
	}
	return buf, nil
}

// ReadSector returns the raw bytes of sector lba (relative to the
// image's own sector 0, i.e. after the base sector passed to
// OpenReaderAt), for use against images built with
// [Image.RawWriteSector].
func (r *Reader) ReadSector(lba uint64) ([]byte, error) {
	buf := make([]byte, SectorSize)
	if _, err := r.ra.ReadAt(buf, int64((r.baseSector+lba)*SectorSize)); err != nil {
		return nil, fmt.Errorf("simplefs: reading sector %d: %w", lba, err)
	}
	return buf, nil
}

// Close releases the underlying file, if Open (rather than
// OpenReaderAt) was used to create this Reader.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
