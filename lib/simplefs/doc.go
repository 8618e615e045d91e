// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package simplefs implements the filesystem builder's image format.
// Parsing and writing real FAT/exFAT/NTFS/ext4/ISO9660 filesystems is
// out of scope for this core; simplefs is the minimal
// stand-in that still has to satisfy a bitmap streaming contract:
// a superblock in sector 0, a flat file table written once
// all file data has landed, and a dirty-sector [Bitmap] tracked as
// data is written so it can be streamed to the block writer in fixed
// chunks terminated by a last=true marker.
//
// An [Image] is always sized to the destination device up front:
// [Create] truncates the backing file to the requested number of
// sectors, and [Image.Close] fails with [ErrNotEnoughSpace] if the
// file table does not fit in the remaining space, mirroring the
// supervisor's own destination-too-small precondition check.
package simplefs
