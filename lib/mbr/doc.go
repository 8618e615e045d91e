// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package mbr parses a classic DOS/MBR partition table from the
// first sector of a block device. This is one of the attacker-
// controlled formats the usbsas core itself is responsible for
// parsing: the device-reader worker reads the table before
// it ever trusts a filesystem parser with the bytes behind it.
//
// GPT, and any filesystem-level structure beyond the partition table
// itself, is out of scope: individual filesystem readers are external
// collaborators.
package mbr
