// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package blockdev abstracts the raw block device the device-reader
// and block-writer workers operate on. In production this is a USB
// mass-storage device opened by path; in tests and mock deployments
// it is a plain file, selected via the USBSAS_MOCK_IN_DEV /
// USBSAS_MOCK_OUT_DEV environment variables.
//
// Both implementations speak the same [Device] interface, sized in
// 512-byte sectors: SCSI/Bulk-Only Transport command construction is
// explicitly out of scope for this core, so opening a real
// device here means opening its block special file directly, not
// issuing SCSI commands to it.
package blockdev
