// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package report accumulates a transfer's outcome into a
// [proto.TransferReport]: four mutually exclusive path
// lists (file_names, error_files, filtered_files, rejected_files),
// the embedded analyze report if any, and the writers that persist
// the finished report to the destination device and/or a local file.
//
// The supervisor owns one [Accumulator] per transfer and is the only
// caller; it is not safe for concurrent use.
package report
