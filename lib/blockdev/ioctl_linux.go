// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockDeviceSize returns the size in bytes of the block special file
// backing file, queried with the BLKGETSIZE64 ioctl. Regular files
// (the mock-device path) never reach this: fileDevice.Size reports
// their size from Stat instead.
func blockDeviceSize(file *os.File) (uint64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("blockdev: BLKGETSIZE64 on %s: %w", file.Name(), errno)
	}
	return size, nil
}
