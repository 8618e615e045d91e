// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-usbdev enumerates USB mass-storage topology and performs raw
// sector I/O against the device it is told to open. It never parses a filesystem or
// partition table itself; that is usbsas-scsi2files' job once a
// device has been opened here and handed off.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	reqIn, respOut, err := workerproc.PipesFromEnv()
	if err != nil {
		return err
	}
	defer reqIn.Close()
	defer respOut.Close()

	worker := workerproc.New(reqIn, respOut, logger)
	if err := worker.Transition(func() error {
		return sandbox.InstallSyscallFilter(sandbox.WithExtra(
			unix.SYS_OPENAT,
			unix.SYS_LSEEK,
			unix.SYS_IOCTL,
			unix.SYS_NEWFSTATAT,
			unix.SYS_GETDENTS64,
			unix.SYS_READLINKAT,
			unix.SYS_PREAD64,
			unix.SYS_PWRITE64,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-usbdev: %w", err)
	}

	sm := &stateMachine{logger: logger}
	return worker.Serve(sm)
}

type stateMachine struct {
	logger *slog.Logger
	device blockdev.Device
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionListDevices:
		return true
	case proto.WorkerActionOpenDevice:
		return true
	case proto.WorkerActionReadSectors, proto.WorkerActionDeviceSize:
		return sm.device != nil
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionListDevices:
		return sm.listDevices()
	case proto.WorkerActionOpenDevice:
		return sm.openDevice(req)
	case proto.WorkerActionReadSectors:
		return sm.readSectors(req)
	case proto.WorkerActionDeviceSize:
		size, err := sm.device.Size()
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		return proto.WorkerResponse{Size: size}, nil
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-usbdev: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) openDevice(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	if sm.device != nil {
		sm.device.Close()
		sm.device = nil
	}
	device, err := blockdev.Open(req.DevicePath, true)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-usbdev: %w", err)
	}
	sm.device = device
	size, err := device.Size()
	if err != nil {
		return proto.WorkerResponse{}, err
	}
	return proto.WorkerResponse{Size: size}, nil
}

func (sm *stateMachine) readSectors(req proto.WorkerRequest) (proto.WorkerResponse, error) {
	data, err := sm.device.ReadSectors(req.StartLBA, req.SectorCount)
	if err != nil {
		return proto.WorkerResponse{}, err
	}
	return proto.WorkerResponse{Data: data}, nil
}

// listDevices enumerates USB mass-storage topology. A deployment
// running outside a real kiosk sets USBSAS_MOCK_IN_DEV and/or
// USBSAS_MOCK_OUT_DEV to a plain file path instead; those take
// priority over the sysfs scan so development and tests never need
// a real USB device plugged in.
func (sm *stateMachine) listDevices() (proto.WorkerResponse, error) {
	var devices []proto.Descriptor

	if mockIn := os.Getenv("USBSAS_MOCK_IN_DEV"); mockIn != "" {
		d, err := mockDescriptor(mockIn, true, false)
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		devices = append(devices, d)
	}
	if mockOut := os.Getenv("USBSAS_MOCK_OUT_DEV"); mockOut != "" {
		d, err := mockDescriptor(mockOut, false, true)
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		devices = append(devices, d)
	}
	if len(devices) > 0 {
		return proto.WorkerResponse{Devices: devices}, nil
	}

	found, err := scanSysfsBlockDevices()
	if err != nil {
		sm.logger.Warn("usbsas-usbdev: sysfs scan failed", "error", err)
		return proto.WorkerResponse{Devices: nil}, nil
	}
	return proto.WorkerResponse{Devices: found}, nil
}

func mockDescriptor(path string, isSrc, isDst bool) (proto.Descriptor, error) {
	device, err := blockdev.Open(path, false)
	if err != nil {
		return proto.Descriptor{}, fmt.Errorf("usbsas-usbdev: opening mock device %s: %w", path, err)
	}
	defer device.Close()
	size, err := device.Size()
	if err != nil {
		return proto.Descriptor{}, err
	}
	return proto.Descriptor{
		Kind:       proto.DescriptorUsb,
		IsSrc:      isSrc,
		IsDst:      isDst,
		DevicePath: path,
		Vendor:     "mock",
		Product:    filepath.Base(path),
		Serial:     path,
		DevSize:    size,
		BlockSize:  blockdev.SectorSize,
	}, nil
}

// scanSysfsBlockDevices walks /sys/class/block looking for whole-disk
// entries whose device symlink passes through a "usb" path component,
// then reads the vendor/product/serial attributes from the enclosing
// USB interface directory in sysfs.
func scanSysfsBlockDevices() ([]proto.Descriptor, error) {
	const blockClass = "/sys/class/block"
	entries, err := os.ReadDir(blockClass)
	if err != nil {
		return nil, fmt.Errorf("usbsas-usbdev: reading %s: %w", blockClass, err)
	}

	var devices []proto.Descriptor
	for _, entry := range entries {
		name := entry.Name()
		// Whole disks only (sda, sdb, ...), never partitions (sda1).
		if !strings.HasPrefix(name, "sd") || len(name) != 3 {
			continue
		}
		link, err := os.Readlink(filepath.Join(blockClass, name))
		if err != nil {
			continue
		}
		if !strings.Contains(link, "/usb") {
			continue
		}
		usbDir := usbDeviceDir(link)
		if usbDir == "" {
			continue
		}
		devicePath := filepath.Join("/dev", name)
		device, err := blockdev.Open(devicePath, false)
		if err != nil {
			continue
		}
		size, err := device.Size()
		device.Close()
		if err != nil {
			continue
		}
		devices = append(devices, proto.Descriptor{
			Kind:         proto.DescriptorUsb,
			IsSrc:        true,
			IsDst:        true,
			Bus:          readSysfsInt(filepath.Join(usbDir, "busnum")),
			Dev:          readSysfsInt(filepath.Join(usbDir, "devnum")),
			DevicePath:   devicePath,
			Vendor:       readSysfsString(filepath.Join(usbDir, "manufacturer")),
			Product:      readSysfsString(filepath.Join(usbDir, "product")),
			Manufacturer: readSysfsString(filepath.Join(usbDir, "manufacturer")),
			Serial:       readSysfsString(filepath.Join(usbDir, "serial")),
			DevSize:      size,
			BlockSize:    blockdev.SectorSize,
		})
	}
	return devices, nil
}

// usbDeviceDir walks a /sys/class/block/sdX device symlink target
// upward until it finds the ancestor directory that carries a
// "busnum" attribute: the USB device itself, as opposed to the SCSI
// host/target/lun directories sitting between it and the block node.
func usbDeviceDir(link string) string {
	dir := filepath.Clean(filepath.Join("/sys/class/block", link))
	for dir != "/" && dir != "." {
		if _, err := os.Stat(filepath.Join(dir, "busnum")); err == nil {
			return dir
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

func readSysfsString(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func readSysfsInt(path string) int {
	value, err := strconv.Atoi(readSysfsString(path))
	if err != nil {
		return 0
	}
	return value
}
