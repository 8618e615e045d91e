// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package proto

// WorkerAction discriminates a [WorkerRequest]. Each worker's state
// machine (lib/workerproc) only accepts a subset of these; any other
// action is a protocol violation.
type WorkerAction string

const (
	// Sent to every worker's state machine.
	WorkerActionEnd WorkerAction = "end"

	// usbsas-usbdev: USB topology enumeration and raw sector reads.
	// WipeSectors is handled by usbsas-fs2dev; no worker accepts
	// WriteSectors.
	WorkerActionListDevices  WorkerAction = "list_devices"
	WorkerActionOpenDevice   WorkerAction = "open_device"
	WorkerActionReadSectors  WorkerAction = "read_sectors"
	WorkerActionWriteSectors WorkerAction = "write_sectors"
	WorkerActionWipeSectors  WorkerAction = "wipe_sectors"
	WorkerActionDeviceSize   WorkerAction = "device_size"

	// usbsas-scsi2files / usbsas-tar2files: filesystem and tar
	// readers presenting the same file-oriented surface.
	WorkerActionOpenPartition WorkerAction = "open_partition"
	WorkerActionPartitions    WorkerAction = "partitions"
	WorkerActionReadDir       WorkerAction = "read_dir"
	WorkerActionGetAttr       WorkerAction = "get_attr"
	WorkerActionReadFile      WorkerAction = "read_file"

	// usbsas-files2tar / usbsas-tar2files: tar writer and reader.
	WorkerActionOpenTar  WorkerAction = "open_tar"
	WorkerActionCloseTar WorkerAction = "close_tar"

	// usbsas-files2tar / usbsas-files2fs: tar and filesystem writers.
	WorkerActionNewFile     WorkerAction = "new_file"
	WorkerActionWriteFile   WorkerAction = "write_file"
	WorkerActionEndFile     WorkerAction = "end_file"
	WorkerActionInitFs      WorkerAction = "init_fs"
	WorkerActionCloseFs     WorkerAction = "close_fs"
	WorkerActionBitmapChunk WorkerAction = "bitmap_chunk"

	// usbsas-files2fs: full-disk raw imaging path, bypassing the
	// file-table/superblock machinery entirely.
	WorkerActionRawWriteSector WorkerAction = "raw_write_sector"

	// usbsas-fs2dev: block writer's sector-copy pass, run once the
	// dirty-sector bitmap has been pushed in full via BitmapChunk.
	WorkerActionWriteDirty WorkerAction = "write_dirty"

	// usbsas-analyzer.
	WorkerActionUploadForAnalysis WorkerAction = "upload_for_analysis"
	WorkerActionPollAnalysis      WorkerAction = "poll_analysis"

	// usbsas-uploader / usbsas-downloader.
	WorkerActionUpload   WorkerAction = "upload"
	WorkerActionDownload WorkerAction = "download"

	// usbsas-cmdexec.
	WorkerActionRunCommand WorkerAction = "run_command"

	// usbsas-identificator.
	WorkerActionIdentify     WorkerAction = "identify"
	WorkerActionVerifyPin    WorkerAction = "verify_pin"
)

// WorkerRequest is sent by the supervisor to a worker's request-in
// pipe. Only the fields relevant to Action are populated. A worker
// checks only the Action against its current state; fields its
// handler does not read are ignored, not rejected.
type WorkerRequest struct {
	Action WorkerAction `cbor:"action"`

	// OpenDevice, ReadSectors, WriteSectors, WipeSectors, DeviceSize.
	DevicePath string `cbor:"device_path,omitempty"`
	StartLBA   uint64 `cbor:"start_lba,omitempty"`
	SectorCount uint64 `cbor:"sector_count,omitempty"`
	Data       []byte `cbor:"data,omitempty"`
	Quick      bool   `cbor:"quick,omitempty"`

	// OpenPartition.
	PartitionIndex int `cbor:"partition_index,omitempty"`

	// ReadDir, GetAttr, ReadFile, NewFile.
	Path string `cbor:"path,omitempty"`

	// ReadFile.
	Offset uint64 `cbor:"offset,omitempty"`
	Length uint32 `cbor:"length,omitempty"`

	// WriteFile, BitmapChunk.
	Chunk []byte `cbor:"chunk,omitempty"`
	Last  bool   `cbor:"last,omitempty"`

	// NewFile.
	FileSize          uint64 `cbor:"file_size,omitempty"`
	FileUnixTimestamp int64  `cbor:"file_unix_timestamp,omitempty"`

	// InitFs, CloseFs.
	FsType    string `cbor:"fs_type,omitempty"`
	ImageSize uint64 `cbor:"image_size,omitempty"`
	ImagePath string `cbor:"image_path,omitempty"`
	Raw       bool   `cbor:"raw,omitempty"`

	// OpenTar.
	Bundled bool `cbor:"bundled,omitempty"`

	// UploadForAnalysis, PollAnalysis, Upload, Download.
	URL            string `cbor:"url,omitempty"`
	KrbServiceName string `cbor:"krb_service_name,omitempty"`
	UserID         string `cbor:"user_id,omitempty"`
	JobID          string `cbor:"job_id,omitempty"`
	Pin            string `cbor:"pin,omitempty"`
	TarPath        string `cbor:"tar_path,omitempty"`

	// RunCommand.
	CommandBin  string   `cbor:"command_bin,omitempty"`
	CommandArgs []string `cbor:"command_args,omitempty"`
	SourceFile  string   `cbor:"source_file,omitempty"`

	// VerifyPin.
	ExpectedPin string `cbor:"expected_pin,omitempty"`
}

// WorkerResponse is a worker's reply on its response-out pipe. It
// always carries exactly one non-Status variant as the final
// response to a request, optionally preceded by any number of
// Status-only responses.
type WorkerResponse struct {
	// End acknowledges the End request.
	End bool `cbor:"end,omitempty"`

	// Error reports a failed request. After an error its handler
	// marked recoverable the worker keeps serving; after any other
	// error, including a request not valid in the current state, the
	// worker stops serving and answers no further request, End
	// included.
	Error string `cbor:"error,omitempty"`

	// Status reports progress; any number may precede the final
	// response to a long-running request.
	Status *StatusEvent `cbor:"status,omitempty"`

	// ListDevices.
	Devices []Descriptor `cbor:"devices,omitempty"`

	// DeviceSize.
	Size uint64 `cbor:"size,omitempty"`

	// Partitions.
	Partitions []PartitionInfo `cbor:"partitions,omitempty"`

	// ReadDir.
	Files []FileInfo `cbor:"files,omitempty"`

	// GetAttr.
	Attr *FileInfo `cbor:"attr,omitempty"`

	// ReadSectors, ReadFile.
	Data []byte `cbor:"data,omitempty"`
	EOF  bool   `cbor:"eof,omitempty"`

	// BitmapChunk: one chunk per request, after CloseFs.
	Chunk []byte `cbor:"chunk,omitempty"`
	Last  bool   `cbor:"last,omitempty"`

	// UploadForAnalysis.
	JobID string `cbor:"job_id,omitempty"`

	// PollAnalysis.
	Report *AnalyzeReport `cbor:"report,omitempty"`

	// RunCommand.
	ExitCode int `cbor:"exit_code,omitempty"`

	// Identify.
	UserID string `cbor:"user_id,omitempty"`

	// VerifyPin.
	PinValid bool `cbor:"pin_valid,omitempty"`
}
