// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package proto

// FrontendAction discriminates a [FrontendRequest].
type FrontendAction string

const (
	ActionDevices       FrontendAction = "devices"
	ActionUserId        FrontendAction = "user_id"
	ActionInitTransfer  FrontendAction = "init_transfer"
	ActionOpenDevice    FrontendAction = "open_device"
	ActionPartitions    FrontendAction = "partitions"
	ActionOpenPartition FrontendAction = "open_partition"
	ActionReadDir       FrontendAction = "read_dir"
	ActionGetAttr       FrontendAction = "get_attr"
	ActionSelectFiles   FrontendAction = "select_files"
	ActionReport        FrontendAction = "report"
	ActionImgDisk       FrontendAction = "img_disk"
	ActionWipe          FrontendAction = "wipe"
	ActionEnd           FrontendAction = "end"
)

// FrontendRequest is sent by the attached frontend over the
// supervisor's Unix domain socket. Only the fields relevant to Action
// are populated.
type FrontendRequest struct {
	Action FrontendAction `cbor:"action"`

	// InitTransfer.
	SourceID      DescriptorID `cbor:"source_id,omitempty"`
	DestinationID DescriptorID `cbor:"destination_id,omitempty"`
	FsType        string       `cbor:"fstype,omitempty"`
	Pin           string       `cbor:"pin,omitempty"`

	// OpenPartition.
	Index int `cbor:"index,omitempty"`

	// ReadDir, GetAttr.
	Path string `cbor:"path,omitempty"`

	// SelectFiles.
	Selected []string `cbor:"selected,omitempty"`

	// ImgDisk, Wipe.
	ID    DescriptorID `cbor:"id,omitempty"`
	Quick bool         `cbor:"quick,omitempty"`
}

// FrontendResponse is the supervisor's reply to a [FrontendRequest].
// Like [WorkerResponse], it carries the four standard variants (End,
// Error, Status, request-specific payload); zero or more Status
// responses may precede the final payload for a long-running request.
type FrontendResponse struct {
	// End acknowledges the End request; no other field is populated
	// alongside it.
	End bool `cbor:"end,omitempty"`

	// Error carries a fatal error message; the frontend connection
	// remains open but the transfer (if any) is torn down.
	Error string `cbor:"error,omitempty"`

	// Status reports progress on a long-running request. Any number
	// of Status responses may precede the final payload.
	Status *StatusEvent `cbor:"status,omitempty"`

	// Devices.
	Devices []Descriptor `cbor:"devices,omitempty"`

	// UserId.
	UserID string `cbor:"user_id,omitempty"`

	// InitTransfer.
	TransferID TransferID `cbor:"transfer_id,omitempty"`

	// Partitions.
	Partitions []PartitionInfo `cbor:"partitions,omitempty"`

	// ReadDir.
	Files []FileInfo `cbor:"files,omitempty"`

	// GetAttr.
	Attr *FileInfo `cbor:"attr,omitempty"`

	// Report.
	Report *TransferReport `cbor:"report,omitempty"`
}
