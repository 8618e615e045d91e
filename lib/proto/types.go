// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package proto

// TransferID opaquely identifies a single transfer, unique for the
// lifetime of the supervisor process. It implements
// encoding.TextMarshaler/TextUnmarshaler so it round-trips through
// CBOR as a text string rather than an empty map.
type TransferID string

// MarshalText implements encoding.TextMarshaler.
func (id TransferID) MarshalText() ([]byte, error) {
	return []byte(id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *TransferID) UnmarshalText(text []byte) error {
	*id = TransferID(text)
	return nil
}

// DescriptorID is the stable 64-bit identifier derived from a source
// or destination descriptor's content, used by the frontend to refer
// to a device, network, or command unambiguously across requests.
type DescriptorID uint64

// DescriptorKind tags the variant of a [Descriptor].
type DescriptorKind string

const (
	DescriptorUsb     DescriptorKind = "usb"
	DescriptorNet     DescriptorKind = "net"
	DescriptorCommand DescriptorKind = "command"
)

// Descriptor is a tagged-variant source or destination: USB device,
// network endpoint, or local command. Exactly the fields relevant to
// Kind are populated; the others are zero.
type Descriptor struct {
	ID    DescriptorID   `cbor:"id" json:"id"`
	Kind  DescriptorKind `cbor:"kind" json:"kind"`
	IsSrc bool           `cbor:"is_src" json:"is_src"`
	IsDst bool           `cbor:"is_dst" json:"is_dst"`

	// Usb fields.
	Bus          int    `cbor:"bus,omitempty" json:"bus,omitempty"`
	Dev          int    `cbor:"dev,omitempty" json:"dev,omitempty"`
	DevicePath   string `cbor:"device_path,omitempty" json:"device_path,omitempty"`
	Vendor       string `cbor:"vendor,omitempty" json:"vendor,omitempty"`
	Product      string `cbor:"product,omitempty" json:"product,omitempty"`
	Manufacturer string `cbor:"manufacturer,omitempty" json:"manufacturer,omitempty"`
	Serial       string `cbor:"serial,omitempty" json:"serial,omitempty"`
	DevSize      uint64 `cbor:"dev_size,omitempty" json:"dev_size,omitempty"`
	BlockSize    uint32 `cbor:"block_size,omitempty" json:"block_size,omitempty"`

	// Net fields.
	URL            string `cbor:"url,omitempty" json:"url,omitempty"`
	KrbServiceName string `cbor:"krb_service_name,omitempty" json:"krb_service_name,omitempty"`

	// Command fields.
	Bin  string   `cbor:"bin,omitempty" json:"bin,omitempty"`
	Args []string `cbor:"args,omitempty" json:"args,omitempty"`

	// Description fields, shared by Net and Command.
	Title       string `cbor:"title,omitempty" json:"title,omitempty"`
	Description string `cbor:"description,omitempty" json:"description,omitempty"`
}

// Sanitized returns a copy of d with secrets (Kerberos service
// names) stripped, suitable for embedding in a [TransferReport].
func (d Descriptor) Sanitized() Descriptor {
	d.KrbServiceName = ""
	return d
}

// PartitionInfo describes one partition table entry. PType is the
// entry's raw type byte; unrecognised values are preserved verbatim
// so the frontend can display them, with Mountable false.
type PartitionInfo struct {
	SizeBytes uint64 `cbor:"size_bytes"`
	StartLBA  uint64 `cbor:"start_lba"`
	PType     uint8  `cbor:"ptype"`
	Name      string `cbor:"name,omitempty"`
	TypeStr   string `cbor:"type_str,omitempty"`
	Mountable bool   `cbor:"mountable"`
}

// FileType tags a [FileInfo] entry. Decoding does not check the tag:
// a value other than these three received from a peer is kept as
// received, neither rejected nor coerced to one of them.
type FileType string

const (
	FileTypeRegular   FileType = "regular"
	FileTypeDirectory FileType = "directory"
	FileTypeOther     FileType = "other"
)

// FileInfo describes one entry returned by ReadDir or GetAttr. Path
// is absolute, slash-separated, and lexically normal (no "..", no
// leading "./"). Directories always have Size 0.
type FileInfo struct {
	Path          string   `cbor:"path"`
	Type          FileType `cbor:"ftype"`
	Size          uint64   `cbor:"size"`
	UnixTimestamp int64    `cbor:"unix_timestamp"`
}

// StatusKind tags a [StatusEvent]'s stage.
type StatusKind string

const (
	StatusReadSrc    StatusKind = "read_src"
	StatusDlSrc      StatusKind = "dl_src"
	StatusUploadAv   StatusKind = "upload_av"
	StatusAnalyze    StatusKind = "analyze"
	StatusMkFs       StatusKind = "mkfs"
	StatusMkArchive  StatusKind = "mk_archive"
	StatusWriteDst   StatusKind = "write_dst"
	StatusUploadDst  StatusKind = "upload_dst"
	StatusExecCmd    StatusKind = "exec_cmd"
	StatusWipe       StatusKind = "wipe"
	StatusDiskImg    StatusKind = "disk_img"
	StatusAllDone    StatusKind = "all_done"
	StatusUnknown    StatusKind = "unknown"
)

// StatusEvent reports progress on a long-running request. Total 0
// means the quantity is indeterminate (for example, while polling the
// analyser).
type StatusEvent struct {
	Done    bool       `cbor:"done"`
	Current uint64     `cbor:"current"`
	Total   uint64     `cbor:"total"`
	Kind    StatusKind `cbor:"kind"`
}

// AnalyzeFileStatus is the per-file antivirus verdict.
type AnalyzeFileStatus string

const (
	AnalyzeFileClean AnalyzeFileStatus = "CLEAN"
	AnalyzeFileDirty AnalyzeFileStatus = "DIRTY"
)

// AnalyzeStatus is the overall analysis job status, as polled from
// the analyser server.
type AnalyzeStatus string

const (
	AnalyzeStatusPending AnalyzeStatus = "pending"
	AnalyzeStatusScanned AnalyzeStatus = "scanned"
)

// SupportedAnalyzeReportVersions lists the report schema versions
// this implementation understands. An unrecognised version is a
// fatal error on the consumer side (open question in the upstream
// schema, resolved here by rejecting rather than guessing at new
// semantics).
var SupportedAnalyzeReportVersions = map[int]bool{0: true, 1: true}

// AntivirusInfo describes one antivirus engine consulted during
// analysis.
type AntivirusInfo struct {
	Version     string `cbor:"version" json:"version"`
	DbVersion   string `cbor:"db_version" json:"db_version"`
	DbTimestamp string `cbor:"db_timestamp,omitempty" json:"db_timestamp,omitempty"`
}

// AnalyzeFileResult is the per-file verdict within an [AnalyzeReport].
type AnalyzeFileResult struct {
	Status AnalyzeFileStatus `cbor:"status" json:"status"`
	SHA256 string            `cbor:"sha256,omitempty" json:"sha256,omitempty"`
}

// AnalyzeReport is the antivirus server's verdict for one analysis
// job, as returned by polling GET analyzer_url/{user_id}/{id}.
type AnalyzeReport struct {
	Version   int                          `cbor:"version" json:"version"`
	ID        string                       `cbor:"id" json:"id"`
	Status    AnalyzeStatus                `cbor:"status" json:"status"`
	Antivirus map[string]AntivirusInfo     `cbor:"antivirus,omitempty" json:"antivirus,omitempty"`
	Files     map[string]AnalyzeFileResult `cbor:"files,omitempty" json:"files,omitempty"`
}

// TransferStatus is the final outcome recorded in a [TransferReport].
type TransferStatus string

const (
	TransferStatusSuccess             TransferStatus = "success"
	TransferStatusNothingToCopy       TransferStatus = "nothing_to_copy"
	TransferStatusCopyNotEnoughSpace  TransferStatus = "copy_not_enough_space"
	TransferStatusError               TransferStatus = "error"
)

// TransferReport is the flat record returned on the Report request
// and, depending on configuration, written to the destination device
// and/or a local file.
type TransferReport struct {
	Title         string         `cbor:"title" json:"title"`
	Datetime      string         `cbor:"datetime" json:"datetime"`
	UnixTimestamp int64          `cbor:"unix_timestamp" json:"unix_timestamp"`
	Hostname      string         `cbor:"hostname" json:"hostname"`
	Status        TransferStatus `cbor:"status" json:"status"`
	ErrorMessage  string         `cbor:"error_message,omitempty" json:"error_message,omitempty"`
	UserID        string         `cbor:"user_id,omitempty" json:"user_id,omitempty"`
	TransferID    TransferID     `cbor:"transfer_id" json:"transfer_id"`
	Source        Descriptor     `cbor:"source" json:"source"`
	Destination   Descriptor     `cbor:"destination" json:"destination"`

	FileNames     []string `cbor:"file_names" json:"file_names"`
	ErrorFiles    []string `cbor:"error_files" json:"error_files"`
	FilteredFiles []string `cbor:"filtered_files" json:"filtered_files"`
	RejectedFiles []string `cbor:"rejected_files" json:"rejected_files"`

	AnalyzeReport *AnalyzeReport `cbor:"analyze_report,omitempty" json:"analyze_report,omitempty"`
}

// Filter is one filename filter record: a path matches this filter
// when every non-empty directive matches.
type Filter struct {
	Exact   []string `cbor:"exact,omitempty"`
	Start   []string `cbor:"start,omitempty"`
	End     []string `cbor:"end,omitempty"`
	Contain []string `cbor:"contain,omitempty"`
}
