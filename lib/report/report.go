// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"fmt"
	"time"

	"github.com/usbsas/usbsas/lib/proto"
)

// Accumulator builds up a [proto.TransferReport] over the course of a
// transfer. Each Add method enforces mutual-exclusivity
// invariant: a path that has already joined one list is rejected from
// joining another.
type Accumulator struct {
	title       string
	transferID  proto.TransferID
	source      proto.Descriptor
	destination proto.Descriptor
	userID      string

	fileNames     []string
	errorFiles    []string
	filteredFiles []string
	rejectedFiles []string
	seen          map[string]string // path -> which list it joined

	analyzeReport *proto.AnalyzeReport
}

// New creates an Accumulator for one transfer.
func New(title string, id proto.TransferID, source, destination proto.Descriptor) *Accumulator {
	return &Accumulator{
		title:       title,
		transferID:  id,
		source:      source,
		destination: destination,
		seen:        make(map[string]string),
	}
}

// SetUserID records the identified user, if any.
func (a *Accumulator) SetUserID(userID string) {
	a.userID = userID
}

// SetAnalyzeReport embeds the analyser's verdict map in the final
// report.
func (a *Accumulator) SetAnalyzeReport(r *proto.AnalyzeReport) {
	a.analyzeReport = r
}

// AddCopied records path as successfully copied.
func (a *Accumulator) AddCopied(path string) error { return a.add(path, "file_names", &a.fileNames) }

// AddErrored records path as failed to read or write, but not
// filtered or rejected by the analyser.
func (a *Accumulator) AddErrored(path string) error { return a.add(path, "error_files", &a.errorFiles) }

// AddFiltered records path as matched by a configured name filter: it
// never reaches the tar writer or the analyser.
func (a *Accumulator) AddFiltered(path string) error {
	return a.add(path, "filtered_files", &a.filteredFiles)
}

// AddRejected records path as returned DIRTY by the analyser.
func (a *Accumulator) AddRejected(path string) error {
	return a.add(path, "rejected_files", &a.rejectedFiles)
}

func (a *Accumulator) add(path, list string, dest *[]string) error {
	if prior, ok := a.seen[path]; ok {
		return fmt.Errorf("report: %s already recorded in %s, cannot also join %s", path, prior, list)
	}
	a.seen[path] = list
	*dest = append(*dest, path)
	return nil
}

// FormatDatetime renders t in the ISO-like form wants for a
// [proto.TransferReport]'s Datetime field.
func FormatDatetime(t time.Time) string {
	return t.Format("2006-01-02T15:04:05Z07:00")
}

// Finalize produces the [proto.TransferReport]. now is the timestamp
// the caller stamps the report with; the supervisor obtains it from
// its injected [lib/clock] so tests can fix it.
func (a *Accumulator) Finalize(status proto.TransferStatus, errorMessage, hostname string, now time.Time) proto.TransferReport {
	return proto.TransferReport{
		Title:         a.title,
		Datetime:      FormatDatetime(now),
		UnixTimestamp: now.Unix(),
		Hostname:      hostname,
		Status:        status,
		ErrorMessage:  errorMessage,
		UserID:        a.userID,
		TransferID:    a.transferID,
		Source:        a.source.Sanitized(),
		Destination:   a.destination.Sanitized(),
		FileNames:     a.fileNames,
		ErrorFiles:    a.errorFiles,
		FilteredFiles: a.filteredFiles,
		RejectedFiles: a.rejectedFiles,
		AnalyzeReport: a.analyzeReport,
	}
}
