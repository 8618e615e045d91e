// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/usbsas/usbsas/lib/blockdev"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/workerproc"
)

// transferChunkSize bounds a single file-data frame crossing any pipe
// pair, well under framing.MaxPayloadSize once CBOR overhead and the
// rest of the request are accounted for.
const transferChunkSize = 512 * 1024

// normalizeSelection sorts selected paths and drops any path that is
// a proper prefix of another already kept path (: "normalise
// the selection (prefix absorption; lexicographic)"), since selecting
// a directory already implies everything under it.
func normalizeSelection(selected []string) []string {
	sorted := append([]string(nil), selected...)
	sort.Strings(sorted)

	var kept []string
	for _, p := range sorted {
		if len(kept) > 0 && isUnderOrEqual(p, kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

// isUnderOrEqual reports whether p equals parent or sits under it.
func isUnderOrEqual(p, parent string) bool {
	if p == parent {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(parent, "/")+"/")
}

// selectedFile is one regular file that survived normalisation and
// expansion of any selected directory into its regular-file leaves.
type selectedFile struct {
	path string
	size uint64
}

// expandSelection walks readDir/getAttr against client, starting from
// each normalised selection root, and returns every regular file
// found underneath (or the root itself, if it is already a regular
// file). Directories themselves never become tar entries.
func expandSelection(client *workerproc.Client, roots []string) ([]selectedFile, error) {
	var files []selectedFile
	for _, root := range roots {
		attrResp, err := client.Do(proto.WorkerRequest{Action: proto.WorkerActionGetAttr, Path: root}, nil)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", root, err)
		}
		if attrResp.Attr == nil {
			return nil, fmt.Errorf("stat %s: no attribute returned", root)
		}
		if attrResp.Attr.Type != proto.FileTypeDirectory {
			files = append(files, selectedFile{path: root, size: attrResp.Attr.Size})
			continue
		}
		if err := walkDir(client, root, &files); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func walkDir(client *workerproc.Client, dir string, out *[]selectedFile) error {
	resp, err := client.Do(proto.WorkerRequest{Action: proto.WorkerActionReadDir, Path: dir}, nil)
	if err != nil {
		return fmt.Errorf("reading dir %s: %w", dir, err)
	}
	for _, f := range resp.Files {
		if f.Type == proto.FileTypeDirectory {
			if err := walkDir(client, f.Path, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, selectedFile{path: f.Path, size: f.Size})
	}
	return nil
}

// handleSelectFiles runs the whole transfer pipeline synchronously:
// read source, optionally analyse, materialise onto the
// destination, optional post-copy command, then finalise the report.
// It always leaves the supervisor in Reporting, even on a fatal
// error, since Report must still return a report carrying the failure
// status.
func (s *Supervisor) handleSelectFiles(req proto.FrontendRequest, onStatus func(proto.StatusEvent)) proto.FrontendResponse {
	t := s.transfer

	tarPath := filepath.Join(s.cfg.OutDirectory, string(t.id)+".tar")
	bundled := t.destination.Kind == proto.DescriptorNet

	status, err := s.runPipeline(t, req, tarPath, bundled, onStatus)
	if err != nil {
		t.finalStatus = status
		t.finalError = err.Error()
		s.state = StateReporting
		return proto.FrontendResponse{Error: err.Error()}
	}
	t.finalStatus = proto.TransferStatusSuccess
	s.state = StateReporting
	return proto.FrontendResponse{}
}

func (s *Supervisor) runPipeline(t *transferState, req proto.FrontendRequest, tarPath string, bundled bool, onStatus func(proto.StatusEvent)) (proto.TransferStatus, error) {
	roots := normalizeSelection(req.Selected)

	readClient := s.workers.scsi2files
	if t.source.Kind == proto.DescriptorNet {
		if s.workers.downloader == nil {
			return proto.TransferStatusError, fmt.Errorf("supervisor: no downloader worker configured for a network source")
		}
		if _, err := s.workers.downloader.Do(proto.WorkerRequest{
			Action: proto.WorkerActionDownload, URL: t.source.URL, KrbServiceName: t.source.KrbServiceName,
			UserID: t.userID, Pin: t.pin, TarPath: tarPath,
		}, onStatus); err != nil {
			return proto.TransferStatusError, fmt.Errorf("download: %w", err)
		}
		if _, err := s.workers.tar2files.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenTar, TarPath: tarPath}, nil); err != nil {
			return proto.TransferStatusError, fmt.Errorf("opening downloaded tar: %w", err)
		}
		readClient = s.workers.tar2files
		if len(roots) == 0 {
			roots = []string{"/"}
		}
	}

	files, err := expandSelection(readClient, roots)
	if err != nil {
		return proto.TransferStatusError, err
	}

	var toCopy []selectedFile
	var filteredCount int
	for _, f := range files {
		if s.filters.Matches(f.path) {
			if err := t.acc.AddFiltered(f.path); err != nil {
				return proto.TransferStatusError, err
			}
			filteredCount++
			continue
		}
		toCopy = append(toCopy, f)
	}

	if t.source.Kind != proto.DescriptorNet {
		// Read the source device and build a fresh tar. A net source
		// already handed over a ready-made tar above, so this step is
		// skipped entirely.
		if err := s.buildTar(readClient, toCopy, tarPath, bundled, t, onStatus); err != nil {
			return proto.TransferStatusError, err
		}
	} else if bundled {
		// The download case still needs the bundled net->net relay
		// shape rewritten into net->USB's bare tar; simplest is to
		// rebuild it through files2tar from the already-open reader,
		// same as the non-net path, using a second temp path.
		rebuiltPath := tarPath + ".rebuilt"
		if err := s.buildTar(readClient, toCopy, rebuiltPath, bundled, t, onStatus); err != nil {
			return proto.TransferStatusError, err
		}
		tarPath = rebuiltPath
	}

	if len(toCopy) == 0 && filteredCount == 0 {
		return proto.TransferStatusNothingToCopy, fmt.Errorf("nothing selected")
	}
	if len(toCopy) == 0 {
		// Every selected file matched a filter.
		return proto.TransferStatusNothingToCopy, fmt.Errorf("every selected file was filtered")
	}

	analyzeEnabled := s.analyzeEnabledFor(t.destination.Kind, t.source.Kind)
	rejected := make(map[string]bool)
	if analyzeEnabled && s.workers.analyzer != nil {
		report, err := s.analyze(tarPath, t.userID, onStatus)
		if err != nil {
			return proto.TransferStatusError, fmt.Errorf("analysis: %w", err)
		}
		t.acc.SetAnalyzeReport(report)
		for name, verdict := range report.Files {
			if verdict.Status == proto.AnalyzeFileDirty {
				p := "/" + strings.TrimPrefix(name, "/")
				rejected[p] = true
			}
		}
	}

	var materialize []selectedFile
	for _, f := range toCopy {
		if rejected[f.path] {
			if err := t.acc.AddRejected(f.path); err != nil {
				return proto.TransferStatusError, err
			}
			continue
		}
		materialize = append(materialize, f)
		if err := t.acc.AddCopied(f.path); err != nil {
			return proto.TransferStatusError, err
		}
	}

	if len(materialize) == 0 {
		return proto.TransferStatusNothingToCopy, fmt.Errorf("nothing left to copy after filtering and rejection")
	}

	switch t.destination.Kind {
	case proto.DescriptorUsb:
		if err := s.materializeUSB(t, tarPath, materialize, onStatus); err != nil {
			if errStatus, ok := err.(statusedError); ok {
				return errStatus.status, err
			}
			return proto.TransferStatusError, err
		}
	case proto.DescriptorNet:
		if _, err := s.workers.uploader.Do(proto.WorkerRequest{
			Action: proto.WorkerActionUpload, URL: t.destination.URL, KrbServiceName: t.destination.KrbServiceName,
			UserID: t.userID, TarPath: tarPath,
		}, onStatus); err != nil {
			return proto.TransferStatusError, fmt.Errorf("upload: %w", err)
		}
	case proto.DescriptorCommand:
		if _, err := s.workers.cmdexec.Do(proto.WorkerRequest{
			Action: proto.WorkerActionRunCommand, CommandBin: t.destination.Bin,
			CommandArgs: t.destination.Args, SourceFile: tarPath,
		}, onStatus); err != nil {
			return proto.TransferStatusError, fmt.Errorf("command destination: %w", err)
		}
	default:
		return proto.TransferStatusError, fmt.Errorf("unsupported destination kind %q", t.destination.Kind)
	}

	if s.cfg.PostCopy != nil {
		sourceFile := tarPath
		if t.destination.Kind == proto.DescriptorUsb {
			sourceFile = t.imagePath
		}
		if _, err := s.workers.cmdexec.Do(proto.WorkerRequest{
			Action: proto.WorkerActionRunCommand, CommandBin: s.cfg.PostCopy.CommandBin,
			CommandArgs: s.cfg.PostCopy.CommandArgs, SourceFile: sourceFile,
		}, onStatus); err != nil {
			return proto.TransferStatusError, fmt.Errorf("post-copy command: %w", err)
		}
	}

	if !s.cfg.KeepTmpFiles {
		os.Remove(tarPath)
		if t.imagePath != "" {
			os.Remove(t.imagePath)
		}
	}

	return proto.TransferStatusSuccess, nil
}

// statusedError lets a stage report a specific TransferStatus (for
// example copy_not_enough_space) instead of the generic error status.
type statusedError struct {
	status proto.TransferStatus
	err    error
}

func (e statusedError) Error() string { return e.err.Error() }

func (s *Supervisor) analyzeEnabledFor(destKind, srcKind proto.DescriptorKind) bool {
	if s.cfg.Analyzer == nil {
		return false
	}
	switch destKind {
	case proto.DescriptorUsb:
		return s.cfg.Analyzer.AnalyzeUsb && srcKind == proto.DescriptorUsb
	case proto.DescriptorNet:
		return s.cfg.Analyzer.AnalyzeNet
	case proto.DescriptorCommand:
		return s.cfg.Analyzer.AnalyzeCmd
	default:
		return false
	}
}

// buildTar streams every file in files from readClient's source
// through the tar writer. readFile failures are reported by the
// source worker as recoverable, so a read error on an individual file
// demotes it to error_files and copying continues with the next
// file; an error enumerating the device itself, or a failure the
// source worker treats as fatal, still aborts the whole transfer.
func (s *Supervisor) buildTar(readClient *workerproc.Client, files []selectedFile, tarPath string, bundled bool, t *transferState, onStatus func(proto.StatusEvent)) error {
	if _, err := s.workers.files2tar.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenTar, TarPath: tarPath, Bundled: bundled}, nil); err != nil {
		return fmt.Errorf("opening tar: %w", err)
	}

	for _, f := range files {
		if err := s.copyOneFile(readClient, f, onStatus); err != nil {
			if accErr := t.acc.AddErrored(f.path); accErr != nil {
				return fmt.Errorf("recording %s as errored: %w", f.path, accErr)
			}
			continue
		}
	}

	var configJSON []byte
	if bundled {
		configJSON, _ = json.Marshal(struct {
			TransferID string           `json:"transfer_id"`
			Hostname   string           `json:"hostname"`
			Source     proto.Descriptor `json:"source"`
		}{TransferID: string(t.id), Hostname: hostname(), Source: t.source.Sanitized()})
	}
	if _, err := s.workers.files2tar.Do(proto.WorkerRequest{Action: proto.WorkerActionCloseTar, Bundled: bundled, Data: configJSON}, nil); err != nil {
		return fmt.Errorf("closing tar: %w", err)
	}
	return nil
}

func (s *Supervisor) copyOneFile(readClient *workerproc.Client, f selectedFile, onStatus func(proto.StatusEvent)) error {
	if _, err := s.workers.files2tar.Do(proto.WorkerRequest{
		Action: proto.WorkerActionNewFile, Path: f.path, FileSize: f.size,
	}, nil); err != nil {
		return err
	}

	var offset uint64
	for offset < f.size {
		length := uint64(transferChunkSize)
		if offset+length > f.size {
			length = f.size - offset
		}
		resp, err := readClient.Do(proto.WorkerRequest{
			Action: proto.WorkerActionReadFile, Path: f.path, Offset: offset, Length: uint32(length),
		}, onStatus)
		if err != nil {
			return err
		}
		if _, err := s.workers.files2tar.Do(proto.WorkerRequest{Action: proto.WorkerActionWriteFile, Chunk: resp.Data}, nil); err != nil {
			return err
		}
		offset += uint64(len(resp.Data))
		if resp.EOF {
			break
		}
	}

	_, err := s.workers.files2tar.Do(proto.WorkerRequest{Action: proto.WorkerActionEndFile}, nil)
	return err
}

// analyze uploads tarPath for analysis and polls until a verdict is
// ready.
func (s *Supervisor) analyze(tarPath, userID string, onStatus func(proto.StatusEvent)) (*proto.AnalyzeReport, error) {
	uploadResp, err := s.workers.analyzer.Do(proto.WorkerRequest{
		Action: proto.WorkerActionUploadForAnalysis, URL: s.cfg.Analyzer.URL,
		KrbServiceName: s.cfg.Analyzer.KrbServiceName, UserID: userID, TarPath: tarPath,
	}, onStatus)
	if err != nil {
		return nil, err
	}
	pollResp, err := s.workers.analyzer.Do(proto.WorkerRequest{
		Action: proto.WorkerActionPollAnalysis, URL: s.cfg.Analyzer.URL, UserID: userID, JobID: uploadResp.JobID,
	}, onStatus)
	if err != nil {
		return nil, err
	}
	return pollResp.Report, nil
}

// materializeUSB builds a blank filesystem image sized to the
// destination device, writes the surviving files into it, streams
// the resulting dirty-sector bitmap to the block writer, and copies
// the dirty sectors onto the device.
func (s *Supervisor) materializeUSB(t *transferState, tarPath string, files []selectedFile, onStatus func(proto.StatusEvent)) error {
	openResp, err := s.workers.fs2dev.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenDevice, DevicePath: t.destination.DevicePath}, nil)
	if err != nil {
		return fmt.Errorf("opening destination device: %w", err)
	}
	deviceSize := openResp.Size

	var totalSize uint64
	for _, f := range files {
		totalSize += f.size
	}
	if totalSize > deviceSize {
		onStatus(proto.StatusEvent{Kind: proto.StatusMkFs, Current: 0, Total: totalSize})
		return statusedError{status: proto.TransferStatusCopyNotEnoughSpace, err: fmt.Errorf("selection totals %d bytes, destination device has %d", totalSize, deviceSize)}
	}

	imagePath := filepath.Join(s.cfg.OutDirectory, string(t.id)+".img")
	t.imagePath = imagePath
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{
		Action: proto.WorkerActionInitFs, ImagePath: imagePath, ImageSize: deviceSize, FsType: t.fsType,
	}, onStatus); err != nil {
		return fmt.Errorf("initializing filesystem image: %w", err)
	}

	if _, err := s.workers.tar2files.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenTar, TarPath: tarPath}, nil); err != nil {
		return fmt.Errorf("reopening tar for materialisation: %w", err)
	}
	for _, f := range files {
		if err := s.copyTarEntryToFs(f, onStatus); err != nil {
			return fmt.Errorf("writing %s to image: %w", f.path, err)
		}
	}
	if _, err := s.workers.tar2files.Do(proto.WorkerRequest{Action: proto.WorkerActionCloseTar}, nil); err != nil {
		return fmt.Errorf("closing tar reader: %w", err)
	}

	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionCloseFs}, onStatus); err != nil {
		return fmt.Errorf("closing filesystem image: %w", err)
	}

	if err := s.streamBitmap(imagePath, deviceSize, onStatus); err != nil {
		return err
	}

	if _, err := s.workers.fs2dev.Do(proto.WorkerRequest{
		Action: proto.WorkerActionWriteDirty, ImagePath: imagePath, ImageSize: deviceSize,
	}, onStatus); err != nil {
		return fmt.Errorf("writing dirty sectors: %w", err)
	}
	return nil
}

func (s *Supervisor) copyTarEntryToFs(f selectedFile, onStatus func(proto.StatusEvent)) error {
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionNewFile, Path: f.path}, nil); err != nil {
		return err
	}
	var offset uint64
	for offset < f.size {
		length := uint64(transferChunkSize)
		if offset+length > f.size {
			length = f.size - offset
		}
		resp, err := s.workers.tar2files.Do(proto.WorkerRequest{
			Action: proto.WorkerActionReadFile, Path: f.path, Offset: offset, Length: uint32(length),
		}, onStatus)
		if err != nil {
			return err
		}
		if _, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionWriteFile, Chunk: resp.Data}, onStatus); err != nil {
			return err
		}
		offset += uint64(len(resp.Data))
		if resp.EOF {
			break
		}
	}
	_, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionEndFile}, nil)
	return err
}

// streamBitmap pulls every bitmap chunk from files2fs and pushes each
// one to fs2dev in order.
func (s *Supervisor) streamBitmap(imagePath string, imageSize uint64, onStatus func(proto.StatusEvent)) error {
	for {
		pullResp, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionBitmapChunk}, nil)
		if err != nil {
			return fmt.Errorf("pulling bitmap chunk: %w", err)
		}
		if _, err := s.workers.fs2dev.Do(proto.WorkerRequest{
			Action: proto.WorkerActionBitmapChunk, Chunk: pullResp.Chunk, Last: pullResp.Last,
		}, nil); err != nil {
			return fmt.Errorf("pushing bitmap chunk: %w", err)
		}
		if pullResp.Last {
			return nil
		}
	}
}

// handleReport finalises and returns the transfer report.
func (s *Supervisor) handleReport() proto.FrontendResponse {
	t := s.transfer
	now := s.clock.Now()
	report := t.acc.Finalize(t.finalStatus, t.finalError, hostname(), now)

	if s.cfg.Report.WriteDest && t.destination.Kind == proto.DescriptorUsb {
		s.writeReportToDestination(t, report)
	}
	if s.cfg.Report.WriteLocal != "" {
		writeLocalReport(s.cfg.Report.WriteLocal, report)
	}

	s.state = StateDone
	return proto.FrontendResponse{Report: &report}
}

func (s *Supervisor) writeReportToDestination(t *transferState, report proto.TransferReport) {
	data, err := json.Marshal(report)
	if err != nil {
		s.logger.Warn("supervisor: encoding report for destination", "error", err)
		return
	}
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{
		Action: proto.WorkerActionNewFile, Path: "/usbsas_report.json", FileSize: uint64(len(data)),
	}, nil); err != nil {
		s.logger.Warn("supervisor: writing report to destination", "error", err)
		return
	}
	s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionWriteFile, Chunk: data}, nil)
	s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionEndFile}, nil)
}

func writeLocalReport(localPath string, report proto.TransferReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(localPath, data, 0o600)
}

// handleImgDisk streams every sector of the device identified by
// req.ID to a local image file through the filesystem builder's
// raw-write path.
func (s *Supervisor) handleImgDisk(req proto.FrontendRequest, onStatus func(proto.StatusEvent)) proto.FrontendResponse {
	descriptor, ok := s.roster[req.ID]
	if !ok {
		return proto.FrontendResponse{Error: fmt.Sprintf("unknown descriptor id %d", req.ID)}
	}

	s.state = StateImaging
	if err := s.runImgDisk(descriptor, onStatus); err != nil {
		s.state = StateDone
		return proto.FrontendResponse{Error: err.Error()}
	}
	s.state = StateDone
	return proto.FrontendResponse{}
}

func (s *Supervisor) runImgDisk(descriptor proto.Descriptor, onStatus func(proto.StatusEvent)) error {
	openResp, err := s.workers.usbdev.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenDevice, DevicePath: descriptor.DevicePath}, nil)
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	deviceSize := openResp.Size
	totalSectors := deviceSize / blockdev.SectorSize

	imagePath := filepath.Join(s.cfg.OutDirectory, path.Base(descriptor.DevicePath)+".dd")
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{
		Action: proto.WorkerActionInitFs, ImagePath: imagePath, ImageSize: deviceSize, Raw: true,
	}, nil); err != nil {
		return fmt.Errorf("initializing raw image: %w", err)
	}

	const sectorsPerRead = 1024
	for lba := uint64(0); lba < totalSectors; lba += sectorsPerRead {
		count := uint64(sectorsPerRead)
		if lba+count > totalSectors {
			count = totalSectors - lba
		}
		readResp, err := s.workers.usbdev.Do(proto.WorkerRequest{
			Action: proto.WorkerActionReadSectors, StartLBA: lba, SectorCount: count,
		}, nil)
		if err != nil {
			return fmt.Errorf("reading sectors at %d: %w", lba, err)
		}
		for i := uint64(0); i < count; i++ {
			sector := readResp.Data[i*blockdev.SectorSize : (i+1)*blockdev.SectorSize]
			if _, err := s.workers.files2fs.Do(proto.WorkerRequest{
				Action: proto.WorkerActionRawWriteSector, StartLBA: lba + i, Data: sector,
			}, nil); err != nil {
				return fmt.Errorf("writing image sector %d: %w", lba+i, err)
			}
		}
		onStatus(proto.StatusEvent{Kind: proto.StatusDiskImg, Current: lba + count, Total: totalSectors})
	}

	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionCloseFs}, nil); err != nil {
		return fmt.Errorf("finalizing raw image: %w", err)
	}
	onStatus(proto.StatusEvent{Done: true, Kind: proto.StatusDiskImg, Current: totalSectors, Total: totalSectors})
	return nil
}

// handleWipe overwrites the destination device with zeros (unless
// quick), builds a fresh blank filesystem of req.FsType, and
// materialises it.
func (s *Supervisor) handleWipe(req proto.FrontendRequest, onStatus func(proto.StatusEvent)) proto.FrontendResponse {
	descriptor, ok := s.roster[req.ID]
	if !ok {
		return proto.FrontendResponse{Error: fmt.Sprintf("unknown descriptor id %d", req.ID)}
	}

	s.state = StateWiping
	if err := s.runWipe(descriptor, req.Quick, req.FsType, onStatus); err != nil {
		s.state = StateDone
		return proto.FrontendResponse{Error: err.Error()}
	}
	s.state = StateDone
	return proto.FrontendResponse{}
}

func (s *Supervisor) runWipe(descriptor proto.Descriptor, quick bool, fsType string, onStatus func(proto.StatusEvent)) error {
	openResp, err := s.workers.fs2dev.Do(proto.WorkerRequest{Action: proto.WorkerActionOpenDevice, DevicePath: descriptor.DevicePath}, nil)
	if err != nil {
		return fmt.Errorf("opening device: %w", err)
	}
	deviceSize := openResp.Size

	if !quick {
		if _, err := s.workers.fs2dev.Do(proto.WorkerRequest{Action: proto.WorkerActionWipeSectors}, onStatus); err != nil {
			return fmt.Errorf("wiping device: %w", err)
		}
	} else {
		onStatus(proto.StatusEvent{Done: true, Kind: proto.StatusWipe, Current: 0, Total: 0})
	}

	imagePath := filepath.Join(s.cfg.OutDirectory, path.Base(descriptor.DevicePath)+".wipe.img")
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{
		Action: proto.WorkerActionInitFs, ImagePath: imagePath, ImageSize: deviceSize, FsType: fsType,
	}, onStatus); err != nil {
		return fmt.Errorf("building blank filesystem: %w", err)
	}
	if _, err := s.workers.files2fs.Do(proto.WorkerRequest{Action: proto.WorkerActionCloseFs}, nil); err != nil {
		return fmt.Errorf("closing blank filesystem: %w", err)
	}

	if err := s.streamBitmap(imagePath, deviceSize, onStatus); err != nil {
		return err
	}
	if _, err := s.workers.fs2dev.Do(proto.WorkerRequest{
		Action: proto.WorkerActionWriteDirty, ImagePath: imagePath, ImageSize: deviceSize,
	}, onStatus); err != nil {
		return fmt.Errorf("writing blank filesystem to device: %w", err)
	}

	if !s.cfg.KeepTmpFiles {
		os.Remove(imagePath)
	}
	return nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
