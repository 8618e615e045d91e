// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/usbsas/usbsas/lib/clock"
	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/lib/filter"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/report"
	"github.com/usbsas/usbsas/lib/testutil"
	"github.com/usbsas/usbsas/lib/workerproc"
)

// regularAttr answers GetAttr as a plain regular file of the given
// size, the shape expandSelection expects for every selected root in
// these tests (none of them select a directory).
func regularAttr(size uint64) func(proto.WorkerRequest) (proto.WorkerResponse, error) {
	return func(proto.WorkerRequest) (proto.WorkerResponse, error) {
		return proto.WorkerResponse{Attr: &proto.FileInfo{Type: proto.FileTypeRegular, Size: size}}, nil
	}
}

// wholeFile answers ReadFile with the entire contents in one chunk,
// which is enough since every test file here is far smaller than
// transferChunkSize.
func wholeFile(data string) func(proto.WorkerRequest) (proto.WorkerResponse, error) {
	return func(proto.WorkerRequest) (proto.WorkerResponse, error) {
		return proto.WorkerResponse{Data: []byte(data), EOF: true}, nil
	}
}

func ok() func(proto.WorkerRequest) (proto.WorkerResponse, error) {
	return func(proto.WorkerRequest) (proto.WorkerResponse, error) { return proto.WorkerResponse{}, nil }
}

// scriptedHandler answers one action with a canned response (or
// error), tracking how many times it was called.
type scriptedHandler struct {
	respond func(req proto.WorkerRequest) (proto.WorkerResponse, error)
	calls   int
}

// scriptedSM is a [workerproc.StateMachine] driven by a per-action
// table, standing in for a real worker binary in supervisor tests the
// same way echoStateMachine stands in for one in lib/workerproc's own
// tests.
type scriptedSM struct {
	handlers map[proto.WorkerAction]*scriptedHandler
}

func newScriptedSM() *scriptedSM {
	return &scriptedSM{handlers: make(map[proto.WorkerAction]*scriptedHandler)}
}

func (sm *scriptedSM) on(action proto.WorkerAction, respond func(proto.WorkerRequest) (proto.WorkerResponse, error)) *scriptedSM {
	sm.handlers[action] = &scriptedHandler{respond: respond}
	return sm
}

func (sm *scriptedSM) Allowed(action proto.WorkerAction) bool {
	_, ok := sm.handlers[action]
	return ok
}

func (sm *scriptedSM) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	h, ok := sm.handlers[req.Action]
	if !ok {
		return proto.WorkerResponse{}, fmt.Errorf("scriptedSM: unexpected action %q", req.Action)
	}
	h.calls++
	return h.respond(req)
}

// fakeWorker wires sm up behind a [workerproc.Client], running the
// worker side of the protocol over an in-process pipe pair so tests
// never spawn a real subprocess.
func fakeWorker(t *testing.T, sm *scriptedSM) *workerproc.Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	worker := workerproc.New(reqR, respW, nil)
	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	go worker.Serve(sm)
	t.Cleanup(func() {
		reqW.Close()
		respR.Close()
	})
	return workerproc.NewClient(reqW, respR)
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return &Supervisor{
		cfg:     &config.Config{OutDirectory: t.TempDir()},
		logger:  slog.Default(),
		clock:   clock.Real(),
		filters: filter.New(nil),
		workers: &workerRoster{},
		state:   StateSelecting,
	}
}

func newTestTransfer() *transferState {
	id := proto.TransferID(testutil.UniqueID("transfer"))
	src := proto.Descriptor{Kind: proto.DescriptorUsb, DevicePath: "/dev/src"}
	dst := proto.Descriptor{Kind: proto.DescriptorUsb, DevicePath: "/dev/dst"}
	return &transferState{
		id:          id,
		source:      src,
		destination: dst,
		acc:         report.New("usbsas transfer", id, src, dst),
	}
}

func TestRunWipeQuickSkipsZeroing(t *testing.T) {
	s := newTestSupervisor(t)

	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 4096}, nil
		}).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionWriteDirty, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		})
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionCloseFs, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Last: true}, nil
		})

	s.workers.fs2dev = fakeWorker(t, fs2devSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)

	var statuses []proto.StatusEvent
	onStatus := func(e proto.StatusEvent) { statuses = append(statuses, e) }

	descriptor := proto.Descriptor{Kind: proto.DescriptorUsb, DevicePath: "/dev/sdx"}
	if err := s.runWipe(descriptor, true, "fat32", onStatus); err != nil {
		t.Fatalf("runWipe: %v", err)
	}

	if c := fs2devSM.handlers[proto.WorkerActionOpenDevice].calls; c != 1 {
		t.Errorf("expected OpenDevice called once, got %d", c)
	}
	if _, ok := fs2devSM.handlers[proto.WorkerActionWipeSectors]; ok {
		t.Fatal("wipeSectors handler should never have been registered as reachable for a quick wipe")
	}

	found := false
	for _, e := range statuses {
		if e.Kind == proto.StatusWipe && e.Done {
			found = true
		}
	}
	if !found {
		t.Error("expected a Done StatusWipe event for the skipped zeroing stage")
	}
}

func TestRunWipeSlowZeroesDevice(t *testing.T) {
	s := newTestSupervisor(t)

	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 4096}, nil
		}).
		on(proto.WorkerActionWipeSectors, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionWriteDirty, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		})
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionCloseFs, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, nil
		}).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Last: true}, nil
		})

	s.workers.fs2dev = fakeWorker(t, fs2devSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)

	descriptor := proto.Descriptor{Kind: proto.DescriptorUsb, DevicePath: "/dev/sdx"}
	if err := s.runWipe(descriptor, false, "fat32", func(proto.StatusEvent) {}); err != nil {
		t.Fatalf("runWipe: %v", err)
	}

	if c := fs2devSM.handlers[proto.WorkerActionWipeSectors].calls; c != 1 {
		t.Errorf("expected WipeSectors called once for a non-quick wipe, got %d", c)
	}
}

func TestMaterializeUSBNotEnoughSpace(t *testing.T) {
	s := newTestSupervisor(t)

	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 100}, nil
		})
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{}, fmt.Errorf("InitFs must never be called once the size check fails")
		})

	s.workers.fs2dev = fakeWorker(t, fs2devSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)

	transfer := newTestTransfer()
	files := []selectedFile{{path: "/big.bin", size: 1000}}

	err := s.materializeUSB(transfer, "/tmp/whatever.tar", files, func(proto.StatusEvent) {})
	if err == nil {
		t.Fatal("expected an error when the selection does not fit the destination")
	}
	se, ok := err.(statusedError)
	if !ok {
		t.Fatalf("expected a statusedError, got %T: %v", err, err)
	}
	if se.status != proto.TransferStatusCopyNotEnoughSpace {
		t.Errorf("expected TransferStatusCopyNotEnoughSpace, got %v", se.status)
	}
	if c := files2fsSM.handlers[proto.WorkerActionInitFs].calls; c != 0 {
		t.Errorf("expected InitFs never called, got %d calls", c)
	}
}

func TestRunPipelineHappyPathUSBToUSB(t *testing.T) {
	s := newTestSupervisor(t)
	transfer := newTestTransfer()
	s.transfer = transfer

	scsi2filesSM := newScriptedSM().
		on(proto.WorkerActionGetAttr, regularAttr(5)).
		on(proto.WorkerActionReadFile, wholeFile("hello"))
	files2tarSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseTar, ok())
	tar2filesSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionReadFile, wholeFile("hello")).
		on(proto.WorkerActionCloseTar, ok())
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseFs, ok()).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Last: true}, nil
		})
	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 1 << 20}, nil
		}).
		on(proto.WorkerActionBitmapChunk, ok()).
		on(proto.WorkerActionWriteDirty, ok())

	s.workers.scsi2files = fakeWorker(t, scsi2filesSM)
	s.workers.files2tar = fakeWorker(t, files2tarSM)
	s.workers.tar2files = fakeWorker(t, tar2filesSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)
	s.workers.fs2dev = fakeWorker(t, fs2devSM)

	resp := s.handleSelectFiles(proto.FrontendRequest{Selected: []string{"/a.txt", "/b.txt"}}, func(proto.StatusEvent) {})
	if resp.Error != "" {
		t.Fatalf("handleSelectFiles: %s", resp.Error)
	}
	if transfer.finalStatus != proto.TransferStatusSuccess {
		t.Fatalf("finalStatus = %v, want %v", transfer.finalStatus, proto.TransferStatusSuccess)
	}
	if s.state != StateReporting {
		t.Fatalf("state = %v, want %v", s.state, StateReporting)
	}

	rep := transfer.acc.Finalize(transfer.finalStatus, transfer.finalError, "host", time.Now())
	if len(rep.FileNames) != 2 {
		t.Fatalf("FileNames = %v, want 2 entries", rep.FileNames)
	}
	if c := scsi2filesSM.handlers[proto.WorkerActionReadFile].calls; c != 2 {
		t.Errorf("source ReadFile called %d times, want 2", c)
	}
	if c := files2fsSM.handlers[proto.WorkerActionNewFile].calls; c != 2 {
		t.Errorf("destination NewFile called %d times, want 2", c)
	}
}

func TestRunPipelineFiltersFileBeforeCopy(t *testing.T) {
	s := newTestSupervisor(t)
	s.filters = filter.New([]proto.Filter{{Contain: []string{"secret"}}})
	transfer := newTestTransfer()
	s.transfer = transfer

	scsi2filesSM := newScriptedSM().
		on(proto.WorkerActionGetAttr, regularAttr(5)).
		on(proto.WorkerActionReadFile, wholeFile("hello"))
	files2tarSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseTar, ok())
	tar2filesSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionReadFile, wholeFile("hello")).
		on(proto.WorkerActionCloseTar, ok())
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseFs, ok()).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Last: true}, nil
		})
	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 1 << 20}, nil
		}).
		on(proto.WorkerActionBitmapChunk, ok()).
		on(proto.WorkerActionWriteDirty, ok())

	s.workers.scsi2files = fakeWorker(t, scsi2filesSM)
	s.workers.files2tar = fakeWorker(t, files2tarSM)
	s.workers.tar2files = fakeWorker(t, tar2filesSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)
	s.workers.fs2dev = fakeWorker(t, fs2devSM)

	resp := s.handleSelectFiles(proto.FrontendRequest{Selected: []string{"/secret.txt", "/plain.txt"}}, func(proto.StatusEvent) {})
	if resp.Error != "" {
		t.Fatalf("handleSelectFiles: %s", resp.Error)
	}

	rep := transfer.acc.Finalize(transfer.finalStatus, transfer.finalError, "host", time.Now())
	if len(rep.FilteredFiles) != 1 || rep.FilteredFiles[0] != "/secret.txt" {
		t.Fatalf("FilteredFiles = %v, want [/secret.txt]", rep.FilteredFiles)
	}
	if len(rep.FileNames) != 1 || rep.FileNames[0] != "/plain.txt" {
		t.Fatalf("FileNames = %v, want [/plain.txt]", rep.FileNames)
	}
	if c := scsi2filesSM.handlers[proto.WorkerActionReadFile].calls; c != 1 {
		t.Errorf("source ReadFile called %d times, want 1 (filtered file must never be read)", c)
	}
}

func TestRunPipelineAnalyzerRejectsDirtyFile(t *testing.T) {
	s := newTestSupervisor(t)
	s.cfg.Analyzer = &config.AnalyzerConfig{URL: "http://av.example", AnalyzeUsb: true}
	transfer := newTestTransfer()
	s.transfer = transfer

	scsi2filesSM := newScriptedSM().
		on(proto.WorkerActionGetAttr, regularAttr(5)).
		on(proto.WorkerActionReadFile, wholeFile("hello"))
	files2tarSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseTar, ok())
	tar2filesSM := newScriptedSM().
		on(proto.WorkerActionOpenTar, ok()).
		on(proto.WorkerActionReadFile, wholeFile("hello")).
		on(proto.WorkerActionCloseTar, ok())
	files2fsSM := newScriptedSM().
		on(proto.WorkerActionInitFs, ok()).
		on(proto.WorkerActionNewFile, ok()).
		on(proto.WorkerActionWriteFile, ok()).
		on(proto.WorkerActionEndFile, ok()).
		on(proto.WorkerActionCloseFs, ok()).
		on(proto.WorkerActionBitmapChunk, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Last: true}, nil
		})
	fs2devSM := newScriptedSM().
		on(proto.WorkerActionOpenDevice, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Size: 1 << 20}, nil
		}).
		on(proto.WorkerActionBitmapChunk, ok()).
		on(proto.WorkerActionWriteDirty, ok())
	analyzerSM := newScriptedSM().
		on(proto.WorkerActionUploadForAnalysis, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{JobID: "job-1"}, nil
		}).
		on(proto.WorkerActionPollAnalysis, func(proto.WorkerRequest) (proto.WorkerResponse, error) {
			return proto.WorkerResponse{Report: &proto.AnalyzeReport{
				Version: 0,
				Status:  proto.AnalyzeStatusScanned,
				Files: map[string]proto.AnalyzeFileResult{
					"a.txt": {Status: proto.AnalyzeFileDirty},
					"b.txt": {Status: proto.AnalyzeFileClean},
				},
			}}, nil
		})

	s.workers.scsi2files = fakeWorker(t, scsi2filesSM)
	s.workers.files2tar = fakeWorker(t, files2tarSM)
	s.workers.tar2files = fakeWorker(t, tar2filesSM)
	s.workers.files2fs = fakeWorker(t, files2fsSM)
	s.workers.fs2dev = fakeWorker(t, fs2devSM)
	s.workers.analyzer = fakeWorker(t, analyzerSM)

	resp := s.handleSelectFiles(proto.FrontendRequest{Selected: []string{"/a.txt", "/b.txt"}}, func(proto.StatusEvent) {})
	if resp.Error != "" {
		t.Fatalf("handleSelectFiles: %s", resp.Error)
	}

	rep := transfer.acc.Finalize(transfer.finalStatus, transfer.finalError, "host", time.Now())
	if len(rep.RejectedFiles) != 1 || rep.RejectedFiles[0] != "/a.txt" {
		t.Fatalf("RejectedFiles = %v, want [/a.txt]", rep.RejectedFiles)
	}
	if len(rep.FileNames) != 1 || rep.FileNames[0] != "/b.txt" {
		t.Fatalf("FileNames = %v, want [/b.txt]", rep.FileNames)
	}
	if c := files2fsSM.handlers[proto.WorkerActionNewFile].calls; c != 1 {
		t.Errorf("destination NewFile called %d times, want 1 (the dirty file must never be materialized)", c)
	}
}

func TestNormalizeSelectionAbsorbsPrefixes(t *testing.T) {
	got := normalizeSelection([]string{"/a/b/c", "/a/b", "/x", "/a/b/d"})
	want := []string{"/a/b", "/x"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
