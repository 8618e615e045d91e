// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-analyzer uploads the tar produced by usbsas-files2tar to the
// configured antivirus server and polls it until a verdict is ready. It
// enforces a supported set of analyze-report versions: an unrecognised
// version is a fatal protocol error, never silently accepted.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/usbsas/usbsas/lib/clock"
	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
	"golang.org/x/sys/unix"
)

const pollInterval = 2 * time.Second

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
		path := os.Getenv("USBSAS_OUT_DIRECTORY")
		if path == "" {
			path = os.TempDir()
		}
		return sandbox.RestrictPaths([]sandbox.PathRule{
			{Path: path, Access: unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_READ_DIR},
		})
	}); err != nil {
		return fmt.Errorf("usbsas-analyzer: %w", err)
	}

	uploadTimeout := config.DurationFromEnv(config.EnvTimeoutAnalyzeUpload, config.DefaultAnalyzeUploadTimeout)
	pollTimeout := config.DurationFromEnv(config.EnvTimeoutAnalyzePoll, config.DefaultAnalyzePollTimeout)

	sm := &stateMachine{
		logger:      logger,
		client:      &http.Client{Timeout: uploadTimeout},
		clock:       clock.Real(),
		pollTimeout: pollTimeout,
	}
	return worker.Serve(sm)
}

// stateMachine enforces the small two-step DAG: UploadForAnalysis must
// precede PollAnalysis.
type stateMachine struct {
	logger      *slog.Logger
	client      *http.Client
	clock       clock.Clock
	pollTimeout time.Duration

	uploaded bool
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	switch action {
	case proto.WorkerActionUploadForAnalysis:
		return true
	case proto.WorkerActionPollAnalysis:
		return sm.uploaded
	default:
		return false
	}
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionUploadForAnalysis:
		return sm.upload(req, status)
	case proto.WorkerActionPollAnalysis:
		return sm.poll(req, status)
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: unreachable action %q", req.Action)
	}
}

func (sm *stateMachine) upload(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	if req.KrbServiceName != "" {
		sm.logger.Warn("usbsas-analyzer: krb_service_name configured but no Kerberos library available, sending unauthenticated request", "service", req.KrbServiceName)
	}

	file, err := os.Open(req.TarPath)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: opening %s: %w", req.TarPath, err)
	}
	defer file.Close()

	url := strings.TrimRight(req.URL, "/") + "/" + req.UserID
	status(proto.StatusEvent{Kind: proto.StatusUploadAv})

	httpReq, err := http.NewRequest(http.MethodPost, url, file)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-tar")

	resp, err := sm.client.Do(httpReq)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: POST %s: status %d", url, resp.StatusCode)
	}

	var body struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: decoding upload response: %w", err)
	}

	sm.uploaded = true
	status(proto.StatusEvent{Done: true, Kind: proto.StatusUploadAv})
	return proto.WorkerResponse{JobID: body.ID}, nil
}

func (sm *stateMachine) poll(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	url := strings.TrimRight(req.URL, "/") + "/" + req.UserID + "/" + req.JobID
	deadline := sm.clock.Now().Add(sm.pollTimeout)

	for {
		// Total=0: indeterminate, the antivirus server's own queue
		// depth is not visible to this worker ("total=0 means
		// the quantity is indeterminate (e.g. antivirus waiting)").
		status(proto.StatusEvent{Kind: proto.StatusAnalyze})

		report, err := sm.fetchReport(url)
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		if !proto.SupportedAnalyzeReportVersions[report.Version] {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: unsupported analyze report version %d", report.Version)
		}
		if report.Status == proto.AnalyzeStatusScanned {
			status(proto.StatusEvent{Done: true, Kind: proto.StatusAnalyze})
			return proto.WorkerResponse{Report: report}, nil
		}
		if sm.clock.Now().After(deadline) {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-analyzer: polling %s timed out after %s", url, sm.pollTimeout)
		}
		sm.clock.Sleep(pollInterval)
	}
}

func (sm *stateMachine) fetchReport(url string) (*proto.AnalyzeReport, error) {
	resp, err := sm.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("usbsas-analyzer: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("usbsas-analyzer: GET %s: status %d", url, resp.StatusCode)
	}
	var report proto.AnalyzeReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("usbsas-analyzer: decoding report: %w", err)
	}
	return &report, nil
}
