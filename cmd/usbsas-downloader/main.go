// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-downloader fetches a tar archive from a source network. Like usbsas-uploader, it is sandboxed with a Landlock
// filesystem restriction rather than a syscall filter, since arbitrary
// outbound network I/O cannot be scoped down by syscall number alone.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
	"golang.org/x/sys/unix"
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
		path := os.Getenv("USBSAS_OUT_DIRECTORY")
		if path == "" {
			path = os.TempDir()
		}
		return sandbox.RestrictPaths([]sandbox.PathRule{
			{Path: path, Access: unix.LANDLOCK_ACCESS_FS_WRITE_FILE | unix.LANDLOCK_ACCESS_FS_MAKE_REG | unix.LANDLOCK_ACCESS_FS_READ_DIR},
		})
	}); err != nil {
		return fmt.Errorf("usbsas-downloader: %w", err)
	}

	downloadTimeout := config.DurationFromEnv(config.EnvTimeoutDownload, config.DefaultDownloadTimeout)
	sm := &stateMachine{logger: logger, client: &http.Client{Timeout: downloadTimeout}}
	return worker.Serve(sm)
}

type stateMachine struct {
	logger *slog.Logger
	client *http.Client
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	return action == proto.WorkerActionDownload
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	if req.KrbServiceName != "" {
		sm.logger.Warn("usbsas-downloader: krb_service_name configured but no Kerberos library available, sending unauthenticated request", "service", req.KrbServiceName)
	}

	url := strings.TrimRight(req.URL, "/") + "/" + req.UserID + "/" + req.Pin
	status(proto.StatusEvent{Kind: proto.StatusDlSrc})

	resp, err := sm.client.Get(url)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-downloader: GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-downloader: GET %s: status %d", url, resp.StatusCode)
	}

	out, err := os.OpenFile(req.TarPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-downloader: creating %s: %w", req.TarPath, err)
	}
	defer out.Close()

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-downloader: writing %s: %w", req.TarPath, err)
	}

	status(proto.StatusEvent{Done: true, Kind: proto.StatusDlSrc, Current: uint64(written), Total: uint64(written)})
	return proto.WorkerResponse{}, nil
}
