// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-uploader POSTs the finished tar archive to a destination
// network. It is one of the workers that cannot be confined
// by syscall filtering alone (arbitrary outbound network I/O), so its
// sandbox transition instead applies a Landlock filesystem-access
// restriction that allows file and directory reads only beneath
// USBSAS_OUT_DIRECTORY (or the system temporary directory when that is
// unset), where the tar file it reads lives.
package main

import (
	"fmt"
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
			{Path: path, Access: unix.LANDLOCK_ACCESS_FS_READ_FILE | unix.LANDLOCK_ACCESS_FS_READ_DIR},
		})
	}); err != nil {
		return fmt.Errorf("usbsas-uploader: %w", err)
	}

	uploadTimeout := config.DurationFromEnv(config.EnvTimeoutUpload, config.DefaultUploadTimeout)
	sm := &stateMachine{logger: logger, client: &http.Client{Timeout: uploadTimeout}}
	return worker.Serve(sm)
}

type stateMachine struct {
	logger *slog.Logger
	client *http.Client
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	return action == proto.WorkerActionUpload
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	if req.KrbServiceName != "" {
		// Mutual Kerberos/SPNEGO authentication has no
		// available implementation in this deployment; surfaced as a
		// warning rather than silently dropped so operators notice a
		// configured krb_service_name is not actually being honored.
		sm.logger.Warn("usbsas-uploader: krb_service_name configured but no Kerberos library available, sending unauthenticated request", "service", req.KrbServiceName)
	}

	file, err := os.Open(req.TarPath)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-uploader: opening %s: %w", req.TarPath, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-uploader: stat %s: %w", req.TarPath, err)
	}

	url := strings.TrimRight(req.URL, "/") + "/" + req.UserID
	status(proto.StatusEvent{Kind: proto.StatusUploadDst, Total: uint64(info.Size())})

	httpReq, err := http.NewRequest(http.MethodPost, url, file)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-uploader: building request: %w", err)
	}
	httpReq.ContentLength = info.Size()
	httpReq.Header.Set("Content-Type", "application/x-tar")

	resp, err := sm.client.Do(httpReq)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-uploader: POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-uploader: POST %s: status %d", url, resp.StatusCode)
	}

	status(proto.StatusEvent{Done: true, Kind: proto.StatusUploadDst, Current: uint64(info.Size()), Total: uint64(info.Size())})
	return proto.WorkerResponse{}, nil
}
