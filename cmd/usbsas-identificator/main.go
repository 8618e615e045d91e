// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-identificator resolves the session's user id and, optionally,
// verifies a PIN against it. It is deliberately the only worker
// that touches whatever privileged or attacker-adjacent user-identity
// source a deployment configures (a smartcard reader, an LDAP lookup,
// a flat file), isolated behind its own sandbox transition.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

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

	// Init: the user id and expected PIN are read once, from the
	// worker's own environment, before the sandbox transition. A real
	// deployment substitutes a smartcard or LDAP lookup here; nothing
	// downstream of Transition may open a new resource to do so.
	userID := os.Getenv("USBSAS_USER_ID")
	if userID == "" {
		userID = "unknown"
	}
	expectedPin := strings.TrimSpace(os.Getenv("USBSAS_EXPECTED_PIN"))

	worker := workerproc.New(reqIn, respOut, logger)
	if err := worker.Transition(func() error {
		return sandbox.InstallSyscallFilter(sandbox.BaseSyscalls)
	}); err != nil {
		return fmt.Errorf("usbsas-identificator: %w", err)
	}

	sm := &stateMachine{userID: userID, expectedPin: expectedPin}
	return worker.Serve(sm)
}

// stateMachine implements the strictly linear per-worker state
// machine: either request is legal any number of times (there is
// nothing stateful about resolving or checking an id), until End.
type stateMachine struct {
	userID      string
	expectedPin string
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	return action == proto.WorkerActionIdentify || action == proto.WorkerActionVerifyPin
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	switch req.Action {
	case proto.WorkerActionIdentify:
		return proto.WorkerResponse{UserID: sm.userID}, nil
	case proto.WorkerActionVerifyPin:
		if sm.expectedPin == "" {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-identificator: no PIN configured for this session")
		}
		return proto.WorkerResponse{PinValid: req.Pin == sm.expectedPin}, nil
	default:
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-identificator: unreachable action %q", req.Action)
	}
}
