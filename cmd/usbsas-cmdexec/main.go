// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// usbsas-cmdexec executes a configured command destination or
// post-copy hook, substituting the %SOURCE_FILE%
// placeholder with the path of the tar or filesystem image produced
// upstream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/usbsas/usbsas/lib/process"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/sandbox"
	"github.com/usbsas/usbsas/lib/workerproc"
)

// sourceFilePlaceholder is substituted in every configured argument
// with the actual path of the file being handed to the command.
const sourceFilePlaceholder = "%SOURCE_FILE%"

// commandTimeout bounds how long a single configured command may run
// before the worker gives up and reports a fatal error.
const commandTimeout = 10 * time.Minute

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
		// This worker execs an arbitrary configured binary, which a
		// syscall allowlist cannot meaningfully scope (execve itself
		// must be allowed). The operator-configured command_bin/args
		// are trusted configuration, not attacker-controlled bytes;
		// the sandbox still denies this process itself from reading
		// any other file.
		return sandbox.InstallSyscallFilter(sandbox.WithExtra(
			unix.SYS_EXECVE,
			unix.SYS_CLONE,
			unix.SYS_WAIT4,
			unix.SYS_RT_SIGACTION,
			unix.SYS_RT_SIGPROCMASK,
			unix.SYS_PIPE2,
			unix.SYS_DUP2,
			unix.SYS_FCNTL,
		))
	}); err != nil {
		return fmt.Errorf("usbsas-cmdexec: %w", err)
	}

	sm := &stateMachine{}
	return worker.Serve(sm)
}

type stateMachine struct {
	ran bool
}

func (sm *stateMachine) Allowed(action proto.WorkerAction) bool {
	return action == proto.WorkerActionRunCommand
}

func (sm *stateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	args := make([]string, len(req.CommandArgs))
	for i, arg := range req.CommandArgs {
		args[i] = strings.ReplaceAll(arg, sourceFilePlaceholder, req.SourceFile)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	status(proto.StatusEvent{Kind: proto.StatusExecCmd})

	cmd := exec.CommandContext(ctx, req.CommandBin, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return proto.WorkerResponse{}, fmt.Errorf("usbsas-cmdexec: running %s: %w", req.CommandBin, err)
		}
	}
	if exitCode != 0 {
		return proto.WorkerResponse{}, fmt.Errorf("usbsas-cmdexec: %s exited with status %d", req.CommandBin, exitCode)
	}

	status(proto.StatusEvent{Done: true, Kind: proto.StatusExecCmd})
	return proto.WorkerResponse{ExitCode: exitCode}, nil
}
