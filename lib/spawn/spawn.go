// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// InputPipeFDVar and OutputPipeFDVar name the environment variables a
// spawned worker reads at startup to find its request-in and
// response-out file descriptors.
const (
	InputPipeFDVar  = "USBSAS_INPUT_PIPE_FD"
	OutputPipeFDVar = "USBSAS_OUTPUT_PIPE_FD"
)

// inheritedEnvVars lists the environment variables, if set in the
// supervisor's own environment, that are forwarded to every spawned
// worker. Everything else is dropped: a worker's environment is
// reconstructed from scratch, not inherited wholesale.
var inheritedEnvVars = []string{
	"TERM",
	"LANG",
	"PATH",
	"KRB5CCNAME",
	"USBSAS_MOCK_IN_DEV",
	"USBSAS_MOCK_OUT_DEV",
}

// Spawner configures and starts one worker process.
type Spawner struct {
	// BinPath is the absolute path to the worker executable,
	// typically resolved via lib/config.BinaryPath.
	BinPath string

	// Args are extra command-line arguments passed to the worker.
	Args []string

	// Env lists additional "NAME=value" environment assignments to
	// set in the child's environment, on top of the variables
	// inheritedEnvVars forwards automatically.
	Env []string

	// WaitOnStartup, when true, holds the worker at the start of its
	// Serve loop until the supervisor calls [Child.Unlock].
	WaitOnStartup bool
}

// Child is a spawned worker process along with the parent-side ends
// of its two pipes.
type Child struct {
	Cmd *exec.Cmd

	// RequestOut is the parent's write end of the child's
	// request-in pipe.
	RequestOut *os.File

	// ResponseIn is the parent's read end of the child's
	// response-out pipe.
	ResponseIn *os.File

	locked bool
}

// Spawn starts the worker process described by s. The returned Child
// is locked (see [Child.Unlock]) if s.WaitOnStartup was set.
func (s Spawner) Spawn() (*Child, error) {
	parentToChildRead, parentToChildWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: creating request pipe: %w", err)
	}
	childToParentRead, childToParentWrite, err := os.Pipe()
	if err != nil {
		parentToChildRead.Close()
		parentToChildWrite.Close()
		return nil, fmt.Errorf("spawn: creating response pipe: %w", err)
	}

	cmd := exec.Command(s.BinPath, s.Args...)
	cmd.Env = buildEnv()
	cmd.Env = append(cmd.Env, s.Env...)
	// ExtraFiles are inherited starting at fd 3; record the concrete
	// numbers so the child knows where to find them.
	cmd.ExtraFiles = []*os.File{parentToChildRead, childToParentWrite}
	// os/exec assigns ExtraFiles consecutive fds starting at 3 (after
	// stdin/stdout/stderr), in list order.
	const (
		inputFd  = 3
		outputFd = 4
	)
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("%s=%d", InputPipeFDVar, inputFd),
		fmt.Sprintf("%s=%d", OutputPipeFDVar, outputFd),
	)
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		parentToChildRead.Close()
		parentToChildWrite.Close()
		childToParentRead.Close()
		childToParentWrite.Close()
		return nil, fmt.Errorf("spawn: starting %s: %w", s.BinPath, err)
	}

	// The parent only uses the other ends; close the ones handed to
	// the child now that it has inherited them.
	parentToChildRead.Close()
	childToParentWrite.Close()

	return &Child{
		Cmd:        cmd,
		RequestOut: parentToChildWrite,
		ResponseIn: childToParentRead,
		locked:     s.WaitOnStartup,
	}, nil
}

func buildEnv() []string {
	env := make([]string, 0, len(inheritedEnvVars))
	for _, name := range inheritedEnvVars {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// Unlock sends the readiness token that releases a child spawned with
// WaitOnStartup, writing value as 8 little-endian bytes directly to
// the request pipe ahead of any framed protocol message. It is an
// error to call Unlock on a child that was not spawned locked, or to
// call it twice.
func (c *Child) Unlock(value uint64) error {
	if !c.locked {
		return fmt.Errorf("spawn: Unlock called on a child that is not locked")
	}
	var token [8]byte
	binary.LittleEndian.PutUint64(token[:], value)
	if _, err := c.RequestOut.Write(token[:]); err != nil {
		return fmt.Errorf("spawn: writing readiness token: %w", err)
	}
	c.locked = false
	return nil
}

// Locked reports whether the child is still waiting for [Child.Unlock].
func (c *Child) Locked() bool {
	return c.locked
}

// Close closes the parent-side pipe ends. It does not wait for or
// signal the child process.
func (c *Child) Close() error {
	err1 := c.RequestOut.Close()
	err2 := c.ResponseIn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Shutdown closes the parent-side pipes, which is normally enough on
// its own to make a worker that already received End (or sees EOF on
// its request pipe) exit, then waits up to grace for the process to
// be reaped. A worker still running once grace elapses is sent
// SIGTERM and given another grace period; one still running after
// that is killed with SIGKILL. Shutdown always waits for the process
// to actually exit before returning, so it never leaves a zombie
// behind.
func (c *Child) Shutdown(grace time.Duration) error {
	c.Close()

	if c.Cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- c.Cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
	}

	c.Cmd.Process.Signal(syscall.SIGTERM)
	select {
	case err := <-done:
		return err
	case <-time.After(grace):
	}

	c.Cmd.Process.Kill()
	return <-done
}
