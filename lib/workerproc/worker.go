// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package workerproc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/framing"
	"github.com/usbsas/usbsas/lib/proto"
)

// StateMachine implements one worker's per-action request handling.
// Implementations are strictly linear or small DAGs: Allowed reports
// whether action is legal in whatever state the implementation is
// currently tracking, and Handle both executes the action and
// advances that internal state.
type StateMachine interface {
	// Allowed reports whether action may be processed in the current
	// state. [Worker.Serve] calls this before Handle on every request
	// except End, which is always legal.
	Allowed(action proto.WorkerAction) bool

	// Handle processes req and returns the response to send. It may
	// call status any number of times before returning to emit
	// Status frames ahead of the final response. A non-nil error
	// is, by default, fatal: Serve sends an Error response carrying
	// err's message and stops serving. Wrap an error with
	// [Recoverable] to report it as a per-request failure instead:
	// Serve still sends the Error response, but keeps serving
	// subsequent requests rather than returning.
	Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error)
}

// recoverableError marks an error as a single request's failure
// rather than a reason to stop serving the rest of the session — a
// bad sector read or a single corrupt file, as opposed to a protocol
// violation or a broken pipe.
type recoverableError struct {
	err error
}

// Recoverable wraps err so that [Worker.Serve] reports it to the
// supervisor as an Error response and keeps serving subsequent
// requests, instead of tearing down the worker process. Use it for
// failures scoped to one file or one request: the caller already
// knows how to record that single failure (e.g. demoting one file to
// an error list) and the rest of the transfer can still proceed.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &recoverableError{err: err}
}

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

// Worker drives one worker process's side of the protocol: reading
// requests from reqIn, dispatching them to a [StateMachine], and
// writing responses to respOut.
type Worker struct {
	reqIn        io.Reader
	respOut      io.Writer
	logger       *slog.Logger
	transitioned bool
}

// New creates a Worker over the given pipes. logger defaults to
// slog.Default() when nil.
func New(reqIn io.Reader, respOut io.Writer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{reqIn: reqIn, respOut: respOut, logger: logger}
}

// Transition performs the worker's sandbox transition: it calls fn,
// which must install whatever syscall filter and/or filesystem-access
// restriction represents the worker's steady-state rights, and
// records that Init is complete. Transition may be called only once;
// a second call returns an error without invoking fn again.
//
// [Worker.Serve] refuses to run until Transition has succeeded, so
// that no request can be processed — and therefore no attacker bytes
// parsed — before the sandbox is installed.
func (w *Worker) Transition(fn func() error) error {
	if w.transitioned {
		return fmt.Errorf("workerproc: Transition called more than once")
	}
	if err := fn(); err != nil {
		return fmt.Errorf("workerproc: sandbox transition failed: %w", err)
	}
	w.transitioned = true
	return nil
}

// Serve runs the request/response loop against sm until the
// supervisor sends an End request, the connection is closed, or a
// fatal error occurs. It returns nil after a clean End.
func (w *Worker) Serve(sm StateMachine) error {
	if !w.transitioned {
		return fmt.Errorf("workerproc: Serve called before a successful Transition")
	}

	status := func(event proto.StatusEvent) {
		if err := w.writeResponse(proto.WorkerResponse{Status: &event}); err != nil {
			w.logger.Error("workerproc: failed to write status frame", "error", err)
		}
	}

	for {
		req, err := w.readRequest()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("workerproc: reading request: %w", err)
		}

		if req.Action == proto.WorkerActionEnd {
			if err := w.writeResponse(proto.WorkerResponse{End: true}); err != nil {
				return fmt.Errorf("workerproc: writing end response: %w", err)
			}
			return nil
		}

		if !sm.Allowed(req.Action) {
			message := fmt.Sprintf("action %q not valid in current state", req.Action)
			if err := w.writeResponse(proto.WorkerResponse{Error: message}); err != nil {
				return fmt.Errorf("workerproc: writing protocol violation response: %w", err)
			}
			return fmt.Errorf("workerproc: protocol violation: %s", message)
		}

		resp, err := sm.Handle(req, status)
		if err != nil {
			if writeErr := w.writeResponse(proto.WorkerResponse{Error: err.Error()}); writeErr != nil {
				return fmt.Errorf("workerproc: writing error response: %w", writeErr)
			}
			var recoverable *recoverableError
			if errors.As(err, &recoverable) {
				continue
			}
			return fmt.Errorf("workerproc: handling %q: %w", req.Action, err)
		}

		if err := w.writeResponse(resp); err != nil {
			return fmt.Errorf("workerproc: writing response: %w", err)
		}
	}
}

func (w *Worker) readRequest() (proto.WorkerRequest, error) {
	payload, err := framing.ReadFrame(w.reqIn)
	if err != nil {
		return proto.WorkerRequest{}, err
	}
	var req proto.WorkerRequest
	if err := codec.Unmarshal(payload, &req); err != nil {
		return proto.WorkerRequest{}, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

func (w *Worker) writeResponse(resp proto.WorkerResponse) error {
	payload, err := codec.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	return framing.WriteFrame(w.respOut, payload)
}
