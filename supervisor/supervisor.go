// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/usbsas/usbsas/lib/clock"
	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/config"
	"github.com/usbsas/usbsas/lib/filter"
	"github.com/usbsas/usbsas/lib/framing"
	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/report"
)

// Supervisor is the session-long process: it
// owns the spawned worker roster, enumerates and tracks descriptors,
// and serves exactly one concurrent frontend connection on a Unix
// domain socket.
type Supervisor struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  *slog.Logger
	filters filter.Set
	workers *workerRoster

	state  State
	roster map[proto.DescriptorID]proto.Descriptor

	transfer *transferState
}

// New spawns the worker roster configuration requires and returns a
// ready Supervisor. Callers run it with Serve.
func New(cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	workers, err := spawnRoster(cfg)
	if err != nil {
		return nil, err
	}
	filters := make([]proto.Filter, len(cfg.Filters))
	for i, f := range cfg.Filters {
		filters[i] = proto.Filter{Exact: f.Exact, Start: f.Start, End: f.End, Contain: f.Contain}
	}
	return &Supervisor{
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
		filters: filter.New(filters),
		workers: workers,
		state:   StateIdle,
		roster:  make(map[proto.DescriptorID]proto.Descriptor),
	}, nil
}

// Close releases every spawned worker, killing any that doesn't exit
// within the configured grace period. It does not remove the socket
// file; call this after Serve returns.
func (s *Supervisor) Close() {
	s.workers.Close(time.Duration(s.cfg.EffectiveTimeouts().KillGrace))
}

// Serve listens on socketPath and processes frontend connections one
// at a time: at most one concurrent frontend is ever served. It
// returns when the listener is closed or a served connection
// completes an orderly End.
func (s *Supervisor) Serve(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("supervisor: removing stale socket %s: %w", socketPath, err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("supervisor: listening on %s: %w", socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(socketPath)
	}()

	s.logger.Info("supervisor: frontend socket listening", "path", socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("supervisor: accept: %w", err)
		}
		ended, err := s.serveOne(conn)
		if err != nil {
			return err
		}
		if ended {
			return nil
		}
	}
}

// ErrProtocolViolation is returned by Serve when a connected frontend
// sends a frame that violates the framing contract.
var ErrProtocolViolation = errors.New("supervisor: frontend protocol violation")

// serveOne drives a single frontend connection to completion. It
// returns true when the frontend sent End and the supervisor should
// stop serving entirely (matching the single-session process model:
// this core never outlives one frontend's session once it has
// connected and cleanly ended it). A non-nil error wrapping
// [ErrProtocolViolation] means the connection broke the framing
// contract rather than disconnecting normally.
func (s *Supervisor) serveOne(conn net.Conn) (bool, error) {
	defer conn.Close()
	s.logger.Info("supervisor: frontend connected")

	for {
		payload, err := framing.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, framing.ErrPayloadTooLarge) {
				return false, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
			}
			s.logger.Info("supervisor: frontend disconnected", "error", err)
			return false, nil
		}
		var req proto.FrontendRequest
		if err := codec.Unmarshal(payload, &req); err != nil {
			s.writeResponse(conn, proto.FrontendResponse{Error: fmt.Sprintf("malformed request: %v", err)})
			return false, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
		}

		resp := s.dispatch(req, func(event proto.StatusEvent) {
			s.writeResponse(conn, proto.FrontendResponse{Status: &event})
		})
		s.writeResponse(conn, resp)

		if req.Action == proto.ActionEnd {
			return resp.End, nil
		}
	}
}

func (s *Supervisor) writeResponse(conn net.Conn, resp proto.FrontendResponse) {
	payload, err := codec.Marshal(resp)
	if err != nil {
		s.logger.Error("supervisor: encoding response", "error", err)
		return
	}
	if err := framing.WriteFrame(conn, payload); err != nil {
		s.logger.Error("supervisor: writing response", "error", err)
	}
}

// dispatch routes one frontend request to its handler, enforcing the
// state table.
func (s *Supervisor) dispatch(req proto.FrontendRequest, onStatus func(proto.StatusEvent)) proto.FrontendResponse {
	if !actionAllowed(s.state, req.Action) {
		return proto.FrontendResponse{Error: fmt.Sprintf("action %q not valid in state %q", req.Action, s.state)}
	}

	switch req.Action {
	case proto.ActionDevices:
		return s.handleDevices()
	case proto.ActionUserId:
		return s.handleUserID()
	case proto.ActionInitTransfer:
		return s.handleInitTransfer(req)
	case proto.ActionOpenDevice:
		return s.handleOpenDevice()
	case proto.ActionPartitions:
		return s.handlePartitions()
	case proto.ActionOpenPartition:
		return s.handleOpenPartition(req)
	case proto.ActionReadDir:
		return s.handleReadDir(req)
	case proto.ActionGetAttr:
		return s.handleGetAttr(req)
	case proto.ActionSelectFiles:
		return s.handleSelectFiles(req, onStatus)
	case proto.ActionReport:
		return s.handleReport()
	case proto.ActionImgDisk:
		return s.handleImgDisk(req, onStatus)
	case proto.ActionWipe:
		return s.handleWipe(req, onStatus)
	case proto.ActionEnd:
		return s.handleEnd()
	default:
		return proto.FrontendResponse{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}
}

// handleEnd resets to Idle. It relies on every child worker already
// being quiesced by the time End is processed: the synchronous
// pipeline handlers never return control to dispatch while a transfer
// is running, so that always holds in practice.
func (s *Supervisor) handleEnd() proto.FrontendResponse {
	s.transfer = nil
	s.state = StateIdle
	return proto.FrontendResponse{End: true}
}

// transferState accumulates everything specific to the one transfer
// currently in flight (or being imaged/wiped).
type transferState struct {
	id          proto.TransferID
	userID      string
	source      proto.Descriptor
	destination proto.Descriptor
	fsType      string
	pin         string
	partition   int
	acc         *report.Accumulator
	analyzeJob  string

	imagePath   string
	finalStatus proto.TransferStatus
	finalError  string
}
