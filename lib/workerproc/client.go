// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package workerproc

import (
	"fmt"
	"io"

	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/framing"
	"github.com/usbsas/usbsas/lib/proto"
)

// Client drives the supervisor's side of the worker protocol: one per
// spawned worker, writing requests to its request-out pipe and
// reading responses (any number of Status frames, then exactly one
// terminal response) from its response-in pipe. It mirrors [Worker]
// on the child side of the same pipe pair.
type Client struct {
	reqOut  io.Writer
	respIn  io.Reader
}

// NewClient wraps a spawned worker's pipes. Callers typically get
// reqOut/respIn from a [github.com/usbsas/usbsas/lib/spawn.Child].
func NewClient(reqOut io.Writer, respIn io.Reader) *Client {
	return &Client{reqOut: reqOut, respIn: respIn}
}

// Do sends req and reads responses until the terminal (non-Status)
// one, invoking onStatus for each Status frame seen along the way.
// onStatus may be nil. An Error response is returned as a non-nil
// error, not as a normal response value — the supervisor never needs
// to inspect WorkerResponse.Error itself.
func (c *Client) Do(req proto.WorkerRequest, onStatus func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	if err := c.send(req); err != nil {
		return proto.WorkerResponse{}, err
	}
	for {
		resp, err := c.recv()
		if err != nil {
			return proto.WorkerResponse{}, err
		}
		if resp.Error != "" {
			return proto.WorkerResponse{}, fmt.Errorf("workerproc: worker error: %s", resp.Error)
		}
		if resp.Status != nil {
			if onStatus != nil {
				onStatus(*resp.Status)
			}
			continue
		}
		return resp, nil
	}
}

// End sends the End request and waits for the worker's acknowledgment.
func (c *Client) End() error {
	resp, err := c.Do(proto.WorkerRequest{Action: proto.WorkerActionEnd}, nil)
	if err != nil {
		return err
	}
	if !resp.End {
		return fmt.Errorf("workerproc: worker did not acknowledge End")
	}
	return nil
}

func (c *Client) send(req proto.WorkerRequest) error {
	payload, err := codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("workerproc: encoding request: %w", err)
	}
	return framing.WriteFrame(c.reqOut, payload)
}

func (c *Client) recv() (proto.WorkerResponse, error) {
	payload, err := framing.ReadFrame(c.respIn)
	if err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("workerproc: reading response: %w", err)
	}
	var resp proto.WorkerResponse
	if err := codec.Unmarshal(payload, &resp); err != nil {
		return proto.WorkerResponse{}, fmt.Errorf("workerproc: decoding response: %w", err)
	}
	return resp, nil
}
