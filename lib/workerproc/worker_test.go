// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package workerproc

import (
	"fmt"
	"io"
	"testing"

	"github.com/usbsas/usbsas/lib/codec"
	"github.com/usbsas/usbsas/lib/framing"
	"github.com/usbsas/usbsas/lib/proto"
)

// echoStateMachine accepts a single "read_dir"-shaped action per
// test and returns a canned response, tracking how many times it was
// invoked.
type echoStateMachine struct {
	allowed  proto.WorkerAction
	response proto.WorkerResponse
	handled  int
	statuses []proto.StatusEvent
	failWith error
}

func (sm *echoStateMachine) Allowed(action proto.WorkerAction) bool {
	return action == sm.allowed
}

func (sm *echoStateMachine) Handle(req proto.WorkerRequest, status func(proto.StatusEvent)) (proto.WorkerResponse, error) {
	sm.handled++
	for _, event := range sm.statuses {
		status(event)
	}
	if sm.failWith != nil {
		return proto.WorkerResponse{}, sm.failWith
	}
	return sm.response, nil
}

func newPipePair() (reqReader *io.PipeReader, reqWriter *io.PipeWriter, respReader *io.PipeReader, respWriter *io.PipeWriter) {
	reqReader, reqWriter = io.Pipe()
	respReader, respWriter = io.Pipe()
	return
}

func sendRequest(t *testing.T, w io.Writer, req proto.WorkerRequest) {
	t.Helper()
	payload, err := codec.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal request: %v", err)
	}
	if err := framing.WriteFrame(w, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func recvResponse(t *testing.T, r io.Reader) proto.WorkerResponse {
	t.Helper()
	payload, err := framing.ReadFrame(r)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var resp proto.WorkerResponse
	if err := codec.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return resp
}

func TestServeRefusesBeforeTransition(t *testing.T) {
	reqReader, _, respReader, respWriter := newPipePair()
	defer reqReader.Close()
	defer respReader.Close()
	defer respWriter.Close()

	worker := New(reqReader, respWriter, nil)
	err := worker.Serve(&echoStateMachine{})
	if err == nil {
		t.Fatal("expected Serve to refuse running before Transition")
	}
}

func TestTransitionOnlyOnce(t *testing.T) {
	reqReader, _, _, respWriter := newPipePair()
	defer reqReader.Close()
	defer respWriter.Close()

	worker := New(reqReader, respWriter, nil)

	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("first Transition: %v", err)
	}
	if err := worker.Transition(func() error { return nil }); err == nil {
		t.Fatal("expected second Transition to fail")
	}
}

func TestServeDispatchesAllowedAction(t *testing.T) {
	reqReader, reqWriter, respReader, respWriter := newPipePair()
	defer reqWriter.Close()

	worker := New(reqReader, respWriter, nil)
	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sm := &echoStateMachine{
		allowed:  proto.WorkerActionReadDir,
		response: proto.WorkerResponse{Files: []proto.FileInfo{{Path: "/a.txt", Type: proto.FileTypeRegular}}},
	}

	done := make(chan error, 1)
	go func() { done <- worker.Serve(sm) }()

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionReadDir, Path: "/"})
	resp := recvResponse(t, respReader)
	if len(resp.Files) != 1 || resp.Files[0].Path != "/a.txt" {
		t.Errorf("unexpected response: %+v", resp)
	}

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionEnd})
	endResp := recvResponse(t, respReader)
	if !endResp.End {
		t.Errorf("expected End response, got %+v", endResp)
	}

	if err := <-done; err != nil {
		t.Fatalf("Serve returned error: %v", err)
	}
	if sm.handled != 1 {
		t.Errorf("expected Handle called once, got %d", sm.handled)
	}
}

func TestServeRejectsDisallowedAction(t *testing.T) {
	reqReader, reqWriter, respReader, respWriter := newPipePair()
	defer reqWriter.Close()

	worker := New(reqReader, respWriter, nil)
	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sm := &echoStateMachine{allowed: proto.WorkerActionReadDir}

	done := make(chan error, 1)
	go func() { done <- worker.Serve(sm) }()

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionGetAttr, Path: "/a.txt"})
	resp := recvResponse(t, respReader)
	if resp.Error == "" {
		t.Errorf("expected Error response for disallowed action, got %+v", resp)
	}

	if err := <-done; err == nil {
		t.Fatal("expected Serve to return an error after a protocol violation")
	}
	if sm.handled != 0 {
		t.Errorf("expected Handle never called, got %d", sm.handled)
	}
}

func TestServeEmitsStatusFramesBeforeFinalResponse(t *testing.T) {
	reqReader, reqWriter, respReader, respWriter := newPipePair()
	defer reqWriter.Close()

	worker := New(reqReader, respWriter, nil)
	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sm := &echoStateMachine{
		allowed: proto.WorkerActionReadFile,
		statuses: []proto.StatusEvent{
			{Current: 1, Total: 2, Kind: proto.StatusReadSrc},
			{Current: 2, Total: 2, Kind: proto.StatusReadSrc},
		},
		response: proto.WorkerResponse{Data: []byte("done")},
	}

	done := make(chan error, 1)
	go func() { done <- worker.Serve(sm) }()

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionReadFile, Path: "/a.txt"})

	first := recvResponse(t, respReader)
	if first.Status == nil || first.Status.Current != 1 {
		t.Errorf("expected first status frame, got %+v", first)
	}
	second := recvResponse(t, respReader)
	if second.Status == nil || second.Status.Current != 2 {
		t.Errorf("expected second status frame, got %+v", second)
	}
	final := recvResponse(t, respReader)
	if string(final.Data) != "done" {
		t.Errorf("expected final response payload, got %+v", final)
	}

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionEnd})
	recvResponse(t, respReader)
	<-done
}

func TestServeSendsErrorOnHandlerFailure(t *testing.T) {
	reqReader, reqWriter, respReader, respWriter := newPipePair()
	defer reqWriter.Close()

	worker := New(reqReader, respWriter, nil)
	if err := worker.Transition(func() error { return nil }); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	sm := &echoStateMachine{
		allowed:  proto.WorkerActionReadFile,
		failWith: fmt.Errorf("device read I/O error"),
	}

	done := make(chan error, 1)
	go func() { done <- worker.Serve(sm) }()

	sendRequest(t, reqWriter, proto.WorkerRequest{Action: proto.WorkerActionReadFile, Path: "/a.txt"})
	resp := recvResponse(t, respReader)
	if resp.Error == "" {
		t.Errorf("expected Error response, got %+v", resp)
	}

	if err := <-done; err == nil {
		t.Fatal("expected Serve to return an error after handler failure")
	}
}
