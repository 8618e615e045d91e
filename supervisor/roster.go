// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"hash/fnv"

	"github.com/usbsas/usbsas/lib/proto"
	"github.com/usbsas/usbsas/lib/report"
)

// descriptorID derives a stable 64-bit identifier from a descriptor's
// content, so that subsequent requests can refer to it unambiguously.
// Hashing the content rather than assigning a counter means the same
// physical device or configured network keeps the same id across
// repeated Devices calls within a session.
func descriptorID(d proto.Descriptor) proto.DescriptorID {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%s|%s|%s|%s", d.Kind, d.Bus, d.Dev, d.Serial, d.URL, d.Bin, d.Title)
	return proto.DescriptorID(h.Sum64())
}

// usbPortAllowed reports whether bus is present as the leading
// element of any configured port chain, or whether chains is empty
// (no whitelist configured, so every bus is allowed). Descriptor only
// carries a flat Bus/Dev pair rather than a full port-number chain, so
// this checks against the first hop of each configured chain; a full
// multi-hop comparison would need the enumeration worker to report the
// complete chain, which the sysfs-topology usbdev worker does not
// surface on this Descriptor today.
func usbPortAllowed(chains [][]int, bus int) bool {
	if len(chains) == 0 {
		return true
	}
	for _, chain := range chains {
		if len(chain) > 0 && chain[0] == bus {
			return true
		}
	}
	return false
}

// handleDevices merges physical USB devices reported by the usbdev
// worker with the configured destination networks, source network,
// and command destination.
func (s *Supervisor) handleDevices() proto.FrontendResponse {
	resp, err := s.workers.usbdev.Do(proto.WorkerRequest{Action: proto.WorkerActionListDevices}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}

	devices := make([]proto.Descriptor, 0, len(resp.Devices)+len(s.cfg.Networks)+2)
	for _, d := range resp.Devices {
		d.IsSrc = usbPortAllowed(s.cfg.USBPortAccesses.PortsSrc, d.Bus)
		d.IsDst = usbPortAllowed(s.cfg.USBPortAccesses.PortsDst, d.Bus)
		devices = append(devices, d)
	}
	for _, n := range s.cfg.Networks {
		devices = append(devices, proto.Descriptor{
			Kind: proto.DescriptorNet, IsDst: true,
			URL: n.URL, KrbServiceName: n.KrbServiceName,
			Title: n.Description, Description: n.LongDescr,
		})
	}
	if s.cfg.SourceNetwork != nil {
		n := s.cfg.SourceNetwork
		devices = append(devices, proto.Descriptor{
			Kind: proto.DescriptorNet, IsSrc: true,
			URL: n.URL, KrbServiceName: n.KrbServiceName,
			Title: n.Description, Description: n.LongDescr,
		})
	}
	if s.cfg.Command != nil {
		devices = append(devices, proto.Descriptor{
			Kind: proto.DescriptorCommand, IsDst: true,
			Bin: s.cfg.Command.CommandBin, Args: s.cfg.Command.CommandArgs,
			Title: s.cfg.Command.Description, Description: s.cfg.Command.LongDescr,
		})
	}

	s.roster = make(map[proto.DescriptorID]proto.Descriptor, len(devices))
	for i := range devices {
		devices[i].ID = descriptorID(devices[i])
		s.roster[devices[i].ID] = devices[i]
	}

	s.state = StateEnumerating
	return proto.FrontendResponse{Devices: devices}
}

func (s *Supervisor) handleUserID() proto.FrontendResponse {
	resp, err := s.workers.identificator.Do(proto.WorkerRequest{Action: proto.WorkerActionIdentify}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}
	return proto.FrontendResponse{UserID: resp.UserID}
}

// handleInitTransfer resolves the chosen source/destination
// descriptors, generates a fresh transfer id, and moves to Selecting.
func (s *Supervisor) handleInitTransfer(req proto.FrontendRequest) proto.FrontendResponse {
	src, ok := s.roster[req.SourceID]
	if !ok || !src.IsSrc {
		return proto.FrontendResponse{Error: fmt.Sprintf("unknown or non-source descriptor id %d", req.SourceID)}
	}
	dst, ok := s.roster[req.DestinationID]
	if !ok || !dst.IsDst {
		return proto.FrontendResponse{Error: fmt.Sprintf("unknown or non-destination descriptor id %d", req.DestinationID)}
	}

	id := newTransferID()
	s.transfer = &transferState{
		id:          id,
		source:      src,
		destination: dst,
		fsType:      req.FsType,
		pin:         req.Pin,
		acc:         report.New("usbsas transfer", id, src, dst),
	}
	s.state = StateSelecting
	return proto.FrontendResponse{TransferID: id}
}

// handleOpenDevice opens the selected source device for reading
// (USB) and moves to Browsing. Net and Command sources have no
// partition table to browse: they go straight to Browsing too, where
// Partitions/OpenPartition are simply not meaningful for them and the
// frontend is expected not to call them.
func (s *Supervisor) handleOpenDevice() proto.FrontendResponse {
	t := s.transfer
	if t.source.Kind == proto.DescriptorUsb {
		_, err := s.workers.scsi2files.Do(proto.WorkerRequest{
			Action: proto.WorkerActionOpenDevice, DevicePath: t.source.DevicePath,
		}, nil)
		if err != nil {
			return proto.FrontendResponse{Error: err.Error()}
		}
	}
	s.state = StateBrowsing
	return proto.FrontendResponse{}
}

func (s *Supervisor) handlePartitions() proto.FrontendResponse {
	resp, err := s.workers.scsi2files.Do(proto.WorkerRequest{Action: proto.WorkerActionPartitions}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}
	return proto.FrontendResponse{Partitions: resp.Partitions}
}

func (s *Supervisor) handleOpenPartition(req proto.FrontendRequest) proto.FrontendResponse {
	_, err := s.workers.scsi2files.Do(proto.WorkerRequest{
		Action: proto.WorkerActionOpenPartition, PartitionIndex: req.Index,
	}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}
	s.transfer.partition = req.Index
	return proto.FrontendResponse{}
}

func (s *Supervisor) handleReadDir(req proto.FrontendRequest) proto.FrontendResponse {
	resp, err := s.workers.scsi2files.Do(proto.WorkerRequest{
		Action: proto.WorkerActionReadDir, Path: req.Path,
	}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}
	return proto.FrontendResponse{Files: resp.Files}
}

func (s *Supervisor) handleGetAttr(req proto.FrontendRequest) proto.FrontendResponse {
	resp, err := s.workers.scsi2files.Do(proto.WorkerRequest{
		Action: proto.WorkerActionGetAttr, Path: req.Path,
	}, nil)
	if err != nil {
		return proto.FrontendResponse{Error: err.Error()}
	}
	return proto.FrontendResponse{Attr: resp.Attr}
}
