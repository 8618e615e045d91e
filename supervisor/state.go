// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "github.com/usbsas/usbsas/lib/proto"

// State is one of the top-level transfer states:
// Idle -> Enumerating -> Selecting -> Browsing -> Transferring ->
// Reporting -> Done, with side branches Idle -> Imaging -> Done and
// Idle -> Wiping -> Done.
type State string

const (
	StateIdle         State = "idle"
	StateEnumerating  State = "enumerating"
	StateSelecting    State = "selecting"
	StateBrowsing     State = "browsing"
	StateTransferring State = "transferring"
	StateReporting    State = "reporting"
	StateImaging      State = "imaging"
	StateWiping       State = "wiping"
	StateDone         State = "done"
)

// allowedActions lists, for each state, which frontend actions may be
// dispatched. ActionEnd is always legal and is not repeated here.
var allowedActions = map[State]map[proto.FrontendAction]bool{
	StateIdle: {
		proto.ActionDevices: true,
		proto.ActionUserId:  true,
		proto.ActionImgDisk: true,
		proto.ActionWipe:    true,
	},
	StateEnumerating: {
		proto.ActionDevices:      true,
		proto.ActionUserId:       true,
		proto.ActionInitTransfer: true,
	},
	StateSelecting: {
		proto.ActionOpenDevice: true,
	},
	StateBrowsing: {
		proto.ActionPartitions:    true,
		proto.ActionOpenPartition: true,
		proto.ActionReadDir:       true,
		proto.ActionGetAttr:       true,
		proto.ActionSelectFiles:   true,
	},
	StateReporting: {
		proto.ActionReport: true,
	},
	StateDone: {
		proto.ActionDevices: true,
		proto.ActionUserId:  true,
	},
}

// actionAllowed reports whether action may be dispatched while in
// state. Transferring/Imaging/Wiping never appear as a resting state
// observed by the dispatch loop: the handler that enters them runs
// the whole pipeline synchronously and leaves in Reporting/Done
// before returning, so no table entry is needed for them.
func actionAllowed(state State, action proto.FrontendAction) bool {
	if action == proto.ActionEnd {
		return true
	}
	return allowedActions[state][action]
}
