// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"github.com/google/uuid"

	"github.com/usbsas/usbsas/lib/proto"
)

// newTransferID generates a fresh, session-unique transfer
// identifier. InitTransfer is the only place a TransferID is minted.
func newTransferID() proto.TransferID {
	return proto.TransferID(uuid.NewString())
}
