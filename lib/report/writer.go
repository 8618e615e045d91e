// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/usbsas/usbsas/lib/proto"
)

// WriteLocal writes r as pretty-printed JSON to exactly path; it does
// not choose a file name. It corresponds to the ReportConfig.WriteLocal
// destination: a copy kept on the machine running the supervisor,
// independent of whatever lands on the destination device.
func WriteLocal(r proto.TransferReport, path string) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	return nil
}

// Encode returns r as pretty-printed JSON; [WriteLocal] writes these
// bytes to its file.
func Encode(r proto.TransferReport) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: encoding: %w", err)
	}
	return data, nil
}
