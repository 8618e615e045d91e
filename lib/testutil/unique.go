// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// tests need unique identifiers for transfer IDs, request IDs, or
// file paths that must be distinguishable within a single test run.
//
//	transferID := testutil.UniqueID("transfer") // "transfer-1", "transfer-2", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
