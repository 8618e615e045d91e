// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// supervisor.
//
// Configuration is loaded from a single file specified by either the
// USBSAS_CONFIG environment variable (via [Load]) or an explicit path
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides: the supervisor reads its
// configuration exactly once, at startup, and never again.
//
// Key exports:
//
//   - [Config] -- the top-level struct: OutDirectory, Networks,
//     Command, Analyzer, Report, Filters, USBPortAccesses, PostCopy
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [BinaryPath] -- resolves worker executable paths
//
// This package depends on no other usbsas packages.
package config
