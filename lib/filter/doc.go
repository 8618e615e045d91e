// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter implements filename filtering: a path matches a
// filter when every one of that filter's declared directives
// (exact/start/end/contain) matches, and a path
// is filtered when any configured filter matches. Comparisons are
// case-insensitive over the full path, not just the basename.
package filter
