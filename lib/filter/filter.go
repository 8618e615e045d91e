// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"strings"

	"github.com/usbsas/usbsas/lib/proto"
)

// Set is a compiled list of filters ready to test paths against.
type Set struct {
	filters []proto.Filter
}

// New compiles filters into a Set. The supervisor builds one Set from
// configuration at startup and reuses it for every transfer.
func New(filters []proto.Filter) Set {
	return Set{filters: filters}
}

// Matches reports whether path is filtered: any filter in the set
// matches it.
func (s Set) Matches(path string) bool {
	lower := strings.ToLower(path)
	for _, f := range s.filters {
		if filterMatches(f, lower) {
			return true
		}
	}
	return false
}

// filterMatches reports whether every declared directive on f
// matches lowerPath. An empty directive array is vacuously satisfied
// (a filter with no exact entries never fails on the exact check).
// A filter with no directives at all never matches anything;
// lib/config.Validate rejects such filters at load time.
func filterMatches(f proto.Filter, lowerPath string) bool {
	if len(f.Exact) == 0 && len(f.Start) == 0 && len(f.End) == 0 && len(f.Contain) == 0 {
		return false
	}
	if !matchesAny(f.Exact, lowerPath, exact) {
		return false
	}
	if !matchesAny(f.Start, lowerPath, strings.HasPrefix) {
		return false
	}
	if !matchesAny(f.End, lowerPath, strings.HasSuffix) {
		return false
	}
	if !matchesAny(f.Contain, lowerPath, strings.Contains) {
		return false
	}
	return true
}

// matchesAny reports whether path satisfies cmp against at least one
// of directives, lowercased for a case-insensitive comparison. An
// empty directives list is vacuously true: this directive kind was
// not declared on the filter, so it imposes no constraint.
func matchesAny(directives []string, lowerPath string, cmp func(string, string) bool) bool {
	if len(directives) == 0 {
		return true
	}
	for _, directive := range directives {
		if cmp(lowerPath, strings.ToLower(directive)) {
			return true
		}
	}
	return false
}

func exact(a, b string) bool { return a == b }
