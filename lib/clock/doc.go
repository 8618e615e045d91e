// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for the
// analyzer's poll-for-verdict deadline and the transfer report's
// timestamp, the only two places usbsas measures wall-clock time.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now or time.Sleep directly. In production, Real()
// provides the standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type stateMachine struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	sm := &stateMachine{clock: clock.Real()}
//
// In tests, drive a poll deadline without a real sleep:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	sm := &stateMachine{clock: c}
//	go sm.poll()
//	c.WaitForTimers(1)          // wait for poll() to call Sleep
//	c.Advance(pollInterval)     // wake it deterministically
package clock
