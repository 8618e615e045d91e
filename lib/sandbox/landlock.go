// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// PathRule grants access to everything beneath Path. Access is a
// bitwise-OR of unix.LANDLOCK_ACCESS_FS_* constants.
type PathRule struct {
	Path   string
	Access uint64
}

// RestrictPaths installs a Landlock ruleset that denies all
// filesystem access except what rules explicitly grants, then calls
// landlock_restrict_self to apply it to the calling thread and all
// its descendants. Like the seccomp filter, this is irreversible.
//
// Used instead of (or alongside) a syscall filter by workers that
// need arbitrary-looking file I/O against a small, fixed whitelist
// of paths — the analyser, uploader, and downloader workers, which
// perform network I/O that syscall filtering alone cannot scope down
// to "only these files".
func RestrictPaths(rules []PathRule) error {
	if _, err := landlockABI(); err != nil {
		return fmt.Errorf("sandbox: landlock not available: %w", err)
	}

	var handled uint64
	for _, rule := range rules {
		handled |= rule.Access
	}

	attr := unix.LandlockRulesetAttr{Access_fs: handled}
	rulesetFd, err := createRuleset(&attr, 0)
	if err != nil {
		return fmt.Errorf("sandbox: creating landlock ruleset: %w", err)
	}
	defer unix.Close(rulesetFd)

	for _, rule := range rules {
		parentFd, err := unix.Open(rule.Path, unix.O_PATH|unix.O_CLOEXEC, 0)
		if err != nil {
			return fmt.Errorf("sandbox: opening %s for landlock rule: %w", rule.Path, err)
		}
		beneath := unix.LandlockPathBeneathAttr{
			Allowed_access: rule.Access,
			Parent_fd:      int32(parentFd),
		}
		err = addRule(rulesetFd, &beneath)
		unix.Close(parentFd)
		if err != nil {
			return fmt.Errorf("sandbox: adding landlock rule for %s: %w", rule.Path, err)
		}
	}

	if err := restrictSelf(rulesetFd); err != nil {
		return fmt.Errorf("sandbox: restricting self: %w", err)
	}
	return nil
}

// landlockABI returns the kernel's supported Landlock ABI version,
// or an error if Landlock is unavailable (kernel too old, or
// disabled by LSM config).
func landlockABI() (int, error) {
	version, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET, 0, 0, unix.LANDLOCK_CREATE_RULESET_VERSION)
	if int(version) < 0 {
		return 0, errno
	}
	return int(version), nil
}

func createRuleset(attr *unix.LandlockRulesetAttr, flags uintptr) (int, error) {
	fd, _, errno := unix.Syscall(unix.SYS_LANDLOCK_CREATE_RULESET,
		uintptr(unsafe.Pointer(attr)), unsafe.Sizeof(*attr), flags)
	if int(fd) < 0 {
		return 0, errno
	}
	unix.CloseOnExec(int(fd))
	return int(fd), nil
}

func addRule(rulesetFd int, attr *unix.LandlockPathBeneathAttr) error {
	r, _, errno := unix.Syscall6(unix.SYS_LANDLOCK_ADD_RULE,
		uintptr(rulesetFd), unix.LANDLOCK_RULE_PATH_BENEATH,
		uintptr(unsafe.Pointer(attr)), 0, 0, 0)
	if r != 0 {
		return errno
	}
	return nil
}

func restrictSelf(rulesetFd int) error {
	r, _, errno := unix.Syscall(unix.SYS_LANDLOCK_RESTRICT_SELF, uintptr(rulesetFd), 0, 0)
	if r != 0 {
		return errno
	}
	return nil
}
