// Copyright 2026 The usbsas Authors
// SPDX-License-Identifier: Apache-2.0

package spawn

import (
	"os"
	"testing"
	"time"

	"github.com/usbsas/usbsas/lib/testutil"
)

func TestBuildEnvOnlyIncludesAllowlistedVars(t *testing.T) {
	os.Setenv("PATH", "/usr/bin")
	os.Setenv("USBSAS_MOCK_IN_DEV", "/tmp/mock-in")
	os.Setenv("SOME_OTHER_SECRET", "should-not-leak")
	defer os.Unsetenv("SOME_OTHER_SECRET")

	env := buildEnv()

	for _, entry := range env {
		if entry == "SOME_OTHER_SECRET=should-not-leak" {
			t.Fatalf("buildEnv leaked a non-allowlisted variable: %q", entry)
		}
	}

	found := false
	for _, entry := range env {
		if entry == "USBSAS_MOCK_IN_DEV=/tmp/mock-in" {
			found = true
		}
	}
	if !found {
		t.Error("expected USBSAS_MOCK_IN_DEV to be forwarded")
	}
}

func TestSpawnAndUnlock(t *testing.T) {
	child, err := Spawner{BinPath: "/bin/cat", WaitOnStartup: true}.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer child.Close()
	defer child.Cmd.Process.Kill()

	if !child.Locked() {
		t.Fatal("expected child to be locked after WaitOnStartup spawn")
	}

	if err := child.Unlock(42); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if child.Locked() {
		t.Error("expected child to be unlocked after Unlock")
	}

	if err := child.Unlock(1); err == nil {
		t.Error("expected second Unlock to fail")
	}
}

func TestSpawnPassesExplicitEnv(t *testing.T) {
	child, err := Spawner{BinPath: "/bin/cat", Env: []string{"USBSAS_TIMEOUT_UPLOAD=1m0s"}}.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer child.Close()
	defer child.Cmd.Process.Kill()

	found := false
	for _, entry := range child.Cmd.Env {
		if entry == "USBSAS_TIMEOUT_UPLOAD=1m0s" {
			found = true
		}
	}
	if !found {
		t.Error("expected explicit Env entry to be passed to the child process")
	}
}

func TestShutdownReturnsOnceProcessExitsOnItsOwn(t *testing.T) {
	child, err := Spawner{BinPath: "/bin/cat"}.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- child.Shutdown(2 * time.Second) }()

	if err := testutil.RequireReceive(t, done, 5*time.Second, "Shutdown did not return after the child's pipes were closed"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestShutdownKillsAnUnresponsiveProcess(t *testing.T) {
	child, err := Spawner{BinPath: "/bin/sleep", Args: []string{"300"}}.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- child.Shutdown(50 * time.Millisecond) }()

	testutil.RequireReceive(t, done, 5*time.Second, "Shutdown did not escalate to killing an unresponsive process in time")
}

func TestSpawnWithoutWaitOnStartupIsNotLocked(t *testing.T) {
	child, err := Spawner{BinPath: "/bin/cat"}.Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer child.Close()
	defer child.Cmd.Process.Kill()

	if child.Locked() {
		t.Error("expected child not to be locked without WaitOnStartup")
	}
	if err := child.Unlock(1); err == nil {
		t.Error("expected Unlock to fail on an unlocked child")
	}
}
