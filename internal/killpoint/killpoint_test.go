//go:build crashtest

package killpoint

import (
	"errors"
	"os"
	"os/exec"
	"testing"
)

func TestSetAndClear(t *testing.T) {
	Clear()
	ResetCounts()

	if got := Target(); got != "" {
		t.Errorf("Target() = %q, want empty", got)
	}
	if Armed() {
		t.Error("Armed() = true, want false")
	}

	Set("test.point:0")
	if got := Target(); got != "test.point:0" {
		t.Errorf("Target() = %q, want %q", got, "test.point:0")
	}
	if !Armed() {
		t.Error("Armed() = false, want true")
	}

	Clear()
	if got := Target(); got != "" {
		t.Errorf("Target() = %q, want empty", got)
	}
	if Armed() {
		t.Error("Armed() = true, want false")
	}
}

func TestArmDisarm(t *testing.T) {
	Clear()
	defer Clear()

	Set("test.point:0")
	Disarm()
	if Armed() {
		t.Error("expected disarmed after Disarm")
	}
	if got := Target(); got != "test.point:0" {
		t.Errorf("target cleared unexpectedly: got %q", got)
	}

	Arm()
	if !Armed() {
		t.Error("expected armed after Arm")
	}
}

func TestHitCounts(t *testing.T) {
	Clear()
	ResetCounts()
	defer Clear()

	Set("different.point")
	MaybeKill(CommitBodies1)
	MaybeKill(CommitBodies1)
	MaybeKill(HeaderWrite1)

	if got := HitCount(CommitBodies1); got != 2 {
		t.Errorf("HitCount(%s) = %d, want 2", CommitBodies1, got)
	}
	if got := HitCount(HeaderWrite1); got != 1 {
		t.Errorf("HitCount(%s) = %d, want 1", HeaderWrite1, got)
	}
	if got := HitCount("nonexistent"); got != 0 {
		t.Errorf("HitCount(nonexistent) = %d, want 0", got)
	}

	ResetCounts()
	if got := HitCount(CommitBodies1); got != 0 {
		t.Errorf("after reset, HitCount = %d, want 0", got)
	}
}

func TestMaybeKillDisarmed(t *testing.T) {
	Clear()
	ResetCounts()
	defer Clear()

	Set("test.point:0")
	Disarm()

	// Must not exit.
	MaybeKill("test.point:0")

	if got := HitCount("test.point:0"); got != 0 {
		t.Errorf("expected 0 hits when disarmed, got %d", got)
	}
}

// MaybeKill runs in a subprocess so the exit does not end this test binary.
func TestMaybeKillExitsAtTarget(t *testing.T) {
	if os.Getenv("KILLPOINT_CHILD") == "1" {
		Set("crash.now:0")
		MaybeKill("crash.now:0")
		os.Exit(1)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestMaybeKillExitsAtTarget$")
	cmd.Env = append(os.Environ(), "KILLPOINT_CHILD=1")

	var exitErr *exec.ExitError
	if err := cmd.Run(); errors.As(err, &exitErr) {
		t.Errorf("subprocess exited with code %d, want 0", exitErr.ExitCode())
	} else if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEnvVarSetsTarget(t *testing.T) {
	if os.Getenv("KILLPOINT_CHECK_ENV") == "1" {
		if Target() != "env.test:0" {
			os.Exit(2)
		}
		if !Armed() {
			os.Exit(3)
		}
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestEnvVarSetsTarget$")
	cmd.Env = append(os.Environ(), "KILLPOINT_CHECK_ENV=1", EnvVar+"=env.test:0")

	var exitErr *exec.ExitError
	if err := cmd.Run(); errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case 2:
			t.Error("subprocess: wrong target from env var")
		case 3:
			t.Error("subprocess: not armed from env var")
		default:
			t.Errorf("subprocess exited with code %d", exitErr.ExitCode())
		}
	} else if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
