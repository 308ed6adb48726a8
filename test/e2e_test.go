//go:build e2e

package e2e_test

import (
	"encoding/base64"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type testEnv struct {
	binDir   string
	storeDir string
	cliPath  string
	mondPath string
}

// NOTE: Relative paths are used to determine the source locations to
// build the CLI and monitor binaries. Running this test from anywhere
// that breaks those relative paths will not work.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		binDir:   t.TempDir(),
		storeDir: t.TempDir(),
	}

	env.cliPath = filepath.Join(env.binDir, "jobtend")

	buildCLI := exec.Command("go", "build", "-o", env.cliPath, "../cmd/jobtend")

	if output, err := buildCLI.CombinedOutput(); err != nil {
		t.Fatalf("failed to build CLI binary: '%v' (output: '%s')", err, output)
	}

	env.mondPath = filepath.Join(env.binDir, "jobmond")

	buildMond := exec.Command("go", "build", "-o", env.mondPath, "../cmd/jobmond")

	if output, err := buildMond.CombinedOutput(); err != nil {
		t.Fatalf(
			"failed to build monitor binary: '%v' (output: '%s')",
			err,
			output,
		)
	}

	return env
}

func (e *testEnv) cli(t *testing.T, args ...string) (string, error) {
	t.Helper()

	fullArgs := append(
		[]string{"--store-dir", e.storeDir, "--monitor-bin", e.mondPath},
		args...,
	)

	output, err := exec.Command(e.cliPath, fullArgs...).CombinedOutput()

	return strings.TrimSpace(string(output)), err
}

func (e *testEnv) mustCLI(t *testing.T, args ...string) string {
	t.Helper()

	output, err := e.cli(t, args...)
	if err != nil {
		t.Fatalf(
			"expected not to receive error: got '%v' (output: '%s')",
			err,
			output,
		)
	}

	return output
}

func (e *testEnv) waitForState(t *testing.T, id, want string) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)

	for time.Now().Before(deadline) {
		if state, err := e.cli(t, "state", id); err == nil && state == want {
			return
		}

		time.Sleep(50 * time.Millisecond)
	}

	state, _ := e.cli(t, "state", id)
	t.Fatalf("expected state: got '%s', want '%s'", state, want)
}

func TestJobLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("Test successful job reaches DONE", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sh", "-c", "exit 0")

		env.waitForState(t, id, "DONE")
	})

	t.Run("Test failing job reaches FAILED", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sh", "-c", "exit 3")

		env.waitForState(t, id, "FAILED")
	})

	t.Run("Test output capture and encoding", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sh", "-c", "echo out; echo err >&2")

		env.waitForState(t, id, "DONE")

		encoded := env.mustCLI(t, "stdout", id)

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatalf("expected not to receive error: got '%v'", err)
		}

		if string(decoded) != "out\n" {
			t.Errorf("expected stdout: got '%q'", decoded)
		}

		raw := env.mustCLI(t, "stderr", "--raw", id)
		if raw != "err" {
			t.Errorf("expected stderr: got '%q'", raw)
		}
	})

	t.Run("Test stdin is delivered in order", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sh", "-c", "sleep 1; cat")

		env.mustCLI(t, "stdin", id, "first")
		env.mustCLI(t, "stdin", id, "second")

		env.waitForState(t, id, "DONE")

		raw := env.mustCLI(t, "stdout", "--raw", id)
		if raw != "first\nsecond" {
			t.Errorf("expected stdout: got '%q'", raw)
		}
	})

	t.Run("Test suspend, resume, cancel", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sleep", "100")

		env.waitForState(t, id, "RUNNING")

		env.mustCLI(t, "suspend", id)
		env.waitForState(t, id, "SUSPENDED")

		// Suspending a job that isn't RUNNING is rejected.
		if output, err := env.cli(t, "suspend", id); err == nil {
			t.Errorf("expected to receive error: got '%s'", output)
		}

		env.mustCLI(t, "resume", id)
		env.waitForState(t, id, "RUNNING")

		env.mustCLI(t, "cancel", id)
		env.waitForState(t, id, "CANCELED")
	})

	t.Run("Test cancel of suspended job", func(t *testing.T) {
		id := env.mustCLI(t, "run", "/bin/sleep", "100")

		env.waitForState(t, id, "RUNNING")

		env.mustCLI(t, "suspend", id)
		env.waitForState(t, id, "SUSPENDED")

		env.mustCLI(t, "cancel", id)
		env.waitForState(t, id, "CANCELED")
	})

	t.Run("Test operations on unknown job", func(t *testing.T) {
		for _, op := range []string{"state", "suspend", "resume", "cancel"} {
			if output, err := env.cli(t, op, "no-such-job"); err == nil {
				t.Errorf("expected '%s' to error: got '%s'", op, output)
			}
		}
	})

	t.Run("Test list and purge", func(t *testing.T) {
		running := env.mustCLI(t, "run", "/bin/sleep", "100")
		env.waitForState(t, running, "RUNNING")

		finished := env.mustCLI(t, "run", "/bin/sh", "-c", "exit 0")
		env.waitForState(t, finished, "DONE")

		listed := env.mustCLI(t, "list")
		if !strings.Contains(listed, running) || !strings.Contains(listed, finished) {
			t.Errorf("expected both jobs listed: got '%s'", listed)
		}

		// Purge without an id removes only terminal entries.
		env.mustCLI(t, "purge")

		listed = env.mustCLI(t, "list")
		if strings.Contains(listed, finished) {
			t.Errorf("expected finished job to be purged: got '%s'", listed)
		}
		if !strings.Contains(listed, running) {
			t.Errorf("expected running job to remain: got '%s'", listed)
		}

		// Purge with an id removes unconditionally.
		env.mustCLI(t, "purge", running)

		listed = env.mustCLI(t, "list")
		if strings.Contains(listed, running) {
			t.Errorf("expected running job to be purged by id: got '%s'", listed)
		}
	})
}
