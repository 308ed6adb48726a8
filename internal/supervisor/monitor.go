package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/jobtend/jobtend/internal/jobstore"
	"github.com/jobtend/jobtend/internal/supervisor/capture"
	"golang.org/x/sys/unix"
)

// exitCannotStart is recorded when the wrapped process could not be
// started at all, matching the shell convention for an unrunnable
// command.
const exitCannotStart = 127

// Monitor is the per-job watcher. It runs detached from the launching
// session, spawns the wrapped process, waits for its true termination,
// and finalises the terminal state in the job's store entry.
//
// If the Monitor itself dies before observing termination, the entry is
// left in whatever state it last recorded. That is an accepted
// limitation, not masked.
type Monitor struct {
	store        *jobstore.Store
	id           string
	captureLimit int64
	logger       *slog.Logger
}

// NewMonitor creates a Monitor for the job id in store.
func NewMonitor(
	store *jobstore.Store,
	id string,
	captureLimit int64,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		store:        store,
		id:           id,
		captureLimit: captureLimit,
		logger:       logger,
	}
}

// Run executes the job to completion: start the wrapped process in its
// own session, persist its pid, set the state to RUNNING, wait out
// suspend/resume cycles, and finalise the terminal state. It returns once
// the entry holds a terminal state.
func (m *Monitor) Run() error {
	argv, err := m.store.Command(m.id)
	if err != nil {
		return err
	}
	if len(argv) == 0 {
		return m.failToStart(fmt.Errorf("entry has empty command record"))
	}

	stdin, err := os.Open(m.store.StdinPath(m.id))
	if err != nil {
		return m.failToStart(err)
	}
	defer stdin.Close()

	stdout, err := openCapture(m.store.StdoutPath(m.id))
	if err != nil {
		return m.failToStart(err)
	}

	stderr, err := openCapture(m.store.StderrPath(m.id))
	if err != nil {
		stdout.Close()
		return m.failToStart(err)
	}

	outReader, outWriter, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return m.failToStart(err)
	}

	errReader, errWriter, err := os.Pipe()
	if err != nil {
		outReader.Close()
		outWriter.Close()
		stdout.Close()
		stderr.Close()
		return m.failToStart(err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = outWriter
	cmd.Stderr = errWriter

	// The wrapped process gets its own session so it survives a monitor
	// restart and can be signalled as a whole process group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err = cmd.Start()

	// The child holds its own copies of the pipe write ends; the parent
	// ends must close so the drains see EOF on process exit.
	outWriter.Close()
	errWriter.Close()

	if err != nil {
		outReader.Close()
		errReader.Close()
		stdout.Close()
		stderr.Close()
		return m.failToStart(err)
	}

	pid := cmd.Process.Pid

	// There is an unavoidable window between the process starting, the
	// pid being persisted, and the state becoming RUNNING. The store is
	// not transactional; the window is kept minimal, not closed.
	if err := m.store.SetPID(m.id, pid); err != nil {
		return err
	}

	if err := m.store.SetState(m.id, jobstore.StateRunning); err != nil {
		return err
	}

	m.logger.Info("job started", "id", m.id, "pid", pid)

	outCapture := capture.NewWriter(stdout, m.captureLimit)
	errCapture := capture.NewWriter(stderr, m.captureLimit)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer outReader.Close()

		if err := capture.Drain(outReader, outCapture); err != nil {
			m.logger.Warn("stdout capture", "id", m.id, "err", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer errReader.Close()

		if err := capture.Drain(errReader, errCapture); err != nil {
			m.logger.Warn("stderr capture", "id", m.id, "err", err)
		}
	}()

	status, err := m.wait(pid)
	if err != nil {
		return fmt.Errorf("failed to wait for job process: %w", err)
	}

	wg.Wait()

	outCapture.Close()
	errCapture.Close()

	if outCapture.Truncated() || errCapture.Truncated() {
		m.logger.Warn(
			"output capture truncated",
			"id", m.id,
			"limit_bytes", m.captureLimit,
		)
	}

	return m.finalize(status)
}

// wait blocks until the wrapped process truly terminates. Waiting with
// WUNTRACED and WCONTINUED makes the kernel report stop and continue
// transitions distinctly from exit, so a suspend administered by a
// concurrent control operation re-enters the loop instead of being
// mistaken for termination.
func (m *Monitor) wait(pid int) (unix.WaitStatus, error) {
	var status unix.WaitStatus

	for {
		_, err := unix.Wait4(pid, &status, unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return status, err
		}

		switch {
		case status.Stopped():
			m.logger.Debug("job stopped", "id", m.id, "pid", pid)
		case status.Continued():
			m.logger.Debug("job continued", "id", m.id, "pid", pid)
		default:
			return status, nil
		}
	}
}

// finalize persists the terminal state under the entry lock. A canceled
// marker overrides the exit-code-derived state; the exit code itself is
// recorded only on a non-canceled termination.
func (m *Monitor) finalize(status unix.WaitStatus) error {
	unlock, err := m.store.Lock(m.id)
	if err != nil {
		return err
	}
	defer unlock()

	// A suspend stash can survive a job killed while stopped.
	if err := m.store.ClearSuspended(m.id); err != nil {
		m.logger.Warn("clear suspended marker", "id", m.id, "err", err)
	}

	if m.store.Canceled(m.id) {
		if err := m.store.SetState(m.id, jobstore.StateCanceled); err != nil {
			return err
		}

		if err := m.store.ClearCanceled(m.id); err != nil {
			return err
		}

		m.logger.Info("job canceled", "id", m.id)

		return nil
	}

	code := exitCode(status)

	if err := m.store.SetExitCode(m.id, code); err != nil {
		return err
	}

	state := jobstore.StateDone
	if code != 0 {
		state = jobstore.StateFailed
	}

	if err := m.store.SetState(m.id, state); err != nil {
		return err
	}

	m.logger.Info("job finished", "id", m.id, "state", state, "exit_code", code)

	return nil
}

// failToStart finalises an entry whose wrapped process never ran. A pid
// of zero is recorded to complete the entry's metadata; no signal is ever
// delivered to it because the state is already terminal.
func (m *Monitor) failToStart(cause error) error {
	m.logger.Error("failed to start job process", "id", m.id, "err", cause)

	if err := m.store.SetPID(m.id, 0); err != nil {
		return err
	}

	if err := m.store.SetExitCode(m.id, exitCannotStart); err != nil {
		return err
	}

	if err := m.store.SetState(m.id, jobstore.StateFailed); err != nil {
		return err
	}

	return fmt.Errorf("failed to start job process: %w", cause)
}

// exitCode maps a wait status to the recorded exit code, using the shell
// convention of 128+signum for signal deaths.
func exitCode(status unix.WaitStatus) int {
	if status.Exited() {
		return status.ExitStatus()
	}

	if status.Signaled() {
		return 128 + int(status.Signal())
	}

	return -1
}

func openCapture(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
}
