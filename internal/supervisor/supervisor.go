package supervisor

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	"github.com/jobtend/jobtend/internal/jobstore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// Supervisor is responsible for launching jobs and applying control
// operations to them through their store entries.
type Supervisor struct {
	store        *jobstore.Store
	monitorBin   string
	captureLimit int64
	logger       *slog.Logger
}

// New creates a Supervisor using the given store, the path of the monitor
// binary to launch per job, and the per-stream output capture limit in
// bytes (zero or less for unbounded).
func New(
	store *jobstore.Store,
	monitorBin string,
	captureLimit int64,
	logger *slog.Logger,
) *Supervisor {
	return &Supervisor{
		store:        store,
		monitorBin:   monitorBin,
		captureLimit: captureLimit,
		logger:       logger,
	}
}

// Run creates a new job entry for argv and starts its monitor fully
// detached, in a fresh session, so it survives the caller's process and
// session. It returns the job id as soon as the monitor has been started;
// it never waits for job progress. Callers poll State to observe the
// job's lifecycle.
func (s *Supervisor) Run(argv []string) (string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return "", fmt.Errorf("program cannot be empty")
	}

	id := uuid.NewString()

	if err := s.store.Create(id, argv); err != nil {
		return "", NewLaunchError(err)
	}

	logPath := filepath.Join(s.store.EntryDir(id), jobstore.MonitorLogFile)

	logFile, err := os.OpenFile(
		logPath,
		os.O_WRONLY|os.O_CREATE|os.O_APPEND,
		0o600,
	)
	if err != nil {
		s.store.Remove(id)
		return "", NewLaunchError(err)
	}
	defer logFile.Close()

	cmd := exec.Command(
		s.monitorBin,
		"--store-dir", s.store.Dir(),
		"--job-id", id,
		"--max-capture-bytes", strconv.FormatInt(s.captureLimit, 10),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		s.store.Remove(id)
		return "", NewLaunchError(err)
	}

	// The monitor reparents to init when this process exits; release the
	// handle rather than leaving an unreaped child entry behind.
	monitorPid := cmd.Process.Pid
	cmd.Process.Release()

	s.logger.Debug("monitor detached", "id", id, "monitor_pid", monitorPid)

	return id, nil
}

// State returns the persisted state of the job.
func (s *Supervisor) State(id string) (jobstore.State, error) {
	if err := s.store.Verify(id); err != nil {
		return jobstore.StateUnknown, err
	}

	return s.store.State(id)
}

// Suspend stops a RUNNING job's process, stashing the pre-suspend state
// for resume. Trying to suspend a job in any other state returns a
// RejectedError and mutates nothing.
func (s *Supervisor) Suspend(id string) error {
	unlock, err := s.lockVerified(id)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.store.State(id)
	if err != nil {
		return err
	}

	if state != jobstore.StateRunning {
		return NewRejectedError(id, state, jobstore.StateRunning)
	}

	pid, err := s.store.PID(id)
	if err != nil {
		return err
	}

	if err := s.store.SetSuspended(id, state); err != nil {
		return err
	}

	if err := signalGroup(pid, unix.SIGSTOP); err != nil {
		s.store.ClearSuspended(id)
		return NewSignalError(id, unix.SIGSTOP, err)
	}

	s.logger.Debug("job suspended", "id", id, "pid", pid)

	return s.store.SetState(id, jobstore.StateSuspended)
}

// Resume continues a SUSPENDED job's process and restores the stashed
// state. Trying to resume a job in any other state returns a
// RejectedError and mutates nothing.
func (s *Supervisor) Resume(id string) error {
	unlock, err := s.lockVerified(id)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.store.State(id)
	if err != nil {
		return err
	}

	if state != jobstore.StateSuspended {
		return NewRejectedError(id, state, jobstore.StateSuspended)
	}

	pid, err := s.store.PID(id)
	if err != nil {
		return err
	}

	prev, ok, err := s.store.Suspended(id)
	if err != nil || !ok {
		// The stash is advisory; a job that was suspended can only have
		// been RUNNING before.
		prev = jobstore.StateRunning
	}

	if err := signalGroup(pid, unix.SIGCONT); err != nil {
		return NewSignalError(id, unix.SIGCONT, err)
	}

	if err := s.store.SetState(id, prev); err != nil {
		return err
	}

	s.logger.Debug("job resumed", "id", id, "pid", pid)

	return s.store.ClearSuspended(id)
}

// Cancel forcefully terminates a RUNNING or SUSPENDED job's process. The
// terminal CANCELED state is finalised by the job's monitor once it
// observes the termination, not by Cancel itself, so callers poll State
// for completion.
func (s *Supervisor) Cancel(id string) error {
	unlock, err := s.lockVerified(id)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := s.store.State(id)
	if err != nil {
		return err
	}

	if state != jobstore.StateRunning && state != jobstore.StateSuspended {
		return NewRejectedError(
			id,
			state,
			jobstore.StateRunning,
			jobstore.StateSuspended,
		)
	}

	pid, err := s.store.PID(id)
	if err != nil {
		return err
	}

	if err := s.store.SetCanceled(id); err != nil {
		return err
	}

	// SIGKILL terminates a stopped process too, so a SUSPENDED job needs
	// no SIGCONT first.
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		// Roll the marker back so a later successful retry is not misread
		// as already-canceled.
		s.store.ClearCanceled(id)
		return NewSignalError(id, unix.SIGKILL, err)
	}

	s.logger.Debug("job canceled", "id", id, "pid", pid)

	return nil
}

// Stdin appends data to the job's stdin buffer in submission order. The
// wrapped process's input stream was opened once at launch, so a process
// that has already consumed to end-of-stream will not observe bytes
// appended afterwards.
func (s *Supervisor) Stdin(id string, data []byte) error {
	if !s.store.Exists(id) {
		return fmt.Errorf("job %s: %w", id, jobstore.ErrJobNotFound)
	}

	return s.store.AppendStdin(id, data)
}

// Stdout returns the full accumulated stdout capture, base64-encoded for
// transport over a text-only control channel.
func (s *Supervisor) Stdout(id string) (string, error) {
	if !s.store.Exists(id) {
		return "", fmt.Errorf("job %s: %w", id, jobstore.ErrJobNotFound)
	}

	data, err := s.store.ReadStdout(id)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// Stderr returns the full accumulated stderr capture, base64-encoded for
// transport over a text-only control channel.
func (s *Supervisor) Stderr(id string) (string, error) {
	if !s.store.Exists(id) {
		return "", fmt.Errorf("job %s: %w", id, jobstore.ErrJobNotFound)
	}

	data, err := s.store.ReadStderr(id)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// List returns the ids of all jobs with live entries, regardless of
// state, in lexical order.
func (s *Supervisor) List() ([]string, error) {
	ids, err := s.store.List()
	if err != nil {
		return nil, err
	}

	slices.Sort(ids)

	return ids, nil
}

// Purge unconditionally removes the entry for id, whatever its state.
func (s *Supervisor) Purge(id string) error {
	if !s.store.Exists(id) {
		return fmt.Errorf("job %s: %w", id, jobstore.ErrJobNotFound)
	}

	return s.store.Remove(id)
}

// PurgeTerminal removes every entry currently in a terminal state (DONE,
// FAILED, CANCELED) and leaves all others untouched.
func (s *Supervisor) PurgeTerminal() error {
	ids, err := s.store.List()
	if err != nil {
		return err
	}

	var g errgroup.Group

	for _, id := range ids {
		id := id
		g.Go(func() error {
			unlock, err := s.store.Lock(id)
			if err != nil {
				// Entry disappeared under us; nothing left to purge.
				return nil
			}
			defer unlock()

			state, err := s.store.State(id)
			if err != nil {
				// Incomplete entries are left untouched.
				return nil
			}

			if !state.Terminal() {
				return nil
			}

			return s.store.Remove(id)
		})
	}

	return g.Wait()
}

// lockVerified takes the per-entry lock and verifies the entry is
// complete, returning the unlock function.
func (s *Supervisor) lockVerified(id string) (func(), error) {
	if !s.store.Exists(id) {
		return nil, fmt.Errorf("job %s: %w", id, jobstore.ErrJobNotFound)
	}

	unlock, err := s.store.Lock(id)
	if err != nil {
		return nil, err
	}

	if err := s.store.Verify(id); err != nil {
		unlock()
		return nil, err
	}

	return unlock, nil
}

// signalGroup delivers sig to the process group led by pid. The wrapped
// process is started as a session (and so group) leader, so this reaches
// any children it spawned as well.
func signalGroup(pid int, sig unix.Signal) error {
	return unix.Kill(-pid, sig)
}
