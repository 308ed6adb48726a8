// Package jobstore provides the durable, filesystem-addressed record of a
// job's metadata and I/O. An entry is one directory per job id holding one
// flat file per attribute, so that the launcher, the monitor, and control
// operations, which all run in independent processes, share a single
// source of truth that outlives any of them.
package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Entry record filenames. One flat file per attribute; presence of the
// marker files is itself the flag.
const (
	cmdFile       = "cmd"
	stateFile     = "state"
	pidFile       = "pid"
	exitFile      = "exit"
	stdinFile     = "in"
	stdoutFile    = "out"
	stderrFile    = "err"
	suspendedFile = "suspended"
	canceledFile  = "canceled"
	lockFile      = "lock"

	// MonitorLogFile is the per-entry file the monitor's own structured
	// logs are written to.
	MonitorLogFile = "monitor.log"
)

// Store persists job entries under a single base directory. The base
// directory is fixed at construction.
type Store struct {
	dir string
}

// New creates a Store rooted at dir, creating the directory if needed.
// Inability to create or access the base directory is fatal for the
// service and must abort initialisation.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &Store{dir: dir}, nil
}

// Dir returns the base directory of the Store.
func (s *Store) Dir() string {
	return s.dir
}

// EntryDir returns the directory holding the entry for id.
func (s *Store) EntryDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *Store) record(id, name string) string {
	return filepath.Join(s.dir, id, name)
}

// Create initialises a fresh entry for id with state NEW, the given argv,
// and empty stdin/stdout/stderr records. Any stale entry at the same id is
// reset first.
func (s *Store) Create(id string, argv []string) error {
	dir := s.EntryDir(id)

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to reset stale entry: %w", err)
	}

	if err := os.Mkdir(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}

	cmd, err := json.Marshal(argv)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	if err := os.WriteFile(s.record(id, cmdFile), cmd, 0o600); err != nil {
		return fmt.Errorf("failed to write command record: %w", err)
	}

	for _, name := range []string{stdinFile, stdoutFile, stderrFile} {
		if err := os.WriteFile(s.record(id, name), nil, 0o600); err != nil {
			return fmt.Errorf("failed to create %s record: %w", name, err)
		}
	}

	return s.SetState(id, StateNew)
}

// Exists reports whether an entry for id exists at all, without checking
// that its metadata is complete.
func (s *Store) Exists(id string) bool {
	info, err := os.Stat(s.EntryDir(id))
	return err == nil && info.IsDir()
}

// Verify checks that the entry for id exists and is complete enough to
// operate on: both a state and a pid record must be present and readable.
// It returns ErrJobNotFound or an IncorrectStateError otherwise. Every
// operation except creation calls this first.
func (s *Store) Verify(id string) error {
	if !s.Exists(id) {
		return fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}

	if _, err := s.State(id); err != nil {
		return NewIncorrectStateError(id, "unreadable state record")
	}

	if _, err := s.PID(id); err != nil {
		return NewIncorrectStateError(id, "unreadable pid record")
	}

	return nil
}

// Command returns the argv the entry was created with.
func (s *Store) Command(id string) ([]string, error) {
	data, err := os.ReadFile(s.record(id, cmdFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read command record: %w", err)
	}

	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return nil, fmt.Errorf("failed to decode command record: %w", err)
	}

	return argv, nil
}

// State returns the persisted state of the entry.
func (s *Store) State(id string) (State, error) {
	data, err := os.ReadFile(s.record(id, stateFile))
	if err != nil {
		return StateUnknown, fmt.Errorf("failed to read state record: %w", err)
	}

	return ParseState(strings.TrimSpace(string(data)))
}

// SetState persists the state of the entry.
func (s *Store) SetState(id string, state State) error {
	data := []byte(state.String() + "\n")

	if err := os.WriteFile(s.record(id, stateFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to write state record: %w", err)
	}

	return nil
}

// PID returns the recorded process id of the wrapped process.
func (s *Store) PID(id string) (int, error) {
	return s.intRecord(id, pidFile)
}

// SetPID records the process id of the wrapped process. It is written once
// by the monitor and never replaced.
func (s *Store) SetPID(id string, pid int) error {
	return s.setIntRecord(id, pidFile, pid)
}

// ExitCode returns the recorded exit code of the wrapped process.
func (s *Store) ExitCode(id string) (int, error) {
	return s.intRecord(id, exitFile)
}

// SetExitCode records the exit code. It is written once by the monitor,
// and only on a true (non-signal-interrupted) termination.
func (s *Store) SetExitCode(id string, code int) error {
	return s.setIntRecord(id, exitFile, code)
}

func (s *Store) intRecord(id, name string) (int, error) {
	data, err := os.ReadFile(s.record(id, name))
	if err != nil {
		return 0, fmt.Errorf("failed to read %s record: %w", name, err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s record: %w", name, err)
	}

	return n, nil
}

func (s *Store) setIntRecord(id, name string, n int) error {
	data := []byte(strconv.Itoa(n) + "\n")

	if err := os.WriteFile(s.record(id, name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s record: %w", name, err)
	}

	return nil
}

// SetSuspended sets the suspended marker, stashing prev as the state to
// restore on resume.
func (s *Store) SetSuspended(id string, prev State) error {
	data := []byte(prev.String() + "\n")

	if err := os.WriteFile(s.record(id, suspendedFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to set suspended marker: %w", err)
	}

	return nil
}

// Suspended reports whether the suspended marker is set and, if so, the
// stashed pre-suspend state.
func (s *Store) Suspended(id string) (State, bool, error) {
	data, err := os.ReadFile(s.record(id, suspendedFile))
	if os.IsNotExist(err) {
		return StateUnknown, false, nil
	}
	if err != nil {
		return StateUnknown, false, fmt.Errorf("failed to read suspended marker: %w", err)
	}

	state, err := ParseState(strings.TrimSpace(string(data)))
	if err != nil {
		return StateUnknown, true, err
	}

	return state, true, nil
}

// ClearSuspended removes the suspended marker. Clearing an absent marker
// is not an error.
func (s *Store) ClearSuspended(id string) error {
	if err := os.Remove(s.record(id, suspendedFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear suspended marker: %w", err)
	}

	return nil
}

// SetCanceled sets the canceled marker.
func (s *Store) SetCanceled(id string) error {
	if err := os.WriteFile(s.record(id, canceledFile), nil, 0o600); err != nil {
		return fmt.Errorf("failed to set canceled marker: %w", err)
	}

	return nil
}

// Canceled reports whether the canceled marker is set.
func (s *Store) Canceled(id string) bool {
	_, err := os.Stat(s.record(id, canceledFile))
	return err == nil
}

// ClearCanceled removes the canceled marker. Clearing an absent marker is
// not an error.
func (s *Store) ClearCanceled(id string) error {
	if err := os.Remove(s.record(id, canceledFile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear canceled marker: %w", err)
	}

	return nil
}

// AppendStdin appends data to the entry's stdin buffer. The wrapped
// process reads the buffer as a regular file, so bytes appended after it
// has consumed to end-of-stream are not observed by it.
func (s *Store) AppendStdin(id string, data []byte) error {
	f, err := os.OpenFile(
		s.record(id, stdinFile),
		os.O_WRONLY|os.O_APPEND|os.O_CREATE,
		0o600,
	)
	if err != nil {
		return fmt.Errorf("failed to open stdin record: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to append to stdin record: %w", err)
	}

	return nil
}

// StdinPath returns the path of the stdin buffer for binding as the
// wrapped process's standard input.
func (s *Store) StdinPath(id string) string {
	return s.record(id, stdinFile)
}

// StdoutPath returns the path of the stdout capture.
func (s *Store) StdoutPath(id string) string {
	return s.record(id, stdoutFile)
}

// StderrPath returns the path of the stderr capture.
func (s *Store) StderrPath(id string) string {
	return s.record(id, stderrFile)
}

// ReadStdout returns the full accumulated stdout capture.
func (s *Store) ReadStdout(id string) ([]byte, error) {
	return os.ReadFile(s.record(id, stdoutFile))
}

// ReadStderr returns the full accumulated stderr capture.
func (s *Store) ReadStderr(id string) ([]byte, error) {
	return os.ReadFile(s.record(id, stderrFile))
}

// List returns the ids of all existing entries, regardless of state.
func (s *Store) List() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	ids := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() {
			ids = append(ids, d.Name())
		}
	}

	return ids, nil
}

// Remove deletes the entry for id. It is the only operation that removes
// an entry.
func (s *Store) Remove(id string) error {
	if err := os.RemoveAll(s.EntryDir(id)); err != nil {
		return fmt.Errorf("failed to remove entry: %w", err)
	}

	return nil
}

// Lock takes a blocking exclusive advisory lock on the entry, serialising
// mutation between control operations and the monitor. It returns the
// function that releases the lock.
func (s *Store) Lock(id string) (func(), error) {
	f, err := os.OpenFile(s.record(id, lockFile), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock record: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to lock entry: %w", err)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
