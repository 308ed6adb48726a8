package supervisor

import (
	"fmt"
	"strings"

	"github.com/jobtend/jobtend/internal/jobstore"
	"golang.org/x/sys/unix"
)

// RejectedError is returned when an operation's state precondition is
// violated. It names the job, the actual state, and the state(s) the
// operation expected. The operation performs no mutation.
type RejectedError struct {
	ID       string
	Actual   jobstore.State
	Expected []jobstore.State
}

func (e RejectedError) Error() string {
	expected := make([]string, len(e.Expected))
	for i, s := range e.Expected {
		expected[i] = s.String()
	}

	return fmt.Sprintf(
		"job %s in state %s, expected %s",
		e.ID,
		e.Actual,
		strings.Join(expected, " or "),
	)
}

func NewRejectedError(
	id string,
	actual jobstore.State,
	expected ...jobstore.State,
) RejectedError {
	return RejectedError{ID: id, Actual: actual, Expected: expected}
}

// SignalError is returned when delivering a signal to a job's process
// failed. It carries the native error.
type SignalError struct {
	ID     string
	Signal unix.Signal
	Err    error
}

func (e SignalError) Error() string {
	return fmt.Sprintf(
		"failed to deliver %s to job %s: %v",
		unix.SignalName(e.Signal),
		e.ID,
		e.Err,
	)
}

func (e SignalError) Unwrap() error {
	return e.Err
}

func NewSignalError(id string, signal unix.Signal, err error) SignalError {
	return SignalError{ID: id, Signal: signal, Err: err}
}

// LaunchError is returned when a new job entry could not be created or
// its monitor could not be started.
type LaunchError struct {
	Err error
}

func (e LaunchError) Error() string {
	return fmt.Sprintf("failed to launch job: %v", e.Err)
}

func (e LaunchError) Unwrap() error {
	return e.Err
}

func NewLaunchError(err error) LaunchError {
	return LaunchError{Err: err}
}
