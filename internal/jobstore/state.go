package jobstore

import "fmt"

type State int

const (
	// StateUnknown indicates the state of the job is unknown. It's used as
	// the zero value for functions that return a (possibly absent) State.
	StateUnknown State = iota

	// StateNew indicates the job's entry has been created but the monitor
	// has not yet started the wrapped process.
	StateNew

	// StateRunning indicates the wrapped process has started and has not
	// yet terminated.
	StateRunning

	// StateSuspended indicates the wrapped process has been stopped by a
	// suspend operation and can be resumed.
	StateSuspended

	// StateDone indicates the wrapped process exited with code zero.
	StateDone

	// StateFailed indicates the wrapped process exited with a non-zero
	// code, was killed by a signal outside of a cancel, or could not be
	// started at all.
	StateFailed

	// StateCanceled indicates the wrapped process was terminated by a
	// cancel operation.
	StateCanceled
)

// NOTE: This slice needs to be kept in sync with any changes to the State
// values. The names are the on-disk representation, so they can only ever
// be appended to.
var stateNames = []string{
	"UNKNOWN",
	"NEW",
	"RUNNING",
	"SUSPENDED",
	"DONE",
	"FAILED",
	"CANCELED",
}

// String implements the Stringer interface for State and returns the
// canonical name persisted in a job entry's state record.
func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return stateNames[0]
	}

	return stateNames[s]
}

// ParseState converts a persisted state name back to a State. Unrecognised
// names return an error rather than StateUnknown so that a corrupt state
// record is surfaced instead of silently treated as a valid value.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if i != 0 && n == name {
			return State(i), nil
		}
	}

	return StateUnknown, fmt.Errorf("unrecognised job state %q", name)
}

// Terminal reports whether s is one of the terminal states. No operation
// moves a job out of a terminal state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCanceled
}
