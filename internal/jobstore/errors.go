package jobstore

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound = errors.New("job not found")
)

// IncorrectStateError is returned when a job entry exists but its metadata
// is incomplete or unreadable, i.e. it lacks a readable state or pid
// record. Operations other than creation cannot proceed against such an
// entry.
type IncorrectStateError struct {
	ID     string
	Reason string
}

func (e IncorrectStateError) Error() string {
	return fmt.Sprintf("job %s has incorrect state: %s", e.ID, e.Reason)
}

func NewIncorrectStateError(id, reason string) IncorrectStateError {
	return IncorrectStateError{ID: id, Reason: reason}
}
