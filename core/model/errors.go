package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown tables, robots, orders or items.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned when a request is malformed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict is returned when the target record is busy or was
	// changed concurrently.
	ErrConflict = errors.New("conflict")
	// ErrVersionConflict signals a stale write. It is retryable.
	ErrVersionConflict = fmt.Errorf("%w: version mismatch", ErrConflict)
	// ErrLocked signals that a record lock could not be taken. It is
	// retryable.
	ErrLocked = fmt.Errorf("%w: record locked", ErrConflict)
	// ErrConfiguration is returned when no robot exists at all.
	ErrConfiguration = errors.New("no robots configured for this restaurant")
	// ErrInvalidTransition is returned when a lifecycle transition is not
	// allowed from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
)

// BusyError reports that every robot is occupied. Robot is the robot the
// policy looked at last so callers can show its current action.
type BusyError struct {
	Robot Robot
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("robot %s busy, current action: %s", e.Robot.Name, e.Robot.Action)
}

func (e *BusyError) Unwrap() error { return ErrConflict }

// IsRetryable reports whether err is a transient concurrency failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrLocked)
}
