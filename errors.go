package seedmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSlot is returned by Render when the seed has no active slot.
	ErrNoSlot = errors.New("seed has no active slot")

	// ErrNotReady is returned by Render until every shared array has been
	// populated by Setup.
	ErrNotReady = errors.New("shared textures not populated")

	// ErrNoSurface is returned when the output surface is read before any
	// render or after its bitmap was transferred.
	ErrNoSurface = errors.New("no output surface")

	// ErrClosed is returned by a closed manager.
	ErrClosed = errors.New("manager closed")
)

// ValidationError reports a malformed texture source or setup argument.
type ValidationError struct {
	Subsystem string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid: %s", e.Subsystem, e.Reason)
}

func validationErrorf(subsystem, format string, args ...any) error {
	return &ValidationError{Subsystem: subsystem, Reason: fmt.Sprintf(format, args...)}
}

// ResourceError reports a rendering context failure. The manager that
// returned it must be discarded and rebuilt.
type ResourceError struct {
	Stage string
	Err   error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource: %s failed: %v", e.Stage, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// RuntimeError reports a recoverable failure of a single operation.
type RuntimeError struct {
	Subsystem string
	Err       error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Subsystem, e.Err)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// SubsystemError tags an error with the subsystem it came from.
type SubsystemError struct {
	Subsystem string
	Err       error
}

func (e *SubsystemError) Error() string {
	return fmt.Sprintf("[%s] %v", e.Subsystem, e.Err)
}

func (e *SubsystemError) Unwrap() error { return e.Err }

// Annotate tags err with a subsystem name. It returns nil for a nil error
// and does not tag an error twice.
func Annotate(subsystem string, err error) error {
	if err == nil {
		return nil
	}
	var se *SubsystemError
	if errors.As(err, &se) {
		return err
	}
	return &SubsystemError{Subsystem: subsystem, Err: err}
}

// SubsystemOf returns the subsystem an error was tagged with, if any.
func SubsystemOf(err error) string {
	var se *SubsystemError
	if errors.As(err, &se) {
		return se.Subsystem
	}
	return ""
}
