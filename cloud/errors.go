package cloud

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks inputs rejected before any file I/O: empty clouds,
// color/point count mismatches, and invalid encoding scales.
var ErrInvalidInput = errors.New("invalid input")

// OverflowError reports a coordinate whose fixed-point value does not fit the
// 32-bit signed record field.
type OverflowError struct {
	Index int
	Axis  string
	Value float64
	Scale float64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("encoding overflow: point %d %s=%g does not fit int32 at scale %g", e.Index, e.Axis, e.Value, e.Scale)
}

// BuildError reports a failed run of the external pyramid builder. ExitCode is
// -1 when the process could not be started at all.
type BuildError struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *BuildError) Error() string {
	if e.ExitCode < 0 {
		return fmt.Sprintf("external build failed to launch: %v", e.Err)
	}
	return fmt.Sprintf("external build failed with exit code %d", e.ExitCode)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// CleanupError reports a temporary file or stale destination that could not
// be removed.
type CleanupError struct {
	Path string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of %s failed: %v", e.Path, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}
