package cloud

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// State is a step of one pyramid build
type State int

const (
	StateIdle State = iota
	StateDestinationCleared
	StateBuildInvoked
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDestinationCleared:
		return "destination_cleared"
	case StateBuildInvoked:
		return "build_invoked"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for c := StateIdle; c <= StateFailed; c++ {
		if c.String() == string(text) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown build state %q", text)
}

// Terminal reports whether no further transitions follow
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// BuildResult describes a finished build
type BuildResult struct {
	State       State         `json:"state"`
	Destination string        `json:"destination"`
	ExitCode    int           `json:"exitCode"`
	Duration    time.Duration `json:"duration"`
	// CleanupErr is set when the build succeeded but a temporary resource
	// could not be removed.
	CleanupErr error `json:"-"`
}

// TransitionFunc observes state changes of a build
type TransitionFunc func(from, to State)

// Orchestrator clears a destination and runs the Builder into it
type Orchestrator struct {
	Builder      Builder
	Logger       *zap.SugaredLogger
	OnTransition TransitionFunc
}

// NewOrchestrator creates an Orchestrator around the given builder
func NewOrchestrator(builder Builder, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{Builder: builder, Logger: orNop(logger)}
}

// Build removes whatever exists at destination, then runs the builder with
// encodedPath as input. The input file is not owned here; the caller removes
// it. There is no retry.
func (o *Orchestrator) Build(ctx context.Context, encodedPath, destination string) (BuildResult, error) {
	logger := orNop(o.Logger)
	res := BuildResult{State: StateIdle, Destination: destination}
	start := time.Now()
	move := func(to State) {
		from := res.State
		res.State = to
		logger.Debugw("build state", "destination", destination, "from", from, "to", to)
		if o.OnTransition != nil {
			o.OnTransition(from, to)
		}
	}
	fail := func(err error) (BuildResult, error) {
		move(StateFailed)
		res.Duration = time.Since(start)
		return res, err
	}

	if o.Builder == nil {
		return fail(fmt.Errorf("%w: no builder configured", ErrInvalidInput))
	}
	if destination == "" {
		return fail(fmt.Errorf("%w: destination is empty", ErrInvalidInput))
	}

	if err := clearDestination(destination); err != nil {
		logger.Errorw("could not clear destination", "destination", destination, "error", err)
		return fail(err)
	}
	move(StateDestinationCleared)

	move(StateBuildInvoked)
	logger.Infow("building pyramid", "input", encodedPath, "destination", destination)
	if err := o.Builder.Build(ctx, encodedPath, destination); err != nil {
		var be *BuildError
		if errors.As(err, &be) {
			res.ExitCode = be.ExitCode
		} else {
			res.ExitCode = -1
		}
		logger.Errorw("pyramid build failed", "destination", destination, "exitCode", res.ExitCode, "error", err)
		return fail(err)
	}

	move(StateSucceeded)
	res.Duration = time.Since(start)
	logger.Infow("pyramid build finished", "destination", destination, "duration", res.Duration)
	return res, nil
}

// clearDestination removes a previous pyramid (or any file) at path.
// A missing path is not an error.
func clearDestination(path string) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &CleanupError{Path: path, Err: err}
	}
	if err := os.RemoveAll(path); err != nil {
		return &CleanupError{Path: path, Err: err}
	}
	return nil
}
