package cloud

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultBuilderPath is the executable looked up on PATH when none is configured
const DefaultBuilderPath = "PotreeConverter"

// Builder turns an encoded point file into an LOD pyramid under outputDir.
// Implementations block until the build finishes.
type Builder interface {
	Build(ctx context.Context, input, outputDir string) error
}

// BuilderFunc adapts a function to the Builder interface
type BuilderFunc func(ctx context.Context, input, outputDir string) error

// Build calls f
func (f BuilderFunc) Build(ctx context.Context, input, outputDir string) error {
	return f(ctx, input, outputDir)
}

// ExecBuilder runs an external octree builder as "<Path> <input> -o <outputDir> [ExtraArgs...]"
type ExecBuilder struct {
	Path      string
	ExtraArgs []string
	Logger    *zap.SugaredLogger
}

// NewExecBuilder creates an ExecBuilder for the given executable
func NewExecBuilder(path string, extraArgs []string, logger *zap.SugaredLogger) *ExecBuilder {
	if path == "" {
		path = DefaultBuilderPath
	}
	return &ExecBuilder{
		Path:      path,
		ExtraArgs: extraArgs,
		Logger:    orNop(logger),
	}
}

// Args returns the argument list passed to the executable
func (b *ExecBuilder) Args(input, outputDir string) []string {
	args := []string{input, "-o", outputDir}
	return append(args, b.ExtraArgs...)
}

// Build runs the executable and waits for it to exit. A non-zero exit status
// or a failure to start the process yields a *BuildError.
func (b *ExecBuilder) Build(ctx context.Context, input, outputDir string) error {
	path := b.Path
	if path == "" {
		path = DefaultBuilderPath
	}
	logger := orNop(b.Logger)
	args := b.Args(input, outputDir)

	logger.Debugw("running builder", "path", path, "args", args)
	cmd := exec.CommandContext(ctx, path, args...)
	tail := &tailBuffer{limit: maxBuildOutput}
	cmd.Stdout = tail
	cmd.Stderr = tail
	err := cmd.Run()
	output := strings.TrimSpace(tail.String())
	if err == nil {
		logger.Debugw("builder finished", "path", path, "outputBytes", tail.total)
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		logger.Warnw("builder exited with error", "path", path, "exitCode", exitErr.ExitCode(), "output", output)
		return &BuildError{ExitCode: exitErr.ExitCode(), Output: output, Err: err}
	}

	// Killed by a signal (including context cancellation) or never started.
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	logger.Warnw("builder could not run", "path", path, "error", err)
	return &BuildError{ExitCode: -1, Output: output, Err: err}
}

// maxBuildOutput is how much trailing builder output is kept for diagnostics
const maxBuildOutput = 64 << 10

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
	total int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total += len(p)
	if len(p) >= b.limit {
		b.buf = append(b.buf[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func orNop(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
