package cloud

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeScript creates an executable shell script standing in for the builder
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script builders need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-builder.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecBuilder_Args(t *testing.T) {
	b := NewExecBuilder("", []string{"--generate-page", "index"}, nil)
	assert.Equal(t, DefaultBuilderPath, b.Path)
	assert.Equal(t,
		[]string{"in.las", "-o", "out", "--generate-page", "index"},
		b.Args("in.las", "out"))
}

func TestExecBuilder_Success(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, `echo "$@" > "`+argsFile+`"
mkdir -p "$3" && echo '{}' > "$3/metadata.json"`)
	out := filepath.Join(t.TempDir(), "pyramid")

	b := NewExecBuilder(script, nil, zaptest.NewLogger(t).Sugar())
	require.NoError(t, b.Build(context.Background(), "/tmp/input.las", out))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/input.las -o "+out, strings.TrimSpace(string(args)))
	assert.FileExists(t, filepath.Join(out, "metadata.json"))
}

func TestExecBuilder_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "not enough points" >&2
exit 3`)
	b := NewExecBuilder(script, nil, zaptest.NewLogger(t).Sugar())

	err := b.Build(context.Background(), "in.las", t.TempDir())
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 3, be.ExitCode)
	assert.Contains(t, be.Output, "not enough points")
	assert.Equal(t, "external build failed with exit code 3", be.Error())
}

func TestExecBuilder_OutputKeepsTail(t *testing.T) {
	script := writeScript(t, `head -c 200000 /dev/zero | tr '\0' x
echo " final error line"
exit 5`)
	b := NewExecBuilder(script, nil, nil)

	err := b.Build(context.Background(), "in.las", t.TempDir())
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 5, be.ExitCode)
	assert.LessOrEqual(t, len(be.Output), maxBuildOutput)
	assert.True(t, strings.HasSuffix(be.Output, "final error line"))
}

func TestTailBuffer(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"fits", []string{"ab", "cd"}, "abcd"},
		{"trims oldest", []string{"abc", "def"}, "cdef"},
		{"single large write", []string{"abcdefgh"}, "efgh"},
		{"exact", []string{"abcd"}, "abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &tailBuffer{limit: 4}
			total := 0
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
				total += len(w)
			}
			assert.Equal(t, tt.want, b.String())
			assert.Equal(t, total, b.total)
		})
	}
}

func TestExecBuilder_LaunchFailure(t *testing.T) {
	b := NewExecBuilder(filepath.Join(t.TempDir(), "does-not-exist"), nil, nil)

	err := b.Build(context.Background(), "in.las", t.TempDir())
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, -1, be.ExitCode)
	assert.Contains(t, be.Error(), "failed to launch")
}

func TestExecBuilder_ContextCancelled(t *testing.T) {
	script := writeScript(t, "exec sleep 10")
	b := NewExecBuilder(script, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := b.Build(ctx, "in.las", t.TempDir())
	assert.Less(t, time.Since(start), 5*time.Second)

	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, -1, be.ExitCode)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestBuilderFunc(t *testing.T) {
	var gotIn, gotOut string
	f := BuilderFunc(func(_ context.Context, in, out string) error {
		gotIn, gotOut = in, out
		return nil
	})
	require.NoError(t, f.Build(context.Background(), "a", "b"))
	assert.Equal(t, "a", gotIn)
	assert.Equal(t, "b", gotOut)
}
