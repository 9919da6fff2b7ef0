// Package ffmpeg wraps the external ffmpeg/ffprobe CLIs: subprocess
// execution, media probing, HLS rendition encoding and poster frame
// extraction.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/clipstream/transcoder/internal/xerrors"
)

// CommandRunner executes an external command and returns its combined output.
// The interface exists so tests can substitute a fake for the real binaries.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands via os/exec under a per-invocation deadline. A
// deadline hit kills the child process before the call returns.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates a runner with the given subprocess timeout. A zero
// timeout disables the deadline.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes the command, capturing stdout and stderr together.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, xerrors.Transient(name, fmt.Errorf("%w after %s", xerrors.ErrTimeout, r.Timeout))
		}
		return out, fmt.Errorf("%s failed: %w: %s", name, err, outputTail(out))
	}
	return out, nil
}

// outputTail keeps the last few lines of subprocess output for error text;
// ffmpeg prints the actionable diagnostics last.
func outputTail(out []byte) string {
	const maxLines = 5
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, " | ")
}
