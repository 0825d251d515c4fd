// Package shell runs stage commands under bash with bounded output capture
// and renders the command templates configured per stage.
package shell

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds one stage command run.
const DefaultTimeout = 15 * time.Second

// MaxCaptureBytes bounds each captured stream. Output past the bound is
// dropped and the Truncated flag set; the process keeps running.
const MaxCaptureBytes = 1 << 20

// Capture is the result of one command run.
type Capture struct {
	ExitCode        int
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
}

// boundedWriter keeps at most max bytes and records overflow.
type boundedWriter struct {
	buf       strings.Builder
	max       int
	truncated bool
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	w.buf.Write(p)
	return len(p), nil
}

var _ io.Writer = (*boundedWriter)(nil)

// Run executes command under `bash -lc` with the given timeout (zero means
// DefaultTimeout). A timeout kills the process group and sets TimedOut. A
// failure to spawn at all is returned as an error; a non-zero exit is not.
func Run(ctx context.Context, command string, timeout time.Duration) (Capture, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-lc", command)
	stdout := &boundedWriter{max: MaxCaptureBytes}
	stderr := &boundedWriter{max: MaxCaptureBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	capture := Capture{
		Stdout:          stdout.buf.String(),
		Stderr:          stderr.buf.String(),
		StdoutTruncated: stdout.truncated,
		StderrTruncated: stderr.truncated,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		capture.TimedOut = true
		capture.ExitCode = -1
		return capture, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			capture.ExitCode = exitErr.ExitCode()
			return capture, nil
		}
		// Spawn failure: bash missing, fork failed.
		return capture, err
	}
	capture.ExitCode = 0
	return capture, nil
}
