// Package procrun runs external commands for the bot and captures their
// output line by line.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ErrEmptyCommand is returned when Run is given a blank command line.
var ErrEmptyCommand = errors.New("empty command")

// killGrace bounds how long Wait keeps draining output after the child
// group has been killed.
const killGrace = 2 * time.Second

// Options controls a single Run.
type Options struct {
	Dir           string
	Timeout       time.Duration
	CaptureStdout bool
	CaptureStderr bool
	// UseFiles spools output through temporary files instead of in-memory
	// pipes. Use it for steps with very large output such as a full compile.
	UseFiles bool
	// MaxOutput caps the bytes kept per stream. Anything past it is
	// discarded and Result.Truncated is set. Zero keeps everything.
	MaxOutput int64
	Env       []string
}

// Result is the captured outcome of a Run. When TimedOut is set, Stdout and
// Stderr are always empty.
type Result struct {
	Command  string
	Stdout   []string
	Stderr   []string
	ExitCode int
	TimedOut bool
	// Truncated reports that at least one stream hit Options.MaxOutput.
	Truncated bool
	Duration  time.Duration
}

// Runner executes shell command lines.
type Runner struct {
	shell string
}

// New creates a Runner that executes command lines with sh -c.
func New() *Runner {
	return &Runner{shell: "sh"}
}

// Run executes command in its own process group. A non-zero exit status is
// reported through Result.ExitCode, never as an error; callers judge
// success from the captured output. If opts.Timeout elapses the whole
// process group is killed and a Result with TimedOut set is returned.
func (r *Runner) Run(ctx context.Context, command string, opts Options) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, r.shell, "-c", command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = killGrace

	stdout, err := newSink(opts.CaptureStdout, opts.UseFiles, opts.MaxOutput, "stdout")
	if err != nil {
		return nil, err
	}
	defer stdout.cleanup()
	stderr, err := newSink(opts.CaptureStderr, opts.UseFiles, opts.MaxOutput, "stderr")
	if err != nil {
		return nil, err
	}
	defer stderr.cleanup()
	cmd.Stdout = stdout.writer()
	cmd.Stderr = stderr.writer()

	slog.Debug("running command", "command", command, "dir", opts.Dir, "timeout", opts.Timeout)

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{Command: command, Duration: time.Since(start)}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("run %q: %w", command, ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		slog.Warn("command killed after timeout", "command", command, "timeout", opts.Timeout)
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		case errors.Is(runErr, exec.ErrWaitDelay):
			// The child exited but a grandchild kept the output open.
		default:
			return nil, fmt.Errorf("run %q: %w", command, runErr)
		}
	}

	if result.Stdout, err = stdout.lines(); err != nil {
		return nil, fmt.Errorf("read stdout: %w", err)
	}
	if result.Stderr, err = stderr.lines(); err != nil {
		return nil, fmt.Errorf("read stderr: %w", err)
	}
	result.Truncated = stdout.truncated() || stderr.truncated()
	if result.Truncated {
		slog.Debug("command output truncated", "command", command, "max_output", opts.MaxOutput)
	}
	return result, nil
}

// sink is where one output stream of the child goes.
type sink struct {
	buf   *bytes.Buffer
	file  *os.File
	limit *limitedWriter
}

func newSink(capture, useFile bool, max int64, name string) (*sink, error) {
	if !capture {
		return &sink{}, nil
	}
	s := &sink{}
	if useFile {
		f, err := os.CreateTemp("", "fancybot-"+name+"-*.log")
		if err != nil {
			return nil, fmt.Errorf("create %s capture file: %w", name, err)
		}
		s.file = f
	} else {
		s.buf = &bytes.Buffer{}
	}
	if max > 0 {
		s.limit = &limitedWriter{w: s.target(), max: max}
	}
	return s, nil
}

func (s *sink) target() io.Writer {
	if s.file != nil {
		return s.file
	}
	return s.buf
}

func (s *sink) writer() io.Writer {
	switch {
	case s.limit != nil:
		return s.limit
	case s.file != nil:
		return s.file
	case s.buf != nil:
		return s.buf
	default:
		return nil
	}
}

func (s *sink) truncated() bool {
	return s.limit != nil && s.limit.truncated
}

func (s *sink) lines() ([]string, error) {
	switch {
	case s.file != nil:
		data, err := os.ReadFile(s.file.Name())
		if err != nil {
			return nil, err
		}
		return SplitLines(string(data)), nil
	case s.buf != nil:
		return SplitLines(s.buf.String()), nil
	default:
		return nil, nil
	}
}

func (s *sink) cleanup() {
	if s.file == nil {
		return
	}
	s.file.Close()
	os.Remove(s.file.Name())
}

// limitedWriter keeps the first max bytes written to it and silently drops
// the rest, so a runaway child cannot grow the capture without bound.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	remaining := lw.max - lw.written
	if remaining <= 0 {
		lw.truncated = true
		return n, nil
	}
	if int64(n) > remaining {
		lw.truncated = true
		p = p[:remaining]
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	if err != nil {
		return written, err
	}
	return n, nil
}

// SplitLines splits output into lines, dropping the trailing newline and
// any carriage returns. Empty output yields nil.
func SplitLines(s string) []string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
