// Package sandbox evaluates user-submitted code snippets in a child process
// under a hard wall-clock limit.
//
// This is not a security boundary. The preamble only rebinds a handful of
// well-known names (File, Process, ...) to nil, which stops trivial
// filesystem or process escapes and nothing more.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/user/fancybot/internal/procrun"
)

const (
	// MaxTimeout is the hard upper bound on a single evaluation.
	MaxTimeout = 5 * time.Second
	maxLines   = 5

	// MaxLineBytes and MaxReplyBytes bound what one evaluation can send
	// to the channel.
	MaxLineBytes  = 200
	MaxReplyBytes = 400
	maxCapture    = 64 << 10

	TimeoutMessage = "Sorry, that took too long (max 5s)."
	FailedMessage  = "Sorry, I couldn't run that."
)

// DefaultBlacklist lists the names rebound to nil before user code runs.
var DefaultBlacklist = []string{"File", "Directory", "System", "Process", "Thread", "Kernel"}

// Runner is the part of procrun.Runner the evaluator needs.
type Runner interface {
	Run(ctx context.Context, command string, opts procrun.Options) (*procrun.Result, error)
}

// Config configures an Evaluator.
type Config struct {
	// Command is the interpreter command line with exactly one %s where the
	// escaped source is placed, e.g. `fancy -e "%s"`.
	Command string
	// Blacklist overrides DefaultBlacklist when non-nil. An empty, non-nil
	// slice disables the preamble.
	Blacklist []string
	Timeout   time.Duration
	Dir       string
}

// Evaluator runs snippets through an interpreter.
type Evaluator struct {
	runner    Runner
	command   string
	blacklist []string
	timeout   time.Duration
	dir       string
}

// ValidateCommand reports whether command is a usable interpreter template.
func ValidateCommand(command string) error {
	if strings.Count(command, "%s") != 1 {
		return fmt.Errorf("eval command %q must contain exactly one %%s", command)
	}
	return nil
}

// New validates cfg and creates an Evaluator. Timeouts above MaxTimeout
// (or unset) are clamped to MaxTimeout.
func New(runner Runner, cfg Config) (*Evaluator, error) {
	if err := ValidateCommand(cfg.Command); err != nil {
		return nil, err
	}
	blacklist := cfg.Blacklist
	if blacklist == nil {
		blacklist = DefaultBlacklist
	}
	timeout := cfg.Timeout
	if timeout <= 0 || timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	return &Evaluator{
		runner:    runner,
		command:   cfg.Command,
		blacklist: blacklist,
		timeout:   timeout,
		dir:       cfg.Dir,
	}, nil
}

// Timeout returns the effective per-evaluation limit.
func (e *Evaluator) Timeout() time.Duration { return e.timeout }

// Preamble returns the source prepended to every snippet.
func (e *Evaluator) Preamble() string {
	var b strings.Builder
	for _, name := range e.blacklist {
		b.WriteString(name)
		b.WriteString(" = nil; ")
	}
	return b.String()
}

// CommandLine builds the shell command that evaluates code.
func (e *Evaluator) CommandLine(code string) string {
	return fmt.Sprintf(e.command, escape(e.Preamble()+code))
}

// escaper makes src safe inside a double-quoted sh word.
var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

func escape(src string) string {
	return escaper.Replace(src)
}

// Evaluate runs code and returns the chat reply. It never retries.
func (e *Evaluator) Evaluate(ctx context.Context, code string) string {
	res, err := e.runner.Run(ctx, e.CommandLine(code), procrun.Options{
		Dir:           e.dir,
		Timeout:       e.timeout,
		CaptureStdout: true,
		CaptureStderr: true,
		MaxOutput:     maxCapture,
	})
	if err != nil {
		slog.Error("eval failed", "error", err)
		return FailedMessage
	}
	if res.TimedOut {
		return TimeoutMessage
	}
	lines := append(append([]string{}, res.Stdout...), res.Stderr...)
	return "=> " + Format(lines)
}

// Format joins output lines for a single chat message, eliding everything
// past the fifth line. Each line is cut at MaxLineBytes and the joined text
// at MaxReplyBytes.
func Format(lines []string) string {
	if len(lines) == 0 {
		return "(no output)"
	}
	shown := lines
	if len(shown) > maxLines {
		shown = shown[:maxLines]
	}
	cut := make([]string, len(shown))
	for i, line := range shown {
		cut[i] = truncate(line, MaxLineBytes)
	}
	out := truncate(strings.Join(cut, "; "), MaxReplyBytes)
	if len(lines) > maxLines {
		out = fmt.Sprintf("%s ... (%d more lines)", out, len(lines)-maxLines)
	}
	return out
}

// truncate cuts s to at most max bytes on a rune boundary, marking the cut
// with "...".
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	end := max - len("...")
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end] + "..."
}
