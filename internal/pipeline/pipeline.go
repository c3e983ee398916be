// Package pipeline drives the fetch, configure, clean, compile and test
// cycle for the tracked source tree and reports problems line by line.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/user/fancybot/internal/classify"
	"github.com/user/fancybot/internal/procrun"
	"github.com/user/fancybot/internal/types"
)

// ErrBusy is returned by Run while another run is in flight. Runs mutate
// the shared source tree, so they never overlap.
var ErrBusy = errors.New("a build is already running")

// Step names one stage of the pipeline.
type Step string

const (
	StepFetch     Step = "fetch"
	StepConfigure Step = "configure"
	StepClean     Step = "clean"
	StepCompile   Step = "compile"
	StepTest      Step = "test"
)

const (
	defaultMaxReport   = 5
	defaultStepTimeout = 30 * time.Minute
	failedMarker       = "FAILED:"
)

var upToDate = regexp.MustCompile(`(?i)already up[- ]to[- ]date`)

// Runner is the part of procrun.Runner the pipeline needs.
type Runner interface {
	Run(ctx context.Context, command string, opts procrun.Options) (*procrun.Result, error)
}

// Commands holds the shell command for each step. Empty steps are skipped.
type Commands struct {
	Fetch     string `json:"fetch"`
	Configure string `json:"configure"`
	Clean     string `json:"clean"`
	Compile   string `json:"compile"`
	Test      string `json:"test"`
}

// Config configures a Pipeline.
type Config struct {
	Dir         string
	Commands    Commands
	StepTimeout time.Duration
	MaxReport   int
}

// StepResult is what one step produced.
type StepResult struct {
	Step      Step
	Command   string
	Stderr    []string
	Real      []string
	Truncated bool
	TimedOut  bool
}

// Summary describes a finished run.
type Summary struct {
	ID           types.RunID
	URL          string
	Steps        []StepResult
	FailedAt     Step
	TestFailures []string
	Duration     time.Duration
}

// OK reports whether every step succeeded and no test failed.
func (s *Summary) OK() bool {
	return s.FailedAt == "" && len(s.TestFailures) == 0
}

// Pipeline runs builds one at a time.
type Pipeline struct {
	runner     Runner
	classifier classify.Classifier
	cfg        Config
	busy       atomic.Bool
}

// New creates a Pipeline.
func New(runner Runner, classifier classify.Classifier, cfg Config) *Pipeline {
	if cfg.MaxReport <= 0 {
		cfg.MaxReport = defaultMaxReport
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	return &Pipeline{runner: runner, classifier: classifier, cfg: cfg}
}

// Busy reports whether a run is in flight.
func (p *Pipeline) Busy() bool { return p.busy.Load() }

// Run executes the pipeline for the change at url, sending every report
// line through report. It stops at the first step that produces a real
// error; the test step always runs to completion. A non-nil error means
// the pipeline itself could not run a step (not that the build failed).
func (p *Pipeline) Run(ctx context.Context, url string, report func(string)) (*Summary, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.busy.Store(false)

	start := time.Now()
	sum := &Summary{ID: types.NewRunID(), URL: url}
	defer func() { sum.Duration = time.Since(start) }()

	log := slog.With("run_id", string(sum.ID), "url", url)
	log.Info("build started")

	if ok, err := p.fetch(ctx, sum, report); err != nil || !ok {
		return sum, err
	}

	steps := []struct {
		step     Step
		command  string
		useFiles bool
	}{
		{StepConfigure, p.cfg.Commands.Configure, false},
		{StepClean, p.cfg.Commands.Clean, false},
		{StepCompile, p.cfg.Commands.Compile, true},
	}
	for _, s := range steps {
		if s.command == "" {
			continue
		}
		res, err := p.run(ctx, s.command, s.useFiles, s.useFiles)
		if err != nil {
			return sum, fmt.Errorf("%s: %w", s.step, err)
		}
		sr := StepResult{Step: s.step, Command: s.command, Stderr: res.Stderr, TimedOut: res.TimedOut}
		if res.TimedOut {
			sum.Steps = append(sum.Steps, sr)
			sum.FailedAt = s.step
			report(fmt.Sprintf("%s timed out after %s, won't build.", s.step, p.cfg.StepTimeout))
			log.Warn("build step timed out", "step", s.step)
			return sum, nil
		}
		sr.Real = p.classifier.Real(res.Stderr)
		sr.Truncated = len(sr.Real) > p.cfg.MaxReport
		sum.Steps = append(sum.Steps, sr)
		if len(sr.Real) > 0 {
			sum.FailedAt = s.step
			report(fmt.Sprintf("%s failed with %d error(s):", s.step, len(sr.Real)))
			for _, line := range classify.Summarize(sr.Real, p.cfg.MaxReport) {
				report(line)
			}
			log.Info("build step failed", "step", s.step, "errors", len(sr.Real))
			return sum, nil
		}
	}

	if err := p.test(ctx, sum, report); err != nil {
		return sum, err
	}
	log.Info("build finished", "test_failures", len(sum.TestFailures))
	return sum, nil
}

// fetch updates the source tree. Anything on stderr other than an
// "already up to date" notice is a terminal failure, reported verbatim.
func (p *Pipeline) fetch(ctx context.Context, sum *Summary, report func(string)) (bool, error) {
	command := p.cfg.Commands.Fetch
	if command == "" {
		return true, nil
	}
	res, err := p.run(ctx, command, false, false)
	if err != nil {
		return false, fmt.Errorf("%s: %w", StepFetch, err)
	}
	sr := StepResult{Step: StepFetch, Command: command, Stderr: res.Stderr, TimedOut: res.TimedOut}
	for _, line := range res.Stderr {
		if strings.TrimSpace(line) != "" && !upToDate.MatchString(line) {
			sr.Real = append(sr.Real, line)
		}
	}
	sum.Steps = append(sum.Steps, sr)

	if res.TimedOut {
		sum.FailedAt = StepFetch
		report(fmt.Sprintf("fetch timed out after %s, won't build.", p.cfg.StepTimeout))
		return false, nil
	}
	if len(sr.Real) == 0 {
		return true, nil
	}
	sum.FailedAt = StepFetch
	for _, line := range res.Stderr {
		report(line)
	}
	report("Couldn't update the sources, won't build.")
	return false, nil
}

// test runs the suite and reports every FAILED: line plus the total.
func (p *Pipeline) test(ctx context.Context, sum *Summary, report func(string)) error {
	command := p.cfg.Commands.Test
	if command == "" {
		return nil
	}
	res, err := p.run(ctx, command, true, true)
	if err != nil {
		return fmt.Errorf("%s: %w", StepTest, err)
	}
	sum.Steps = append(sum.Steps, StepResult{Step: StepTest, Command: command, Stderr: res.Stderr, TimedOut: res.TimedOut})
	if res.TimedOut {
		report(fmt.Sprintf("test timed out after %s.", p.cfg.StepTimeout))
		return nil
	}
	for _, line := range res.Stdout {
		if strings.Contains(line, failedMarker) {
			sum.TestFailures = append(sum.TestFailures, line)
			report(line)
		}
	}
	report(fmt.Sprintf("%d failed.", len(sum.TestFailures)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, command string, useFiles, stdout bool) (*procrun.Result, error) {
	return p.runner.Run(ctx, command, procrun.Options{
		Dir:           p.cfg.Dir,
		Timeout:       p.cfg.StepTimeout,
		CaptureStdout: stdout,
		CaptureStderr: true,
		UseFiles:      useFiles,
	})
}
