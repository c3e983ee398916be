package main

import (
	"fmt"
	"time"

	"github.com/user/fancybot/internal/classify"
	"github.com/user/fancybot/internal/config"
	"github.com/user/fancybot/internal/pipeline"
	"github.com/user/fancybot/internal/procrun"
	"github.com/user/fancybot/internal/sandbox"
)

func newEvaluator(cfg *config.Config, runner *procrun.Runner) (*sandbox.Evaluator, error) {
	ev, err := sandbox.New(runner, sandbox.Config{
		Command:   cfg.Eval.Command,
		Blacklist: cfg.Eval.Blacklist,
		Timeout:   time.Duration(cfg.Eval.TimeoutSeconds) * time.Second,
		Dir:       cfg.Eval.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("create evaluator: %w", err)
	}
	return ev, nil
}

func newPipeline(cfg *config.Config, runner *procrun.Runner) (*pipeline.Pipeline, error) {
	rules, err := classify.Profile(cfg.Build.Toolchain, cfg.Build.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load toolchain profile: %w", err)
	}
	return pipeline.New(runner, rules, pipeline.Config{
		Dir: cfg.BuildDir(),
		Commands: pipeline.Commands{
			Fetch:     cfg.Build.Fetch,
			Configure: cfg.Build.Configure,
			Clean:     cfg.Build.Clean,
			Compile:   cfg.Build.Compile,
			Test:      cfg.Build.Test,
		},
		StepTimeout: time.Duration(cfg.Build.StepTimeoutMinutes) * time.Minute,
		MaxReport:   cfg.Build.MaxReport,
	}), nil
}
