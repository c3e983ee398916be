package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/fancybot/internal/bot"
	"github.com/user/fancybot/internal/chatlog"
	"github.com/user/fancybot/internal/config"
	"github.com/user/fancybot/internal/gateway"
	"github.com/user/fancybot/internal/procrun"
	"github.com/user/fancybot/internal/router"
	"github.com/user/fancybot/internal/scheduler"
	"github.com/user/fancybot/internal/shorten"
	"github.com/user/fancybot/internal/telegram"
	"github.com/user/fancybot/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the fancybot daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

const pidFileName = "fancybot.pid"

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("no telegram token: set telegram.token or TELEGRAM_BOT_TOKEN")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	runner := procrun.New()

	components := bot.Components{
		Shortener: shorten.New(cfg.Shorten.Endpoint),
		Queue:     gateway.NewQueue(int64(cfg.MaxConcurrent)),
	}

	// Activity log
	activity := chatlog.New(chatlog.Config{
		Dir: cfg.ChatlogDir(),
		Tag: cfg.Chatlog.Tag,
		Ext: cfg.Chatlog.Ext,
	})
	components.Log = activity

	if cfg.Eval.Enabled {
		evaluator, err := newEvaluator(cfg, runner)
		if err != nil {
			return err
		}
		components.Evaluator = evaluator
	} else {
		slog.Warn("eval disabled")
	}

	pipe, err := newPipeline(cfg, runner)
	if err != nil {
		return err
	}
	components.Builder = pipe

	// Telegram adapter
	adapter, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.MessagesPerSecond)
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	b := bot.New(bot.Config{
		Router: router.Config{
			Prefix:        cfg.Bot.CommandPrefix,
			TriggerSender: cfg.Build.TriggerSender,
			TriggerMarker: cfg.Build.TriggerMarker,
		},
		InfoText:     cfg.Bot.InfoText,
		ReportTarget: cfg.Build.ReportTarget,
	}, adapter, components)

	// Scheduler
	sched, err := newScheduler(cfg, activity, b)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Webhook HTTP server
	var services []bot.Service
	if cfg.HTTP.Enabled {
		if cfg.HTTP.Token == "" {
			slog.Warn("http.token is empty, build webhook accepts unauthenticated requests", "listen", cfg.HTTP.Listen)
		}
		srv := webhook.NewServer(b, b.Seen(), func(url string) error {
			return b.TriggerBuild(url, "")
		}, cfg.HTTP.Token)
		services = append(services, func(ctx context.Context) error {
			return srv.Run(ctx, cfg.HTTP.Listen)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel, cfg, pidPath)

	slog.Info("fancybot started",
		"nick", adapter.Nick(),
		"data_dir", cfg.DataDir,
		"chatlog_dir", cfg.ChatlogDir(),
		"max_concurrent", cfg.MaxConcurrent,
		"eval", cfg.Eval.Enabled,
		"build_trigger", cfg.Build.TriggerSender,
		"http", cfg.HTTP.Enabled,
		"pid_file", pidPath,
	)

	return b.Run(ctx, services...)
}

func newScheduler(cfg *config.Config, activity *chatlog.Logger, b *bot.Bot) (*scheduler.Scheduler, error) {
	sched := scheduler.New()
	if err := sched.Add("rotate-chatlog", "0 0 * * *", func() {
		if err := activity.Rotate(time.Now()); err != nil {
			slog.Error("chatlog rotation failed", "error", err)
		}
	}); err != nil {
		return nil, err
	}
	if cfg.Build.Schedule != "" {
		if err := sched.Add("scheduled-build", cfg.Build.Schedule, func() {
			if err := b.TriggerBuild("scheduled", ""); err != nil {
				slog.Error("scheduled build not queued", "error", err)
			}
		}); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// handleSignals cancels ctx on SIGINT/SIGTERM and re-executes the binary
// on SIGHUP.
func handleSignals(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, pidPath string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-ctx.Done():
			return
		}
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		cancel()
		return
	}
}
