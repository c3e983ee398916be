package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/fancybot/internal/procrun"
)

func init() {
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build [url]",
	Short: "Run the build pipeline once and print its report",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		pipe, err := newPipeline(cfg, procrun.New())
		if err != nil {
			return err
		}

		url := "manual"
		if len(args) == 1 {
			url = args[0]
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sum, err := pipe.Run(ctx, url, func(line string) {
			fmt.Fprintln(os.Stdout, line)
		})
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}
		if !sum.OK() {
			if sum.FailedAt != "" {
				return fmt.Errorf("build failed at %s", sum.FailedAt)
			}
			return fmt.Errorf("%d test(s) failed", len(sum.TestFailures))
		}
		fmt.Fprintf(os.Stdout, "Build %s finished in %s.\n", sum.ID.Short(), sum.Duration.Round(time.Second))
		return nil
	},
}
