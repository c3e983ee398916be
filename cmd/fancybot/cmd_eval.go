package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/fancybot/internal/procrun"
)

func init() {
	rootCmd.AddCommand(evalCmd)
}

var evalCmd = &cobra.Command{
	Use:   "eval <code>",
	Short: "Evaluate a snippet the way !eval does and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)

		evaluator, err := newEvaluator(cfg, procrun.New())
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, evaluator.Evaluate(context.Background(), strings.Join(args, " ")))
		return nil
	},
}
