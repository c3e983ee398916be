package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/fancybot/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("FancyBot Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Telegram.Token = prompt(scanner, "Telegram bot token", cfg.Telegram.Token)
		cfg.Bot.CommandPrefix = prompt(scanner, "Command prefix", cfg.Bot.CommandPrefix)
		cfg.Bot.InfoText = prompt(scanner, "!info text", cfg.Bot.InfoText)
		cfg.Eval.Command = prompt(scanner, "Eval command (one %s for the code)", cfg.Eval.Command)
		cfg.Build.WorkDir = prompt(scanner, "Build checkout directory", cfg.BuildDir())
		cfg.Build.TriggerSender = prompt(scanner, "Build notification sender (empty disables)", cfg.Build.TriggerSender)
		cfg.Build.ReportTarget = prompt(scanner, "Chat ID for build reports", cfg.Build.ReportTarget)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
