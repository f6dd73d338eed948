// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "oss-stamp",
	Short: "A contributor reputation panel for GitHub pages.",
	Long: `oss-stamp scores the author of a GitHub pull request or profile page
from their merged pull requests, reviews, tenure and account activity.
"score" prints the panel for one page; "watch" follows pages typed on stdin
and keeps one live panel for the current page.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (default $OSS_STAMP_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level when verbose: debug, info, warn, error (overrides config)")
}

// newLogger discards everything unless --verbose is set.
func newLogger(cmd *cobra.Command, level slog.Level) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
