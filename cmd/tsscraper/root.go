package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"tsscraper/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tsscraper",
	Short: "Resumable harvester for Truth Social account timelines",
	Long: `tsscraper walks an account's public timeline page by page and saves every
page as soon as it is fetched, so an interrupted run picks up where the last
one stopped.

Features:
  - Resume from the saved output (json, jsonl or redis)
  - Exponential backoff on rate limits and transient failures
  - Optional item cap and keyword filter
  - Catch-up pass for statuses published since the last run
  - Prometheus metrics while scraping`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		if quiet || logLevel == "error" {
			ui.SetQuietMode(true)
		}
		if cmd.Name() == "scrape" {
			ui.PrintBanner()
		}
	},
}

// Execute runs the root command with a context cancelled by SIGINT or
// SIGTERM and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil {
		if code == ExitInterrupted {
			ui.PrintWarning("Interrupted, progress up to the last saved page is kept")
		} else {
			ui.PrintError("Error", err)
		}
	}
	return code
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./.tsscraper.yaml or $HOME/.config/tsscraper/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`tsscraper {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
