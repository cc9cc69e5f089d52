package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tsscraper/pkg/config"
	"tsscraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage tsscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (TSSCRAPER_*)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file is written to .tsscraper.yaml in the current directory unless a
different path is given with --config.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Validate the merged configuration and list every problem found.

A missing target is only a warning here since scrape takes the handle as
an argument.`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# tsscraper configuration
#
# Every option can be overridden by TSSCRAPER_* environment variables
# (for example TSSCRAPER_OUTPUT, TSSCRAPER_MAX_ITEMS) and by flags.

target:
  # Handle to harvest, without the @ (scrape takes it as an argument too)
  handle: ""
  # Numeric account id; skips the lookup when set
  account_id: ""

api:
  base_url: "https://truthsocial.com"
  # Leave empty for the built-in browser user agent
  user_agent: ""
  request_timeout: 30s
  # Statuses per page (the API caps this at 40)
  page_limit: 20

harvest:
  # Delay between pages plus a random jitter
  delay_ms: 4000
  jitter: 2s
  # Retries per page; the n-th retry waits retry_base_delay * 2^(n-1)
  max_retries: 5
  retry_base_delay: 10s
  # any, rate_limit or transient
  retry_policy: any
  # Stop once this many statuses are saved; 0 means no cap
  max_items: 0
  # Prepend statuses published since the newest saved one
  catch_up: false
  # Only save statuses whose content contains this text
  keyword: ""

storage:
  # json (one document), jsonl (one page per line) or redis
  backend: json
  output: statuses.json
  redis:
    address: "localhost:6379"
    password: ""
    db: 0
    key_prefix: "tsscraper:"
    lock_ttl: 6h

metrics:
  enabled: false
  address: ":9090"

logging:
  # debug, info, warn, error
  level: info
  # auto, console or json
  format: auto
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = ".tsscraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	ui.PrintHint("Next: run 'tsscraper config validate', then 'tsscraper scrape <handle>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadUnvalidated(configFile, nil)
	if err != nil {
		return err
	}

	display := *cfg
	if display.Storage.Redis.Password != "" {
		display.Storage.Redis.Password = "***"
	}

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current configuration")
	fmt.Fprint(cmd.OutOrStdout(), string(data))

	if path := config.ConfigFile(configFile); path != "" {
		ui.PrintInfo("Configuration file", path)
	} else {
		ui.PrintInfo("Configuration file", "(none found, defaults and environment only)")
	}
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadUnvalidated(configFile, nil)
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.Target.Handle == "" && cfg.Target.AccountID == "" {
		warnings = append(warnings, "no target configured; pass the handle to scrape")
		cfg.Target.Handle = "placeholder"
	}

	if err := cfg.Validate(); err != nil {
		ui.PrintError("Configuration has errors")
		for _, problem := range unjoin(err) {
			ui.PrintError("  - " + problem.Error())
		}
		return errors.New("configuration validation failed")
	}

	for _, warning := range warnings {
		ui.PrintWarning("  - " + warning)
	}
	ui.PrintSuccess("Configuration is valid")
	ui.PrintSummary("Summary", []ui.Row{
		{Label: "Backend", Value: cfg.Storage.Backend},
		{Label: "Output", Value: cfg.Storage.Output},
		{Label: "Delay", Value: cfg.Harvest.Delay()},
		{Label: "Max retries", Value: cfg.Harvest.MaxRetries},
		{Label: "Retry policy", Value: cfg.Harvest.RetryPolicy},
		{Label: "Max items", Value: cfg.Harvest.MaxItems},
		{Label: "Log level", Value: cfg.Logging.Level},
	})
	return nil
}

// unjoin splits an errors.Join result into its parts
func unjoin(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
