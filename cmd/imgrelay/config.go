package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imgrelay/pkg/config"
	"imgrelay/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage imgrelay configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IMGRELAY_*, .env files included)
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'imgrelay.yaml'
unless a different path is specified with the --config flag.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Show the effective configuration after merging every source:
  - Command line flags
  - Environment variables
  - Configuration file
  - Default values`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - Proxy templates
  - Log file path accessibility`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

const exampleConfig = `# imgrelay configuration file
#
# Every option can also be set with an environment variable prefixed with
# IMGRELAY_, for example IMGRELAY_ADDR or IMGRELAY_FAILURE_MODE.

# HTTP service
server:
  addr: ":8080"
  # Upper bound on one request, archive builds included
  max_duration: 60s
  # Largest accepted request body
  max_body_bytes: 1048576
  shutdown_timeout: 10s
  enable_metrics: true

# Fetch strategy
fetch:
  user_agent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
  accept_language: "en-US,en;q=0.9"
  referer: "https://www.google.com/"
  attempt_timeout: 15s
  # Pause before each fallback route
  proxy_delay: 150ms
  # Relay endpoints; {url} is the escaped target, {rawurl} the raw one
  proxies:
    - "https://images.weserv.nl/?url={url}"
    - "https://corsproxy.io/?{url}"
    - "https://api.allorigins.win/raw?url={url}"
  header_variants: true
  max_body_bytes: 26214400
  # Empty allows every host; subdomains of a listed host are allowed
  # allowed_hosts: ["cdn.example.com"]
  # placeholder or passthrough
  failure_mode: "placeholder"
  # full, or simple for one direct request without variants, proxies or retries
  policy: "full"

# Backoff between full passes
retry:
  max_attempts: 3
  base_delay: 400ms
  max_delay: 5s
  multiplier: 2.0
  jitter_factor: 0.25

# Archive concurrency
limits:
  # Range: 2-48
  concurrency: 8
  # Range: 1-8
  per_host_concurrency: 3

archive:
  max_items: 500
  filename_prefix: "images"
  # deflate or store
  compression: "deflate"

logging:
  # debug, info, warn, error
  level: "info"
  # console or json
  format: "console"
  # Optional file that receives a copy of every record
  file: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "imgrelay.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		ui.PrintError("Configuration file already exists", configPath)
		ui.Println("\nTo overwrite, first remove the existing file:")
		ui.Println("  rm " + configPath)
		return fmt.Errorf("%s already exists", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	ui.Println("\nNext steps:")
	ui.Println("1. Edit the configuration file")
	ui.Println("2. Run 'imgrelay config validate' to check it")
	ui.Println("3. Start the service with 'imgrelay serve'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	ui.Println("")
	ui.Println(string(data))

	ui.Println("Configuration sources (in order of priority):")
	ui.Println("1. Command line flags")
	ui.Println("2. Environment variables (IMGRELAY_*)")
	if configFile != "" {
		ui.Println("3. Configuration file: " + configFile)
	} else {
		ui.Println("3. Configuration file: (searched default locations)")
	}
	ui.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		for _, candidate := range []string{"imgrelay.yaml", ".imgrelay.yaml", ".imgrelay.yml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			return fmt.Errorf("no configuration file found; specify one with --config")
		}
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		ui.PrintError("Configuration validation failed")
		return err
	}

	var warnings []string
	if len(cfg.Fetch.Proxies) == 0 {
		warnings = append(warnings, "no relay proxies configured; blocked hosts will fail")
	}
	if cfg.Fetch.FailureMode == config.FailureModePassthrough {
		warnings = append(warnings, "passthrough mode returns upstream errors to clients")
	}
	if cfg.Logging.File != "" {
		if f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			warnings = append(warnings, fmt.Sprintf("log file not writable: %v", err))
		} else {
			f.Close()
		}
	}

	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			ui.Println("  - " + w)
		}
		ui.Println("")
	}

	ui.PrintSuccess("Configuration is valid")

	ui.Println("\nConfiguration summary:")
	ui.Println(fmt.Sprintf("  Listen address: %s", cfg.Server.Addr))
	ui.Println(fmt.Sprintf("  Failure mode: %s", cfg.Fetch.FailureMode))
	ui.Println(fmt.Sprintf("  Concurrency: %d (per host %d)", cfg.Limits.Concurrency, cfg.Limits.PerHostConcurrency))
	ui.Println(fmt.Sprintf("  Max attempts: %d", cfg.Retry.MaxAttempts))
	ui.Println(fmt.Sprintf("  Proxies: %d", len(cfg.Fetch.Proxies)))
	ui.Println(fmt.Sprintf("  Log level: %s", cfg.Logging.Level))
	return nil
}
