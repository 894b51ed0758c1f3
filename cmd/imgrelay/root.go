package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"imgrelay/pkg/config"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/ui"
)

var (
	// Version information
	version   = "0.4.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "imgrelay",
	Short: "Fetch images that refuse to be fetched, one at a time or as a ZIP",
	Long: `imgrelay fetches remote images on behalf of a client that cannot reach
them directly. Every fetch runs through the same strategy: a direct request
with browser headers, header variants, then a list of relay proxies, with
exponential backoff between passes.

Run it as an HTTP service with 'imgrelay serve', or use 'fetch' and 'zip'
to download images straight to disk.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColorEnabled(!noColor && ui.DetectColor(os.Stdout))
		ui.SetQuietMode(quiet)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ./imgrelay.yaml or ~/.config/imgrelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`imgrelay {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration from every source, letting flags the user
// actually set on cmd win, and initializes the global logger from it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, collectFlags(cmd))
	if err != nil {
		return nil, err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// collectFlags returns the changed flags of cmd keyed the way
// config.MergeCommandLineFlags expects
func collectFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	fs := cmd.Flags()

	for _, name := range []string{"addr", "failure-mode", "fetch-policy", "log-level", "log-format"} {
		if fs.Changed(name) {
			if v, err := fs.GetString(name); err == nil {
				flags[name] = v
			}
		}
	}
	for _, name := range []string{"concurrency", "per-host-concurrency", "max-attempts"} {
		if fs.Changed(name) {
			if v, err := fs.GetInt(name); err == nil {
				flags[name] = v
			}
		}
	}
	for _, name := range []string{"max-duration", "attempt-timeout"} {
		if fs.Changed(name) {
			if v, err := fs.GetDuration(name); err == nil {
				flags[name] = v
			}
		}
	}
	for _, name := range []string{"no-proxies", "no-color"} {
		if fs.Changed(name) {
			if v, err := fs.GetBool(name); err == nil {
				flags[name] = v
			}
		}
	}

	return flags
}

// addFetchFlags registers the flags that tune the fetch strategy
func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-attempts", 3, "full passes over all routes per image")
	cmd.Flags().Duration("attempt-timeout", 15*time.Second, "timeout for a single request")
	cmd.Flags().Bool("no-proxies", false, "never fall back to relay proxies")
	cmd.Flags().String("fetch-policy", config.FetchPolicyFull, "full, or simple for one direct request per image")
}

// addLimitFlags registers the archive concurrency flags
func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().Int("concurrency", config.DefaultConcurrency,
		fmt.Sprintf("concurrent fetches (%d-%d)", config.MinConcurrency, config.MaxConcurrency))
	cmd.Flags().Int("per-host-concurrency", config.DefaultPerHostConcurrency,
		fmt.Sprintf("concurrent fetches per host (%d-%d)", config.MinPerHostConcurrency, config.MaxPerHostConcurrency))
}
