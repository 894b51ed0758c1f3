package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imgrelay/internal/metrics"
	"imgrelay/internal/server"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Long: `Run the HTTP service.

Endpoints:
  GET  /api/image?url=<u>   one image, or a placeholder when it cannot be fetched
  POST /api/zip             {"files":[{"url":"...","filename":"..."}]} as a ZIP
  GET  /healthz             liveness
  GET  /metrics             Prometheus metrics (server.enable_metrics)

The server shuts down gracefully on SIGINT or SIGTERM.`,
	Example: `  # Listen on the default address
  imgrelay serve

  # Strict mode: pass upstream failures through instead of a placeholder
  imgrelay serve --addr :9000 --failure-mode passthrough`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", ":8080", "listen address")
	serveCmd.Flags().Duration("max-duration", 60*time.Second, "upper bound on one request")
	serveCmd.Flags().String("failure-mode", "placeholder", "single image failures: placeholder or passthrough")
	addFetchFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if cfg.Server.EnableMetrics {
		opts = append(opts, server.WithMetrics(metrics.New()))
	}
	srv := server.New(cfg, logger.GetLogger(), opts...)

	ui.PrintBanner("imgrelay", version)
	ui.PrintInfo("Listening", cfg.Server.Addr)
	ui.PrintInfo("Failure mode", cfg.Fetch.FailureMode)

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	ui.PrintSuccess("Server stopped")
	return nil
}
