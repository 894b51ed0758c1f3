package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imgrelay/pkg/config"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/naming"
	"imgrelay/pkg/responder"
	"imgrelay/pkg/storage"
	"imgrelay/pkg/ui"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>...",
	Short: "Download images to a directory",
	Long: `Download one or more images to a directory using the full fetch strategy.

Files are named after the last path segment of each URL with an extension
matching the content actually received. Existing files are never overwritten.`,
	Example: `  imgrelay fetch https://example.com/a.jpg https://example.com/b.png -o ./out`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", ".", "output directory")
	addFetchFlags(fetchCmd)
	addLimitFlags(fetchCmd)
}

// fetchOutcome is the result of one URL of a fetch run
type fetchOutcome struct {
	URL  string
	Path string
	Size int
	Err  error
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	mgr, err := storage.NewManager(fetchOutput)
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	strategy := fetch.New(fetch.PolicyFromConfig(cfg), fetch.WithLogger(log))
	resp := responder.New(strategy, config.FailureModePassthrough, log)

	start := time.Now()
	outcomes := downloadAll(cmd.Context(), resp, mgr, args, cfg.Limits.Concurrency)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			ui.PrintError(o.URL, o.Err)
			continue
		}
		ui.PrintInfo(o.Path, ui.FormatBytes(int64(o.Size)))
	}

	summary := fmt.Sprintf("Saved %d of %d images to %s in %s",
		len(outcomes)-failed, len(outcomes), mgr.GetOutputDir(), ui.FormatDuration(time.Since(start)))
	if failed > 0 {
		ui.PrintWarning(summary)
		return fmt.Errorf("%d of %d downloads failed", failed, len(outcomes))
	}
	ui.PrintSuccess(summary)
	return nil
}

// downloadAll fetches urls with at most limit in flight and saves each
// success through mgr. Outcomes are returned in input order.
func downloadAll(ctx context.Context, r *responder.Responder, mgr *storage.Manager, urls []string, limit int) []fetchOutcome {
	outcomes := make([]fetchOutcome, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, u := range urls {
		g.Go(func() error {
			out := fetchOutcome{URL: u}
			out.Path, out.Size, out.Err = downloadOne(ctx, r, mgr, u, i)
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func downloadOne(ctx context.Context, r *responder.Responder, mgr *storage.Manager, rawURL string, index int) (string, int, error) {
	res, err := r.Respond(ctx, rawURL)
	if err != nil {
		return "", 0, err
	}
	if res.Err != nil {
		return "", 0, res.Err
	}

	suggested := naming.BaseFromURL(rawURL)
	if strings.TrimSpace(suggested) == "" {
		suggested = fmt.Sprintf("image_%d", index+1)
	}

	path, err := mgr.SaveImage(suggested, res.ContentType, rawURL, res.Body)
	if err != nil {
		return "", 0, err
	}
	return path, len(res.Body), nil
}
