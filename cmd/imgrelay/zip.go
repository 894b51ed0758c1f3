package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imgrelay/pkg/archive"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/storage"
	"imgrelay/pkg/ui"
)

var (
	zipFrom        string
	zipOutput      string
	zipName        string
	zipCompression string
)

var zipCmd = &cobra.Command{
	Use:   "zip [url]...",
	Short: "Download images into a single ZIP archive",
	Long: `Download images into a single ZIP archive on disk.

The archive holds exactly one entry per URL. Images that cannot be fetched
are stored as a placeholder and listed in FAILED.txt inside the archive.

URLs come from the arguments and from --from, a file with one URL per line
optionally followed by whitespace and a filename. Blank lines and lines
starting with # are ignored. Use --from - to read standard input.`,
	Example: `  imgrelay zip https://example.com/a.jpg https://example.com/b.jpg

  # Read a list and name the archive
  imgrelay zip --from urls.txt --name holiday.zip -o ./archives`,
	RunE: runZip,
}

func init() {
	rootCmd.AddCommand(zipCmd)

	zipCmd.Flags().StringVar(&zipFrom, "from", "", "file with one URL per line (- for stdin)")
	zipCmd.Flags().StringVarP(&zipOutput, "output", "o", ".", "output directory")
	zipCmd.Flags().StringVarP(&zipName, "name", "n", "", "archive file name (default <prefix>-<date>.zip)")
	zipCmd.Flags().StringVar(&zipCompression, "compression", "", "deflate or store (default from config)")
	addFetchFlags(zipCmd)
	addLimitFlags(zipCmd)
}

func runZip(cmd *cobra.Command, args []string) error {
	items := make([]archive.Item, 0, len(args))
	for _, u := range args {
		items = append(items, archive.Item{URL: u})
	}
	if zipFrom != "" {
		fromFile, err := readItemsFrom(zipFrom)
		if err != nil {
			return err
		}
		items = append(items, fromFile...)
	}
	if len(items) == 0 {
		return archive.ErrNoItems
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(items) > cfg.Archive.MaxItems {
		return fmt.Errorf("too many files: %d (max %d)", len(items), cfg.Archive.MaxItems)
	}

	mgr, err := storage.NewManager(zipOutput)
	if err != nil {
		return err
	}

	name := zipName
	if name == "" {
		name = fmt.Sprintf("%s-%s.zip", cfg.Archive.FilenamePrefix, time.Now().Format("2006-01-02"))
	}
	compression := zipCompression
	if compression == "" {
		compression = cfg.Archive.Compression
	}

	log := logger.GetLogger()
	strategy := fetch.New(fetch.PolicyFromConfig(cfg), fetch.WithLogger(log))
	asm := archive.New(strategy, archive.WithLogger(log))

	out, err := mgr.Create(name)
	if err != nil {
		return err
	}

	ui.PrintInfo("Archiving", fmt.Sprintf("%d images", len(items)))
	report, err := asm.Build(cmd.Context(), items, archive.Options{
		Concurrency:        cfg.Limits.Concurrency,
		PerHostConcurrency: cfg.Limits.PerHostConcurrency,
		Compression:        compression,
	}, out)
	if err != nil {
		out.Abort()
		return fmt.Errorf("failed to build archive: %w", err)
	}
	if err := out.Commit(); err != nil {
		return err
	}

	ui.PrintInfo("Archive", out.Path())
	ui.PrintInfo("Size", ui.FormatBytes(report.BytesWritten))
	ui.PrintInfo("Took", ui.FormatDuration(report.Duration))
	if len(report.Failures) > 0 {
		ui.PrintWarning(fmt.Sprintf("%d of %d images replaced by a placeholder", len(report.Failures), report.Items))
		for _, line := range strings.Split(strings.TrimSpace(archive.FormatFailures(report.Failures)), "\n") {
			ui.Println("  " + ui.Dim(line))
		}
		return nil
	}
	ui.PrintSuccess(fmt.Sprintf("All %d images archived", report.Items))
	return nil
}

func readItemsFrom(path string) ([]archive.Item, error) {
	if path == "-" {
		return readItems(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list: %w", err)
	}
	defer f.Close()
	return readItems(f)
}

// readItems parses one "URL [filename]" per line
func readItems(r io.Reader) ([]archive.Item, error) {
	var items []archive.Item
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		item := archive.Item{URL: fields[0]}
		if len(fields) > 1 {
			item.Filename = strings.Join(fields[1:], " ")
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read url list: %w", err)
	}
	return items, nil
}
