package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgrelay/pkg/archive"
	"imgrelay/pkg/config"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/placeholder"
	"imgrelay/pkg/responder"
	"imgrelay/pkg/storage"
)

func TestReadItems(t *testing.T) {
	input := `# holiday
https://img.example/a.jpg

https://img.example/b.jpg   beach photo.jpg
  https://img.example/c.png
`
	items, err := readItems(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []archive.Item{
		{URL: "https://img.example/a.jpg"},
		{URL: "https://img.example/b.jpg", Filename: "beach photo.jpg"},
		{URL: "https://img.example/c.png"},
	}, items)
}

func TestReadItemsFromMissingFile(t *testing.T) {
	_, err := readItemsFrom(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestCollectFlagsOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addFetchFlags(cmd)
	addLimitFlags(cmd)
	cmd.Flags().String("failure-mode", "placeholder", "")

	require.NoError(t, cmd.ParseFlags([]string{"--concurrency", "12", "--no-proxies", "--attempt-timeout", "2s"}))

	flags := collectFlags(cmd)
	assert.Equal(t, map[string]interface{}{
		"concurrency":     12,
		"no-proxies":      true,
		"attempt-timeout": 2 * time.Second,
	}, flags)

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 12, cfg.Limits.Concurrency)
	assert.Empty(t, cfg.Fetch.Proxies)
	assert.Equal(t, 2*time.Second, cfg.Fetch.AttemptTimeout)
	assert.Equal(t, config.DefaultPerHostConcurrency, cfg.Limits.PerHostConcurrency)
}

func TestDownloadAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.png", "/nested/a.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(placeholder.Bytes())
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	mgr, err := storage.NewManager(dir)
	require.NoError(t, err)

	strategy := fetch.New(fetch.PassthroughPolicy(), fetch.WithLogger(logger.NewNopLogger()))
	r := responder.New(strategy, config.FailureModePassthrough, logger.NewNopLogger())

	urls := []string{srv.URL + "/a.png", srv.URL + "/missing.png", srv.URL + "/nested/a.png"}
	outcomes := downloadAll(context.Background(), r, mgr, urls, 2)
	require.Len(t, outcomes, 3)

	for i, o := range outcomes {
		assert.Equal(t, urls[i], o.URL)
	}
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	names := []string{filepath.Base(outcomes[0].Path), filepath.Base(outcomes[2].Path)}
	assert.ElementsMatch(t, []string{"a.png", "a_2.png"}, names)
	assert.Equal(t, placeholder.Size(), outcomes[0].Size)
	assert.Equal(t, 2, mgr.GetSavedCount())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRunConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgrelay.yaml")
	configFile = path
	t.Cleanup(func() { configFile = "" })

	require.NoError(t, runConfigInit(configInitCmd, nil))

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.DefaultConfig(), cfg)

	assert.Error(t, runConfigInit(configInitCmd, nil))
}
