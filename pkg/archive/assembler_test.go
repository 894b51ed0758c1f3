package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/placeholder"
	"imgrelay/pkg/retry"
)

type resolverFunc func(ctx context.Context, rawURL string) fetch.Result

func (f resolverFunc) Resolve(ctx context.Context, rawURL string) fetch.Result {
	return f(ctx, rawURL)
}

func okResult(body string) fetch.Result {
	return fetch.Result{Body: []byte(body), ContentType: "image/png", Status: http.StatusOK}
}

func failResult(status int, msg string) fetch.Result {
	return fetch.Result{Status: status, Err: errs.New(errs.ErrorTypeUpstreamStatus, status, "%s", msg)}
}

// mapResolver answers from a fixed table; unknown URLs fail with 404
func mapResolver(table map[string]fetch.Result) resolverFunc {
	return func(ctx context.Context, rawURL string) fetch.Result {
		if res, ok := table[rawURL]; ok {
			return res
		}
		return failResult(http.StatusNotFound, "not found")
	}
}

type entry struct {
	name string
	data []byte
}

func readArchive(t *testing.T, data []byte) []entry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var out []entry
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out = append(out, entry{name: f.Name, data: b})
	}
	return out
}

func names(entries []entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.name)
	}
	return out
}

func newTestAssembler() *Assembler {
	return New(mapResolver(nil), WithLogger(logger.NewNopLogger()))
}

func TestBuildOneEntryPerItem(t *testing.T) {
	resolver := mapResolver(map[string]fetch.Result{
		"https://a.example/one.png":   okResult("one"),
		"https://b.example/two.png":   failResult(http.StatusInternalServerError, "internal server error"),
		"https://a.example/three.png": okResult("three"),
	})
	a := New(resolver, WithLogger(logger.NewNopLogger()))

	items := []Item{
		{URL: "https://a.example/one.png"},
		{URL: "https://b.example/two.png"},
		{URL: "   "},
		{URL: "https://a.example/three.png", Filename: "third"},
		{URL: "https://c.example/missing.jpg"},
	}

	var buf bytes.Buffer
	report, err := a.Build(context.Background(), items, Options{}, &buf)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, len(items)+1)
	assert.Equal(t, []string{"one.png", "two.png", "image_3.png", "third.png", "missing.png", FailedEntryName}, names(entries))

	assert.Equal(t, []byte("one"), entries[0].data)
	assert.True(t, placeholder.Is(entries[1].data))
	assert.True(t, placeholder.Is(entries[2].data))
	assert.Equal(t, []byte("three"), entries[3].data)
	assert.True(t, placeholder.Is(entries[4].data))

	failed := string(entries[5].data)
	assert.Equal(t, strings.Join([]string{
		"#2 https://b.example/two.png — internal server error",
		"#3 (none) — missing url",
		"#5 https://c.example/missing.jpg — not found",
	}, "\n")+"\n", failed)

	assert.Equal(t, len(items), report.Items)
	assert.Len(t, report.Failures, 3)
	assert.Equal(t, int64(buf.Len()), report.BytesWritten)
}

func TestBuildNoFailuresHasNoDiagnostic(t *testing.T) {
	a := New(resolverFunc(func(ctx context.Context, rawURL string) fetch.Result {
		return okResult(rawURL)
	}), WithLogger(logger.NewNopLogger()))

	items := []Item{
		{URL: "https://x/a.png"},
		{URL: "https://x/a.png", Filename: "a"},
	}

	var buf bytes.Buffer
	_, err := a.Build(context.Background(), items, Options{}, &buf)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.png", "a_2.png"}, names(readArchive(t, buf.Bytes())))
}

func TestBuildEmptyItems(t *testing.T) {
	a := newTestAssembler()

	var buf bytes.Buffer
	report, err := a.Build(context.Background(), nil, Options{}, &buf)

	assert.ErrorIs(t, err, ErrNoItems)
	assert.Equal(t, errs.ErrorTypeInvalidInput, errs.TypeOf(err))
	assert.Nil(t, report)
	assert.Zero(t, buf.Len())
}

func TestBuildNamesFollowInputOrder(t *testing.T) {
	// the first item finishes last; it must still get the unsuffixed name
	a := New(resolverFunc(func(ctx context.Context, rawURL string) fetch.Result {
		if strings.Contains(rawURL, "slow") {
			time.Sleep(30 * time.Millisecond)
		}
		return okResult(rawURL)
	}), WithLogger(logger.NewNopLogger()))

	items := []Item{
		{URL: "https://slow.example/pic.png"},
		{URL: "https://fast.example/pic.png"},
		{URL: "https://fast2.example/PIC.png"},
	}

	var buf bytes.Buffer
	_, err := a.Build(context.Background(), items, Options{Concurrency: 8}, &buf)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	assert.Equal(t, []string{"pic.png", "pic_2.png", "PIC_3.png"}, names(entries))
	assert.Equal(t, "https://slow.example/pic.png", string(entries[0].data))
}

func TestBuildSlowHeadBoundsReorderWindow(t *testing.T) {
	release := make(chan struct{})
	var fetched atomic.Int32
	body := strings.Repeat("x", 1<<10)

	a := New(resolverFunc(func(ctx context.Context, rawURL string) fetch.Result {
		if strings.HasSuffix(rawURL, "/0.png") {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return okResult("head")
		}
		fetched.Add(1)
		return okResult(body)
	}), WithLogger(logger.NewNopLogger()))

	items := make([]Item, 40)
	for i := range items {
		items[i] = Item{URL: fmt.Sprintf("https://h%d.example/%d.png", i%5, i)}
	}

	window := reorderWindow(2)
	require.Less(t, window, len(items))

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := a.Build(context.Background(), items, Options{Concurrency: 2}, &buf)
		done <- err
	}()

	require.Eventually(t, func() bool { return int(fetched.Load()) == window-1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(window-1), fetched.Load(), "no item past the window is fetched while the head is pending")

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("build did not finish after the head item was released")
	}

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, len(items))
	assert.Equal(t, "0.png", entries[0].name)
	assert.Equal(t, "head", string(entries[0].data))
	assert.Equal(t, "39.png", entries[39].name)
	assert.Equal(t, int32(len(items)-1), fetched.Load())
}

func TestBuildUniqueNamesWithExtensions(t *testing.T) {
	a := New(resolverFunc(func(ctx context.Context, rawURL string) fetch.Result {
		return fetch.Result{Body: []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, ContentType: "application/octet-stream"}
	}), WithLogger(logger.NewNopLogger()))

	var items []Item
	for i := 0; i < 30; i++ {
		items = append(items, Item{
			URL:      fmt.Sprintf("https://h%d.example/download", i%4),
			Filename: []string{"Photo", "photo", "PHOTO.jpg", "", "photo_2"}[i%5],
		})
	}

	var buf bytes.Buffer
	_, err := a.Build(context.Background(), items, Options{Concurrency: 6, PerHostConcurrency: 2}, &buf)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, len(items))

	seen := map[string]bool{}
	for _, e := range entries {
		key := strings.ToLower(e.name)
		assert.False(t, seen[key], "duplicate entry %s", e.name)
		seen[key] = true
		assert.True(t, strings.HasSuffix(key, ".jpg"), e.name)
	}
	assert.Equal(t, "Photo.jpg", entries[0].name)
	assert.Equal(t, "photo_2.jpg", entries[1].name)
}

func TestBuildUnreachableSingleItem(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/gone.png"
	srv.Close()

	policy := fetch.PassthroughPolicy()
	policy.Backoff = &retry.ConstantBackoff{Delay: time.Millisecond}
	strategy := fetch.New(policy, fetch.WithLogger(logger.NewNopLogger()))
	a := New(strategy, WithLogger(logger.NewNopLogger()))

	var buf bytes.Buffer
	report, err := a.Build(context.Background(), []Item{{URL: target}}, Options{}, &buf)
	require.NoError(t, err)

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, 2)
	assert.Equal(t, "gone.png", entries[0].name)
	assert.True(t, placeholder.Is(entries[0].data))
	assert.Equal(t, FailedEntryName, entries[1].name)
	assert.True(t, strings.HasPrefix(string(entries[1].data), "#1 "+target+" — "))
	assert.Len(t, report.Failures, 1)
}

type failingWriter struct {
	limit int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.limit {
		return 0, errors.New("client went away")
	}
	w.n += len(p)
	return len(p), nil
}

func TestBuildWriteErrorPropagates(t *testing.T) {
	big := strings.Repeat("x", 64<<10)
	a := New(resolverFunc(func(ctx context.Context, rawURL string) fetch.Result {
		return okResult(big)
	}), WithLogger(logger.NewNopLogger()))

	items := []Item{{URL: "https://x/a.png"}, {URL: "https://x/b.png"}}
	_, err := a.Build(context.Background(), items, Options{Compression: CompressionStore}, &failingWriter{limit: 1024})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
}

type recorder struct {
	mu     sync.Mutex
	waits  int
	report *Report
	err    error
}

func (r *recorder) LimiterWait(scope string, wait time.Duration) {
	r.mu.Lock()
	r.waits++
	r.mu.Unlock()
}

func (r *recorder) ArchiveBuilt(report *Report, err error) {
	r.report = report
	r.err = err
}

func TestBuildReportsToRecorder(t *testing.T) {
	rec := &recorder{}
	log := logger.NewTestLogger()
	a := New(mapResolver(map[string]fetch.Result{"https://x/a.png": okResult("a")}), WithLogger(log), WithRecorder(rec))

	_, err := a.Build(context.Background(), []Item{{URL: "https://x/a.png"}, {URL: "https://x/b.png"}}, Options{}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 4, rec.waits, "one global and one host admission per fetched item")
	require.NotNil(t, rec.report)
	assert.NoError(t, rec.err)
	assert.Equal(t, []string{"a.png", "b.png", FailedEntryName}, rec.report.Entries)
	assert.True(t, log.HasMessage("Archive built with failures"))
}

func TestWriteErrorArchive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteErrorArchive(&buf, "request timed out"))

	entries := readArchive(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, ErrorEntryName, entries[0].name)
	assert.Equal(t, "request timed out\n", string(entries[0].data))
}

func TestFormatFailures(t *testing.T) {
	out := FormatFailures([]Failure{
		{Index: 0, URL: "https://x/a.png", Message: "timeout error: request timed out"},
		{Index: 9, URL: "", Message: "missing url"},
	})
	assert.Equal(t, "#1 https://x/a.png — timeout error: request timed out\n#10 (none) — missing url\n", out)
}
