package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"imgrelay/internal/downloader"
	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/limiter"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/naming"
	"imgrelay/pkg/placeholder"
)

const (
	// FailedEntryName is the diagnostic entry listing failed items
	FailedEntryName = "FAILED.txt"
	// ErrorEntryName is the single entry of an error archive
	ErrorEntryName = "ERROR.txt"

	CompressionDeflate = "deflate"
	CompressionStore   = "store"
)

// ErrNoItems is returned by Build for an empty item list
var ErrNoItems = &errs.Error{
	Type:    errs.ErrorTypeInvalidInput,
	Message: "no files to archive",
	Code:    http.StatusBadRequest,
}

// Item is one requested image
type Item struct {
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
}

// Job is an Item bound to its position in the request
type Job struct {
	Index    int
	URL      string
	Filename string
}

// Options tunes a single build
type Options struct {
	Concurrency        int
	PerHostConcurrency int
	Compression        string
}

// Failure records one item that was written as a placeholder
type Failure struct {
	Index   int
	URL     string
	Message string
}

// Report summarizes a finished build
type Report struct {
	Entries      []string
	Failures     []Failure
	Items        int
	BytesWritten int64
	Duration     time.Duration
}

// Recorder receives build telemetry
type Recorder interface {
	LimiterWait(scope string, wait time.Duration)
	ArchiveBuilt(report *Report, err error)
}

// Option configures an Assembler
type Option func(*Assembler)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithRecorder sets the telemetry recorder
func WithRecorder(r Recorder) Option {
	return func(a *Assembler) { a.recorder = r }
}

// Assembler builds ZIP archives with one entry per requested item
type Assembler struct {
	resolver downloader.Resolver
	logger   logger.Logger
	recorder Recorder
	now      func() time.Time
}

// New creates an Assembler that fetches through resolver
func New(resolver downloader.Resolver, opts ...Option) *Assembler {
	a := &Assembler{resolver: resolver, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logger.GetLogger()
	}
	a.logger = a.logger.WithField("component", "archive")
	return a
}

// Build fetches every item and streams the archive to w. The archive holds
// exactly one image entry per item, plus FAILED.txt when any item failed.
// Item failures never fail the build; only an empty item list or a write
// error does. The zip writer is closed on every path.
func (a *Assembler) Build(ctx context.Context, items []Item, opts Options, w io.Writer) (report *Report, err error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	start := a.now()
	jobs := make([]Job, len(items))
	for i, it := range items {
		jobs[i] = Job{Index: i, URL: strings.TrimSpace(it.URL), Filename: it.Filename}
	}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	report = &Report{Items: len(jobs)}

	defer func() {
		if cerr := zw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("finalize archive: %w", cerr)
		}
		report.BytesWritten = cw.n
		report.Duration = a.now().Sub(start)
		if a.recorder != nil {
			a.recorder.ArchiveBuilt(report, err)
		}
		if err != nil {
			a.logger.WithError(err).WarnWithFields("Archive build aborted", map[string]interface{}{
				"items":   report.Items,
				"written": len(report.Entries),
			})
			return
		}
		logger.LogArchive(a.logger, report.Items, len(report.Failures), report.BytesWritten, report.Duration)
	}()

	limOpts := limiter.Options{Global: opts.Concurrency, PerHost: opts.PerHostConcurrency}
	if a.recorder != nil {
		limOpts.OnAdmit = a.recorder.LimiterWait
	}
	window := reorderWindow(opts.Concurrency)
	dispatcher := downloader.NewDispatcher(buildCtx, a.resolver, limiter.New(limOpts), window, a.logger)
	defer dispatcher.Close()

	c := &committer{
		zw:       zw,
		registry: naming.NewRegistry(),
		report:   report,
		method:   compressionMethod(opts.Compression),
		modified: start,
		pending:  make(map[int]fetch.Result, window),
	}

	// Jobs are submitted at most window ahead of the oldest uncommitted
	// item, so a slow item holds back at most window bodies.
	submitted := 0
	submit := func() {
		for submitted < len(jobs) && submitted < c.next+window {
			job := jobs[submitted]
			submitted++
			if job.URL == "" {
				c.pending[job.Index] = fetch.Result{Err: errs.New(errs.ErrorTypeInvalidInput, http.StatusBadRequest, "missing url")}
				continue
			}
			if err := dispatcher.Submit(downloader.Job{Index: job.Index, URL: job.URL}); err != nil {
				c.pending[job.Index] = fetch.Result{Err: err}
			}
		}
	}

	for c.next < len(jobs) {
		submit()
		if _, ready := c.pending[c.next]; !ready {
			res, ok := <-dispatcher.Results()
			if !ok {
				break
			}
			c.pending[res.Job.Index] = res.Fetch
		}
		if err := c.flush(jobs); err != nil {
			return report, err
		}
	}

	if c.next != len(jobs) {
		return report, fmt.Errorf("archive incomplete: %d of %d items committed", c.next, len(jobs))
	}

	if len(report.Failures) > 0 {
		if err := c.write(FailedEntryName, []byte(FormatFailures(report.Failures))); err != nil {
			return report, err
		}
	}

	return report, nil
}

// reorderWindowFactor multiplies the global concurrency to size the reorder
// window
const reorderWindowFactor = 4

// reorderWindow is how many items may be in flight or waiting past the
// oldest uncommitted one
func reorderWindow(concurrency int) int {
	return reorderWindowFactor * limiter.ClampGlobal(concurrency)
}

// committer writes results in input order. Results that arrive early wait
// in pending until every earlier index has been written.
type committer struct {
	zw       *zip.Writer
	registry *naming.Registry
	report   *Report
	method   uint16
	modified time.Time
	pending  map[int]fetch.Result
	next     int
}

func (c *committer) flush(jobs []Job) error {
	for c.next < len(jobs) {
		res, ok := c.pending[c.next]
		if !ok {
			return nil
		}
		delete(c.pending, c.next)
		if err := c.commit(jobs[c.next], res); err != nil {
			return err
		}
		c.next++
	}
	return nil
}

func (c *committer) commit(job Job, res fetch.Result) error {
	suggested := suggestedName(job)

	if res.OK() {
		contentType := naming.Sniff(res.ContentType, res.Body)
		name := c.registry.Resolve(suggested, contentType, job.URL)
		return c.write(name, res.Body)
	}

	// a failed item keeps an explicit extension, otherwise it is named as the PNG it is
	name := c.registry.Resolve(suggested, placeholder.ContentType, "")
	c.report.Failures = append(c.report.Failures, Failure{
		Index:   job.Index,
		URL:     job.URL,
		Message: res.Reason(),
	})
	return c.write(name, placeholder.Bytes())
}

func (c *committer) write(name string, data []byte) error {
	fw, err := c.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   c.method,
		Modified: c.modified,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write entry %s: %w", name, err)
	}
	c.report.Entries = append(c.report.Entries, name)
	return nil
}

// suggestedName is the explicit filename, else the URL's last path segment,
// else an index-based default.
func suggestedName(job Job) string {
	if strings.TrimSpace(job.Filename) != "" {
		return job.Filename
	}
	if base := naming.BaseFromURL(job.URL); strings.TrimSpace(base) != "" {
		return base
	}
	return fmt.Sprintf("image_%d", job.Index+1)
}

// FormatFailures renders the FAILED.txt body. Indexes are 1-based.
func FormatFailures(failures []Failure) string {
	var b strings.Builder
	for _, f := range failures {
		url := f.URL
		if url == "" {
			url = "(none)"
		}
		fmt.Fprintf(&b, "#%d %s — %s\n", f.Index+1, url, f.Message)
	}
	return b.String()
}

// WriteErrorArchive writes a minimal valid archive holding ERROR.txt
func WriteErrorArchive(w io.Writer, msg string) error {
	zw := zip.NewWriter(w)
	fw, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ErrorEntryName,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("create %s: %w", ErrorEntryName, err)
	}
	if _, err := io.WriteString(fw, msg+"\n"); err != nil {
		_ = zw.Close()
		return fmt.Errorf("write %s: %w", ErrorEntryName, err)
	}
	return zw.Close()
}

func compressionMethod(name string) uint16 {
	if strings.EqualFold(name, CompressionStore) {
		return zip.Store
	}
	return zip.Deflate
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
