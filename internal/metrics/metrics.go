// Package metrics exposes Prometheus metrics for fetches, archive builds and
// the HTTP front door.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imgrelay/pkg/archive"
	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
)

// Namespace is the namespace for all imgrelay metrics.
const Namespace = "imgrelay"

// Metrics holds all Prometheus metrics for imgrelay.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Fetch metrics
	FetchTriesTotal     *prometheus.CounterVec
	FetchTryDuration    *prometheus.HistogramVec
	SingleResponseTotal *prometheus.CounterVec

	// Archive metrics
	ArchiveBuildsTotal   *prometheus.CounterVec
	ArchiveEntriesTotal  prometheus.Counter
	ArchiveFailuresTotal prometheus.Counter
	ArchiveBytesTotal    prometheus.Counter
	ArchiveDuration      prometheus.Histogram
	LimiterWaitSeconds   *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all metrics on a fresh registry that also
// carries the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry creates and registers all metrics on reg.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	factory := promauto.With(reg)
	m := &Metrics{gatherer: gatherer}

	m.initFetchMetrics(factory)
	m.initArchiveMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initFetchMetrics(factory promauto.Factory) {
	m.FetchTriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "fetch",
			Name:      "tries_total",
			Help:      "Upstream requests made while resolving images, by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	m.FetchTryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "fetch",
			Name:      "try_duration_seconds",
			Help:      "Duration of single upstream requests",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"route"},
	)

	m.SingleResponseTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "image",
			Name:      "responses_total",
			Help:      "Single-image responses by kind (upstream, placeholder, passthrough)",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initArchiveMetrics(factory promauto.Factory) {
	m.ArchiveBuildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "archive",
			Name:      "builds_total",
			Help:      "Archive builds by result",
		},
		[]string{"result"},
	)

	m.ArchiveEntriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "entries_total",
		Help:      "Image entries written into archives",
	})

	m.ArchiveFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "failures_total",
		Help:      "Archive items written as placeholders",
	})

	m.ArchiveBytesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "bytes_total",
		Help:      "Bytes of archive data streamed to clients",
	})

	m.ArchiveDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: "archive",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock duration of archive builds",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
	})

	m.LimiterWaitSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "limiter",
			Name:      "wait_seconds",
			Help:      "Time jobs spent queued before admission",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"scope"},
	)
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status code",
		},
		[]string{"route", "method", "code"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route pattern",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
}

// ObserveTry records one upstream request. It matches fetch.WithObserver.
func (m *Metrics) ObserveTry(t fetch.Try) {
	outcome := "success"
	if t.Err != nil {
		outcome = string(errs.TypeOf(t.Err))
	}
	m.FetchTriesTotal.WithLabelValues(t.Route, outcome).Inc()
	m.FetchTryDuration.WithLabelValues(t.Route).Observe(t.Duration.Seconds())
}

// LimiterWait records a limiter queue wait
func (m *Metrics) LimiterWait(scope string, wait time.Duration) {
	m.LimiterWaitSeconds.WithLabelValues(scope).Observe(wait.Seconds())
}

// ArchiveBuilt records a finished archive build
func (m *Metrics) ArchiveBuilt(report *archive.Report, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ArchiveBuildsTotal.WithLabelValues(result).Inc()
	if report == nil {
		return
	}

	images := len(report.Entries)
	if len(report.Failures) > 0 && images > 0 && report.Entries[images-1] == archive.FailedEntryName {
		images--
	}
	m.ArchiveEntriesTotal.Add(float64(images))
	m.ArchiveFailuresTotal.Add(float64(len(report.Failures)))
	m.ArchiveBytesTotal.Add(float64(report.BytesWritten))
	m.ArchiveDuration.Observe(report.Duration.Seconds())
}

// SingleResponse records the kind of a single-image response
func (m *Metrics) SingleResponse(kind string) {
	m.SingleResponseTotal.WithLabelValues(kind).Inc()
}

// ObserveHTTP records a served request
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the exposition format for the registry behind m
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
