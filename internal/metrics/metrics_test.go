package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgrelay/pkg/archive"
	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
)

func newTestMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg), reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, lp := range metric.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if want != lp.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}

func TestObserveTry(t *testing.T) {
	m, reg := newTestMetrics()

	m.ObserveTry(fetch.Try{Route: fetch.RouteDirect, Status: 200, Duration: 20 * time.Millisecond})
	m.ObserveTry(fetch.Try{Route: fetch.RouteDirect, Status: 403, Err: errs.New(errs.ErrorTypeUpstreamStatus, 403, "forbidden")})
	m.ObserveTry(fetch.Try{Route: "proxy:images.weserv.nl", Err: errors.New("plain")})

	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_fetch_tries_total", map[string]string{"route": "direct", "outcome": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_fetch_tries_total", map[string]string{"route": "direct", "outcome": "upstream_status"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_fetch_tries_total", map[string]string{"route": "proxy:images.weserv.nl", "outcome": "unknown"}))
}

func TestArchiveBuilt(t *testing.T) {
	m, reg := newTestMetrics()

	m.ArchiveBuilt(&archive.Report{
		Entries:      []string{"a.png", "b.png", archive.FailedEntryName},
		Failures:     []archive.Failure{{Index: 1, URL: "https://x/b.png", Message: "not found"}},
		Items:        2,
		BytesWritten: 2048,
		Duration:     time.Second,
	}, nil)
	m.ArchiveBuilt(nil, errors.New("client went away"))

	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_archive_builds_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_archive_builds_total", map[string]string{"result": "error"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "imgrelay_archive_entries_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "imgrelay_archive_failures_total", nil))
	assert.Equal(t, 2048.0, counterValue(t, reg, "imgrelay_archive_bytes_total", nil))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, _ := newTestMetrics()
	m.ObserveHTTP("/api/image", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.LimiterWait("host", time.Millisecond)
	m.SingleResponse("placeholder")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `imgrelay_http_requests_total{code="200",method="GET",route="/api/image"} 1`)
	assert.Contains(t, string(body), `imgrelay_limiter_wait_seconds_count{scope="host"} 1`)
	assert.Contains(t, string(body), `imgrelay_image_responses_total{kind="placeholder"} 1`)
}

func TestNewIncludesRuntimeCollectors(t *testing.T) {
	m := New()
	families, err := m.gatherer.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() == "go_goroutines" {
			found = true
		}
	}
	assert.True(t, found)
}
