package limiter

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"imgrelay/pkg/config"
)

// UnknownHost is the bucket used for URLs without a parseable host
const UnknownHost = "unknown"

// HostGate keeps one Gate per host key, created on first use
type HostGate struct {
	capacity int
	onAdmit  func(host string, wait time.Duration)

	mu    sync.Mutex
	gates map[string]*Gate
}

// NewHostGate creates a per-host gate where every host gets the same capacity
func NewHostGate(capacity int) *HostGate {
	return &HostGate{
		capacity: capacity,
		gates:    make(map[string]*Gate),
	}
}

// Gate returns the gate for host, creating it if needed
func (h *HostGate) Gate(host string) *Gate {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.gates[host]
	if !ok {
		g = NewGate(h.capacity)
		if h.onAdmit != nil {
			onAdmit := h.onAdmit
			g.onAdmit = func(wait time.Duration) { onAdmit(host, wait) }
		}
		h.gates[host] = g
	}
	return g
}

// Do runs fn under the gate for host
func (h *HostGate) Do(ctx context.Context, host string, fn func(context.Context) error) error {
	return h.Gate(host).Do(ctx, fn)
}

// Peak returns the highest number of simultaneously active jobs seen for host
func (h *HostGate) Peak(host string) int {
	h.mu.Lock()
	g, ok := h.gates[host]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return g.Peak()
}

// Hosts returns the number of distinct hosts seen
func (h *HostGate) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.gates)
}

// Options configures a Limiters set
type Options struct {
	// Global is the total in-flight cap; 0 means the configured default
	Global int
	// PerHost is the per-host in-flight cap; 0 means the configured default
	PerHost int
	// OnAdmit, if set, is called with the queue wait of every admission.
	// scope is "global" or "host".
	OnAdmit func(scope string, wait time.Duration)
}

// Limiters composes a global gate around a per-host gate. A set is meant to
// live for one archive build.
type Limiters struct {
	Global *Gate
	Hosts  *HostGate
}

// New creates a Limiters set with capacities clamped to the accepted ranges
func New(opts Options) *Limiters {
	global := NewGate(ClampGlobal(opts.Global))
	hosts := NewHostGate(ClampPerHost(opts.PerHost))

	if opts.OnAdmit != nil {
		onAdmit := opts.OnAdmit
		global.onAdmit = func(wait time.Duration) { onAdmit("global", wait) }
		hosts.onAdmit = func(_ string, wait time.Duration) { onAdmit("host", wait) }
	}

	return &Limiters{Global: global, Hosts: hosts}
}

// Schedule waits for a global slot, then a slot for host, then runs fn
func (l *Limiters) Schedule(ctx context.Context, host string, fn func(context.Context) error) error {
	return l.Global.Do(ctx, func(ctx context.Context) error {
		return l.Hosts.Do(ctx, host, fn)
	})
}

// ClampGlobal maps a requested global concurrency into the accepted range.
// Zero or negative selects the default.
func ClampGlobal(n int) int {
	if n <= 0 {
		return config.DefaultConcurrency
	}
	return clamp(n, config.MinConcurrency, config.MaxConcurrency)
}

// ClampPerHost maps a requested per-host concurrency into the accepted range.
// Zero or negative selects the default.
func ClampPerHost(n int) int {
	if n <= 0 {
		return config.DefaultPerHostConcurrency
	}
	return clamp(n, config.MinPerHostConcurrency, config.MaxPerHostConcurrency)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// HostKey returns the lowercased host of rawURL, or UnknownHost
func HostKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Hostname() == "" {
		return UnknownHost
	}
	return strings.ToLower(u.Hostname())
}
