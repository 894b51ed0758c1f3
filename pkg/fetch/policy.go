package fetch

import (
	"net/url"
	"strings"
	"time"

	"imgrelay/pkg/config"
	"imgrelay/pkg/retry"
)

// Policy controls how hard the Strategy works for one URL
type Policy struct {
	// MaxAttempts is the number of full passes over all routes
	MaxAttempts int
	// Backoff is waited between passes
	Backoff retry.BackoffStrategy
	// HeaderVariants enables the no-Referer and origin-Referer retries
	HeaderVariants bool
	// Proxies are relay URL templates tried after the direct routes
	Proxies []string
	// AttemptTimeout bounds a single request
	AttemptTimeout time.Duration
	// ProxyDelay is waited before each route after the first in a pass
	ProxyDelay time.Duration
	// MaxBodyBytes rejects larger bodies; 0 disables the limit
	MaxBodyBytes int64

	UserAgent      string
	AcceptLanguage string
	Referer        string

	// HostPermitted, if set, is consulted before any request is made
	HostPermitted func(*url.URL) bool
}

// DefaultPolicy returns the full retry, variant and proxy policy
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.DefaultConfig())
}

// PassthroughPolicy makes one direct request and nothing else
func PassthroughPolicy() Policy {
	return DefaultPolicy().simple()
}

func (p Policy) simple() Policy {
	p.MaxAttempts = 1
	p.HeaderVariants = false
	p.Proxies = nil
	return p
}

// PolicyFromConfig builds a policy from the fetch and retry sections.
// fetch.policy "simple" yields PassthroughPolicy semantics.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:    cfg.Retry.BaseDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			JitterFactor: cfg.Retry.JitterFactor,
		},
		HeaderVariants: cfg.Fetch.HeaderVariants,
		Proxies:        append([]string(nil), cfg.Fetch.Proxies...),
		AttemptTimeout: cfg.Fetch.AttemptTimeout,
		ProxyDelay:     cfg.Fetch.ProxyDelay,
		MaxBodyBytes:   cfg.Fetch.MaxBodyBytes,
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Referer:        cfg.Fetch.Referer,
		HostPermitted:  AllowHosts(cfg.Fetch.AllowedHosts),
	}
	if strings.EqualFold(cfg.Fetch.Policy, config.FetchPolicySimple) {
		return p.simple()
	}
	return p
}

// AllowHosts returns a predicate accepting the listed hosts and their
// subdomains. An empty list returns nil, which allows every host.
func AllowHosts(hosts []string) func(*url.URL) bool {
	var allowed []string
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		h = strings.TrimPrefix(h, "*.")
		if h != "" {
			allowed = append(allowed, h)
		}
	}
	if len(allowed) == 0 {
		return nil
	}

	return func(u *url.URL) bool {
		host := strings.ToLower(u.Hostname())
		for _, a := range allowed {
			if host == a || strings.HasSuffix(host, "."+a) {
				return true
			}
		}
		return false
	}
}
