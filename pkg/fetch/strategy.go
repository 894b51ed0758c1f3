package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/retry"
)

// DefaultContentType is reported when the upstream sends none
const DefaultContentType = "application/octet-stream"

// Result is the outcome of resolving one URL. Err is nil on success.
type Result struct {
	Body        []byte
	ContentType string
	// Status is the HTTP status behind the outcome, 0 when no response was seen
	Status int
	// Route names the route that succeeded, or the last one tried
	Route    string
	Attempts int
	Err      error
}

// OK reports whether the fetch succeeded
func (r Result) OK() bool { return r.Err == nil }

// Reason is a short description of the failure, empty on success
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	var typed *errs.Error
	if errors.As(r.Err, &typed) {
		return typed.Message
	}
	return r.Err.Error()
}

// Try describes a single request made while resolving a URL
type Try struct {
	Route    string
	Status   int
	Err      error
	Duration time.Duration
}

// Option configures a Strategy
type Option func(*Strategy)

// WithHTTPClient replaces the HTTP client used for every request
func WithHTTPClient(c *http.Client) Option {
	return func(s *Strategy) { s.client = c }
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Strategy) { s.logger = l }
}

// WithObserver registers a callback invoked after every request
func WithObserver(fn func(Try)) Option {
	return func(s *Strategy) { s.observe = fn }
}

// Strategy resolves image URLs using direct requests, header variants and
// relay proxies, retrying whole passes with backoff.
type Strategy struct {
	client  *http.Client
	policy  Policy
	logger  logger.Logger
	observe func(Try)
}

// New creates a Strategy for the given policy
func New(policy Policy, opts ...Option) *Strategy {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = retry.DefaultExponentialBackoff()
	}

	s := &Strategy{
		client: &http.Client{},
		policy: policy,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.GetLogger()
	}
	return s
}

// Policy returns the policy the strategy was built with
func (s *Strategy) Policy() Policy {
	return s.policy
}

// Resolve fetches rawURL. It never returns an error and never panics; every
// failure is reported through Result.Err.
func (s *Strategy) Resolve(ctx context.Context, rawURL string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(errs.New(errs.ErrorTypeUnknown, 0, "fetch panicked: %v", r), res.Route, res.Attempts)
		}
	}()

	target, err := parseTarget(rawURL)
	if err != nil {
		return failure(err, "", 0)
	}

	if s.policy.HostPermitted != nil && !s.policy.HostPermitted(target) {
		err := errs.New(errs.ErrorTypeBlocked, http.StatusForbidden, "host %s is not allowed", target.Hostname())
		logger.LogFetch(s.logger, rawURL, "", 0, err)
		return failure(err, "", 0)
	}

	routes := s.routes(target)
	var last Result

	res, err = retry.DoWithResult(ctx, func(ctx context.Context, attempt int) (Result, error) {
		r := s.pass(ctx, routes)
		r.Attempts = attempt
		last = r
		return r, r.Err
	}, &retry.Config{
		MaxAttempts: s.policy.MaxAttempts,
		Backoff:     s.policy.Backoff,
		RetryIf:     shouldRetry,
		Logger:      s.logger,
	})

	if err != nil {
		// cancellation during backoff reports the failure of the last pass
		if last.Err == nil {
			last.Err = err
		}
		res = failure(last.Err, last.Route, last.Attempts)
		res.Status = last.Status
	}

	logger.LogFetch(s.logger, rawURL, res.Route, res.Attempts, res.Err)
	return res
}

// pass tries every route once and returns the first success. On failure the
// result carries the status seen from the origin if any, else from a relay.
func (s *Strategy) pass(ctx context.Context, routes []route) Result {
	var (
		lastErr      error
		lastRoute    string
		originStatus int
		relayStatus  int
	)

	for i, rt := range routes {
		if i > 0 && s.policy.ProxyDelay > 0 {
			if err := retry.Wait(ctx, s.policy.ProxyDelay); err != nil {
				lastErr = errs.New(errs.ErrorTypeTimeout, 0, "cancelled before %s: %v", rt.name, err)
				break
			}
		}

		body, contentType, status, err := s.try(ctx, rt)
		lastRoute = rt.name
		if err == nil {
			return Result{Body: body, ContentType: contentType, Status: status, Route: rt.name}
		}
		lastErr = err

		if status != 0 {
			if rt.proxy {
				relayStatus = status
			} else {
				originStatus = status
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	status := originStatus
	if status == 0 {
		status = relayStatus
	}

	if lastErr == nil {
		lastErr = errs.New(errs.ErrorTypeNetwork, 0, "no routes to try")
	}
	return Result{Status: status, Route: lastRoute, Err: withStatus(lastErr, status)}
}

// try performs one request bounded by the attempt timeout
func (s *Strategy) try(ctx context.Context, rt route) (body []byte, contentType string, status int, err error) {
	start := time.Now()
	defer func() {
		if s.observe != nil {
			s.observe(Try{Route: rt.name, Status: status, Err: err, Duration: time.Since(start)})
		}
	}()

	if s.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.AttemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rt.target, nil)
	if err != nil {
		return nil, "", 0, errs.New(errs.ErrorTypeInvalidInput, 0, "failed to create request: %v", err)
	}
	for key, value := range rt.headers {
		req.Header.Set(key, value)
	}

	s.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"route": rt.name,
		"url":   rt.target,
	})

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", 0, transportError(ctx, err)
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	if status < 200 || status > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", status, errs.New(errs.ErrorTypeUpstreamStatus, status, "%s returned status %d", rt.name, status)
	}

	contentType = resp.Header.Get("Content-Type")
	if rt.proxy && isHTML(contentType) {
		return nil, "", status, errs.New(errs.ErrorTypeUpstreamStatus, status, "%s returned an html page", rt.name)
	}

	reader := io.Reader(resp.Body)
	if s.policy.MaxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, s.policy.MaxBodyBytes+1)
	}
	body, err = io.ReadAll(reader)
	if err != nil {
		return nil, "", status, transportError(ctx, err)
	}
	if s.policy.MaxBodyBytes > 0 && int64(len(body)) > s.policy.MaxBodyBytes {
		return nil, "", status, errs.New(errs.ErrorTypeTooLarge, status, "body exceeds %d bytes", s.policy.MaxBodyBytes)
	}
	if len(body) == 0 {
		return nil, "", status, errs.New(errs.ErrorTypeUpstreamStatus, status, "%s returned an empty body", rt.name)
	}

	if contentType == "" {
		contentType = DefaultContentType
	}
	return body, contentType, status, nil
}

// shouldRetry decides whether another full pass is worthwhile
func shouldRetry(err error) bool {
	if !retry.DefaultRetryIf(err) {
		return false
	}
	if errs.TypeOf(err) == errs.ErrorTypeUpstreamStatus {
		return errs.IsRetryableStatusCode(errs.StatusOf(err))
	}
	return true
}

func parseTarget(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, http.StatusBadRequest, "missing url")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeInvalidInput, http.StatusBadRequest, "invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, http.StatusBadRequest, "unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errs.New(errs.ErrorTypeInvalidInput, http.StatusBadRequest, "url has no host")
	}
	return u, nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errs.New(errs.ErrorTypeTimeout, 0, "request timed out: %v", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.New(errs.ErrorTypeTimeout, 0, "request timed out: %v", err)
	}
	return errs.New(errs.ErrorTypeNetwork, 0, "network error: %v", err)
}

// withStatus attaches the pass status to a typed error that has none
func withStatus(err error, status int) error {
	var typed *errs.Error
	if status == 0 || !errors.As(err, &typed) || typed.Code == status {
		return err
	}
	t := typed.Type
	if t == errs.ErrorTypeNetwork || t == errs.ErrorTypeTimeout {
		return fmt.Errorf("%w (last upstream status %d)", err, status)
	}
	return errs.New(t, status, "%s", typed.Message)
}

func failure(err error, route string, attempts int) Result {
	return Result{
		Status:   errs.StatusOf(err),
		Route:    route,
		Attempts: attempts,
		Err:      err,
	}
}

func isHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, "text/html")
}
