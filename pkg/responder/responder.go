// Package responder serves a single image, degrading to a placeholder or to
// the upstream status when the fetch fails.
package responder

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"imgrelay/pkg/config"
	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/fetch"
	"imgrelay/pkg/logger"
	"imgrelay/pkg/placeholder"
)

// ErrMissingURL is returned when no URL was given
var ErrMissingURL = &errs.Error{
	Type:    errs.ErrorTypeInvalidInput,
	Message: "missing url",
	Code:    http.StatusBadRequest,
}

// Response is what the caller should send back
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	// Placeholder is set when Body is the placeholder image
	Placeholder bool
	// Err is the fetch failure behind a degraded response
	Err error
}

// Resolver fetches one URL
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) fetch.Result
}

// Responder fetches one image directly, without limiters
type Responder struct {
	resolver Resolver
	mode     string
	logger   logger.Logger
}

// New creates a Responder. mode is config.FailureModePlaceholder or
// config.FailureModePassthrough; anything else means placeholder.
func New(resolver Resolver, mode string, log logger.Logger) *Responder {
	if log == nil {
		log = logger.GetLogger()
	}
	if mode != config.FailureModePassthrough {
		mode = config.FailureModePlaceholder
	}
	return &Responder{resolver: resolver, mode: mode, logger: log.WithField("component", "responder")}
}

// Mode returns the failure mode in effect
func (r *Responder) Mode() string {
	return r.mode
}

// Respond fetches rawURL. The only error is ErrMissingURL; every fetch
// failure becomes a response.
func (r *Responder) Respond(ctx context.Context, rawURL string) (*Response, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrMissingURL
	}

	res := r.resolver.Resolve(ctx, rawURL)
	if res.OK() {
		return &Response{
			Status:      http.StatusOK,
			Body:        res.Body,
			ContentType: res.ContentType,
		}, nil
	}

	r.logger.WithError(res.Err).WarnWithFields("Serving degraded response", map[string]interface{}{
		"url":    rawURL,
		"mode":   r.mode,
		"status": res.Status,
	})

	if r.mode == config.FailureModePassthrough {
		status := res.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return &Response{
			Status:      status,
			Body:        []byte(failureText(status, res.Err)),
			ContentType: "text/plain; charset=utf-8",
			Err:         res.Err,
		}, nil
	}

	return &Response{
		Status:      http.StatusOK,
		Body:        placeholder.Bytes(),
		ContentType: placeholder.ContentType,
		Placeholder: true,
		Err:         res.Err,
	}, nil
}

func failureText(status int, err error) string {
	msg := http.StatusText(status)
	var typed *errs.Error
	if errors.As(err, &typed) && typed.Message != "" {
		msg = typed.Message
	}
	return msg + "\n"
}
