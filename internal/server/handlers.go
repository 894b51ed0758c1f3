package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"imgrelay/pkg/archive"
	errs "imgrelay/pkg/errors"
	"imgrelay/pkg/logger"
)

// zipRequest is the body of POST /api/zip
type zipRequest struct {
	Files              []archive.Item `json:"files"`
	Concurrency        int            `json:"concurrency,omitempty"`
	PerHostConcurrency int            `json:"perHostConcurrency,omitempty"`
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	resp, err := s.responder.Respond(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind := "upstream"
	cacheControl := "public, max-age=31536000, immutable"
	if resp.Placeholder {
		kind = "placeholder"
	}
	if resp.Status != http.StatusOK {
		kind = "passthrough"
		cacheControl = "no-store"
	}

	h := w.Header()
	h.Set("Content-Type", resp.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	h.Set("Cache-Control", cacheControl)
	if s.metrics != nil {
		s.metrics.SingleResponse(kind)
	}

	w.WriteHeader(resp.Status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(resp.Body)
	}
}

func (s *Server) handleZip(w http.ResponseWriter, r *http.Request) {
	var req zipRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, archive.ErrNoItems)
		return
	}
	if limit := s.cfg.Archive.MaxItems; limit > 0 && len(req.Files) > limit {
		writeError(w, http.StatusBadRequest, fmt.Errorf("too many files: %d (max %d)", len(req.Files), limit))
		return
	}

	opts := archive.Options{
		Concurrency:        req.Concurrency,
		PerHostConcurrency: req.PerHostConcurrency,
		Compression:        s.cfg.Archive.Compression,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = s.cfg.Limits.Concurrency
	}
	if opts.PerHostConcurrency == 0 {
		opts.PerHostConcurrency = s.cfg.Limits.PerHostConcurrency
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s-%s.zip"`, s.cfg.Archive.FilenamePrefix, s.now().Format("2006-01-02")))
	h.Set("Cache-Control", "no-store")

	log := s.logger.WithField("request_id", RequestID(r.Context()))
	streamArchive(w, log, func(out io.Writer) error {
		_, err := s.assembler.Build(r.Context(), req.Files, opts, out)
		return err
	})
}

// streamArchive runs build against w. If build fails or panics before any
// byte reached the client, an ERROR.txt archive is sent instead; after that
// point the stream can only be abandoned.
func streamArchive(w http.ResponseWriter, log logger.Logger, build func(io.Writer) error) {
	tw := &trackingWriter{w: w}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errs.New(errs.ErrorTypeArchive, 0, "archive build panicked: %v", r)
			}
		}()
		return build(tw)
	}()
	if err == nil {
		return
	}

	if tw.written {
		log.WithError(err).Error("Archive stream aborted")
		return
	}

	log.WithError(err).Warn("Archive build failed, sending error archive")
	if werr := archive.WriteErrorArchive(w, "archive could not be built: "+err.Error()); werr != nil {
		log.WithError(werr).Error("Failed to write error archive")
	}
}

type trackingWriter struct {
	w       io.Writer
	written bool
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.written = true
	}
	return t.w.Write(p)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	msg := err.Error()
	var typed *errs.Error
	if errors.As(err, &typed) {
		msg = typed.Message
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
