// Package server exposes the single-image and archive endpoints over HTTP.
//
// Routes:
//
//	GET     /api/image?url=...   image bytes, or a placeholder on failure
//	POST    /api/zip             {"files":[{"url","filename"}],"concurrency","perHostConcurrency"}
//	OPTIONS /api/image, /api/zip CORS preflight
//	GET     /healthz             liveness
//	GET     /metrics             Prometheus exposition, when enabled
//
// Every request gets an X-Request-ID and is bounded by server.max_duration.
package server
