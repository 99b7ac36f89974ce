// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions to trigger a crawl; GET /v1/sessions[/{id}[/result]]
//     to follow it.
//   - /v1/control, /v1/filter, /v1/downloads and /v1/convert for the runtime
//     signals (stop, slow mode, account tier, filter settings, download
//     lifecycle, conversion concurrency).
package api
