// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes and GET /metrics for Prometheus scraping.
//   - /api/v1/crawl/... to start, stop and observe crawl runs.
//   - /api/v1/articles for the monitored URL registry and read-count history.
//   - POST /api/v1/sync for a spreadsheet sync, subject to a cooldown.
//   - /api/v1/jobs for background job status and cancellation.
package api
