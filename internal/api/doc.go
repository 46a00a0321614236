// Package api hosts the fetchd HTTP server. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/fetch, /v1/screenshot and /v1/download, each run on an
//     orchestrator checked out of the worker pool.
package api
