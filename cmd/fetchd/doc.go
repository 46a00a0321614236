// Package main hosts the fetchd service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, and the fetch, screenshot and download endpoints.
//     Each request checks an orchestrator out of the worker pool, so one browsing profile and session never serves
//     two requests at once.
//   - Fetch: internal/fetch.Orchestrator drives one backend (colly, chromedp or rod) through a bounded retry loop,
//     rotating proxy and User-Agent between attempts and waiting on a per-host token bucket before each one.
//   - Failures: exhausted URLs are reported to the configured observers: zap log, Prometheus counters, a Pub/Sub
//     topic, and a Postgres table.
//   - Artifacts: screenshots and downloads are written under storage.work_dir, digested with SHA-256, and mirrored
//     to GCS when a bucket is configured.
//
// Quick checklist:
//   - Configure env vars with the WEBWRAPPER_ prefix, e.g. WEBWRAPPER_BACKEND_KIND=rod,
//     WEBWRAPPER_WORKERS_COUNT=8, WEBWRAPPER_ROTATION_PROXIES=host1:3128,host2:3128.
//   - Run locally: go run ./cmd/fetchd -config config.yaml (or rely solely on env overrides).
//   - SIGINT/SIGTERM drain in-flight requests, then quit every browser session.
package main
