// Package api hosts the optional HTTP listener that runs alongside a crawl.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for a JSON snapshot of the running crawl.
package api
