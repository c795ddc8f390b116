// Package api hosts the operator HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to start a harvest, GET /v1/runs/current for its status.
//   - POST /v1/runs/current/cancel to stop it.
//   - GET /v1/runs/current/records.csv for the finished run's export.
package api
