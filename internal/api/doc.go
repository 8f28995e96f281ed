// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes. /healthz also reports
//     whether this node currently holds leadership.
//   - GET /metrics for Prometheus scraping.
//   - /api/... for the volunteer worker protocol (register, claim, report).
//   - GET /data, /leaderboard and /worker/{name}/data for dashboards.
//   - /admin/... for operator repairs and the worker listing, mounted only
//     when an admin key is set.
package api
