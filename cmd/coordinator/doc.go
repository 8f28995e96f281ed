// Package main hosts the shard coordinator entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the volunteer worker protocol (/api/...), dashboard reads (/data,
//     /leaderboard, /worker/{name}/data), admin repairs (/admin/...), health probes and /metrics.
//   - Claims: internal/coordinator.Service validates requests and delegates to the relational store, which hands
//     each job to exactly one worker with a FOR UPDATE SKIP LOCKED claim.
//   - Leader duties: every process runs the elector; only the leader runs the idle reaper, the throughput/ETA
//     estimator and the optional snapshot exporter through internal/dispatcher.
//   - Shared state: Postgres is the source of truth; Redis holds the leader lease, the published ETA, the banner
//     and the response cache. Memory backends exist for local development.
//
// Quick checklist:
//   - Configure env vars: COORD_DATABASE_BACKEND=postgres, COORD_DATABASE_DSN, COORD_KV_BACKEND=redis,
//     COORD_KV_ADDR, COORD_AUTH_ADMIN_KEY, COORD_UPLOAD_ADDRESSES.
//   - Apply the schema: coordinator migrate --config config.yaml.
//   - Run: coordinator serve --config config.yaml (or rely solely on env overrides).
package main
