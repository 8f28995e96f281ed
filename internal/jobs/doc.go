// Package jobs defines the shard coordinator's domain model: jobs and their
// stage tracks, registered workers, leaderboard credit, the error taxonomy
// returned across the service, and the collaborator interfaces the storage
// and transport layers implement.
package jobs
