// Package storage persists the run journal of scheduled jobs.
//
// Two drivers are available:
//   - "file": append-only JSON Lines with periodic compaction
//   - "sqlite": a SQLite database (pure Go driver)
package storage
