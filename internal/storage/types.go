package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": jsonl journal
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// KeepPerJob bounds how many runs per job survive compaction.
	// 0 means defaultKeepPerJob.
	KeepPerJob int
}

const defaultKeepPerJob = 200

// RunRecord is one execution of a scheduled job.
type RunRecord struct {
	ID        string        `json:"id"`
	Job       string        `json:"job"`
	Scheduler string        `json:"scheduler"`
	Kind      string        `json:"kind"`
	Seq       uint64        `json:"seq"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	Error     string        `json:"error,omitempty"`
}
