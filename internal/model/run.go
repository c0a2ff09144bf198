// Package model defines the data structures used throughout the application.
package model

import "time"

// RunState is where a run ended up. A run is "running" until the runtime
// resolves it.
type RunState string

const (
	RunRunning RunState = "running"
	RunReady   RunState = "ready"
	RunTimeout RunState = "timeout"
	RunFailed  RunState = "failed"
	RunStopped RunState = "stopped"
)

// Run is the history record of one backend or full-stack execution.
//
// Only metadata is stored. The source a user ran is never persisted, and the
// terminal output lives in memory for as long as the run's stream does.
type Run struct {
	ID        string   `json:"id"`
	Framework string   `json:"framework"`
	Kind      string   `json:"kind"`
	State     RunState `json:"state"`
	// URL is where the server answered, empty until it was ready.
	URL        string     `json:"url,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Finished reports whether the run has left the running state. A ready run
// is finished from the history's point of view even though its server is up.
func (r *Run) Finished() bool {
	return r.State != RunRunning
}
