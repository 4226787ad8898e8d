package domain

import "time"

// RunRecord is the append-only log entry written once per flow run.
type RunRecord struct {
	ID        string         `json:"run_id"`
	Flow      string         `json:"flow"`
	Timestamp time.Time      `json:"timestamp"`
	Inputs    map[string]any `json:"inputs"`
	Outputs   map[string]any `json:"outputs"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	// Path is where the record was written; it is not part of the payload.
	Path string `json:"-"`
}

// RunSummary is the indexed view of a RunRecord kept by the run store.
type RunSummary struct {
	ID        string    `json:"run_id"`
	Flow      string    `json:"flow"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
}

// Run statuses.
const (
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
)
