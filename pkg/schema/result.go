package schema

import "time"

// LogEntry is one ordered entry in a run's execution trace.
type LogEntry struct {
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Error     string    `json:"error,omitempty"`
}

// RunResult is the structured outcome of one workflow or pipeline run.
// A failed run still carries the partial log; callers never see a stack trace.
type RunResult struct {
	Success          bool       `json:"success"`
	Output           any        `json:"output,omitempty"`
	Error            string     `json:"error,omitempty"`
	Logs             []LogEntry `json:"logs"`
	RecordsProcessed int        `json:"records_processed,omitempty"` // pipeline runs only
}
