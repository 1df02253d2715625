package streaming

import "context"

// StreamEvent is a real-time event emitted during job and run execution.
type StreamEvent struct {
	EventType  string `json:"event_type"`
	ResourceID string `json:"resource_id,omitempty"` // workflow, pipeline, agent or schedule ID
	RunID      string `json:"run_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ResourceID string   `json:"resource_id,omitempty"`
	UserID     string   `json:"user_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
