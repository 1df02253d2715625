package schema

// Stream event types published to the event hub during execution.
const (
	EventJobQueued       = "job.queued"
	EventJobStarted      = "job.started"
	EventJobCompleted    = "job.completed"
	EventJobFailed       = "job.failed"
	EventRunStarted      = "run.started"
	EventRunCompleted    = "run.completed"
	EventRunFailed       = "run.failed"
	EventScheduleFired   = "schedule.fired"
	EventWebhookReceived = "webhook.received"
)
