package schema

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ResourceStatus is the publication state of a stored resource.
type ResourceStatus string

const (
	StatusActive   ResourceStatus = "ACTIVE"
	StatusInactive ResourceStatus = "INACTIVE"
	StatusDraft    ResourceStatus = "DRAFT"
	StatusArchived ResourceStatus = "ARCHIVED"
)

// ResourceType identifies what a schedule or webhook triggers.
type ResourceType string

const (
	ResourceWorkflow ResourceType = "workflow"
	ResourcePipeline ResourceType = "pipeline"
)

// AgentType distinguishes completion agents from custom-code agents.
type AgentType string

const (
	AgentTypeLLM    AgentType = "llm"
	AgentTypeCustom AgentType = "custom"
)
