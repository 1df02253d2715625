package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowline/pkg/schema"
)

// Job is one queued invocation of the agent runner. Created PENDING by the
// enqueueing caller; owned exclusively by the runner once dequeued.
type Job struct {
	ID          string           `json:"id"`
	ExecutionID string           `json:"execution_id,omitempty"`
	AgentID     string           `json:"agent_id"`
	UserID      string           `json:"user_id"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Status      schema.JobStatus `json:"status"`
	Output      json.RawMessage  `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	TokensUsed  int              `json:"tokens_used,omitempty"`
	Cost        float64          `json:"cost,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	DurationMs  int64            `json:"duration_ms,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Agent is a configured completion agent.
type Agent struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Name         string                `json:"name"`
	Type         schema.AgentType      `json:"type,omitempty"` // empty defaults to llm
	Status       schema.ResourceStatus `json:"status"`
	Model        string                `json:"model"`
	SystemPrompt string                `json:"system_prompt,omitempty"`
	Temperature  float64               `json:"temperature,omitempty"`
	CollectionID string                `json:"collection_id,omitempty"` // retrieval collection, optional
	TopK         int                   `json:"top_k,omitempty"`
	MinScore     float64               `json:"min_score,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Workflow is a persisted workflow graph owned by a user.
type Workflow struct {
	ID         string                    `json:"id"`
	UserID     string                    `json:"user_id"`
	Name       string                    `json:"name"`
	Status     schema.ResourceStatus     `json:"status"`
	Definition schema.WorkflowDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Pipeline is a persisted sequential pipeline owned by a user.
type Pipeline struct {
	ID         string                    `json:"id"`
	UserID     string                    `json:"user_id"`
	Name       string                    `json:"name"`
	Status     schema.ResourceStatus     `json:"status"`
	Definition schema.PipelineDefinition `json:"definition"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

// Schedule is a cron-triggered workflow or pipeline execution.
type Schedule struct {
	ID             string              `json:"id"`
	UserID         string              `json:"user_id"`
	ResourceType   schema.ResourceType `json:"resource_type"`
	ResourceID     string              `json:"resource_id"`
	CronExpression string              `json:"cron_expression"`
	Timezone       string              `json:"timezone,omitempty"`
	Enabled        bool                `json:"enabled"`
	NextRunAt      *time.Time          `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time          `json:"last_run_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Webhook is a signed inbound trigger bound to a workflow or pipeline.
type Webhook struct {
	ID           string              `json:"id"`
	UserID       string              `json:"user_id"`
	ResourceType schema.ResourceType `json:"resource_type"`
	ResourceID   string              `json:"resource_id"`
	URL          string              `json:"url,omitempty"`
	Secret       string              `json:"-"` // never serialized
	Enabled      bool                `json:"enabled"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Collection is a named vector collection used for retrieval.
type Collection struct {
	ID             string                `json:"id"`
	UserID         string                `json:"user_id"`
	Name           string                `json:"name"`
	Status         schema.ResourceStatus `json:"status"`
	EmbeddingModel string                `json:"embedding_model,omitempty"`
	VectorCount    int                   `json:"vector_count"`
	CreatedAt      time.Time             `json:"created_at"`
}

// VectorRecord is one embedded document stored in a collection.
type VectorRecord struct {
	ID           string          `json:"id"`
	CollectionID string          `json:"collection_id"`
	Text         string          `json:"text"`
	Embedding    []float64       `json:"embedding"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// JobUpdate specifies mutable fields of a job.
type JobUpdate struct {
	Status      *schema.JobStatus `json:"status,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       *string           `json:"error,omitempty"`
	TokensUsed  *int              `json:"tokens_used,omitempty"`
	Cost        *float64          `json:"cost,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  *int64            `json:"duration_ms,omitempty"`
}

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	UserID      string            `json:"user_id,omitempty"`
	AgentID     string            `json:"agent_id,omitempty"`
	ExecutionID string            `json:"execution_id,omitempty"`
	Status      *schema.JobStatus `json:"status,omitempty"`
	Limit       int               `json:"limit,omitempty"`
}

// ScheduleUpdate specifies mutable fields of a schedule.
type ScheduleUpdate struct {
	Enabled   *bool      `json:"enabled,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// ScheduleFilter specifies criteria for listing schedules.
type ScheduleFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// WebhookUpdate specifies mutable fields of a webhook.
type WebhookUpdate struct {
	Secret  *string `json:"-"`
	Enabled *bool   `json:"enabled,omitempty"`
}
