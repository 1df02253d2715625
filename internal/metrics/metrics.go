package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Execution is one recorded execution of an agent, workflow or pipeline.
type Execution struct {
	ResourceType string        `json:"resource_type"` // agent | workflow | pipeline
	ResourceID   string        `json:"resource_id"`
	ExecutionID  string        `json:"execution_id,omitempty"`
	UserID       string        `json:"user_id,omitempty"`
	Duration     time.Duration `json:"duration"`
	APICalls     int           `json:"api_calls,omitempty"`
	TokensUsed   int           `json:"tokens_used,omitempty"`
	Cost         float64       `json:"cost,omitempty"`
	Status       string        `json:"status"` // completed | failed
	ErrorType    string        `json:"error_type,omitempty"`
}

// Recorder accepts execution metrics. Recording is best effort; callers
// never fail an execution because a metric could not be written.
type Recorder interface {
	Record(ctx context.Context, exec Execution)
}

// SlogRecorder logs each execution as a structured record.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a Recorder that writes to the given logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

func (r *SlogRecorder) Record(ctx context.Context, exec Execution) {
	r.logger.InfoContext(ctx, "execution recorded",
		slog.String("resource_type", exec.ResourceType),
		slog.String("resource_id", exec.ResourceID),
		slog.String("execution_id", exec.ExecutionID),
		slog.String("status", exec.Status),
		slog.Duration("duration", exec.Duration),
		slog.Int("api_calls", exec.APICalls),
		slog.Int("tokens_used", exec.TokensUsed),
		slog.Float64("cost", exec.Cost),
	)
}

// MemoryRecorder collects executions in memory. Used in tests.
type MemoryRecorder struct {
	mu    sync.Mutex
	execs []Execution
}

// NewMemoryRecorder creates an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, exec Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs = append(r.execs, exec)
}

// Executions returns a copy of everything recorded so far.
func (r *MemoryRecorder) Executions() []Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Execution, len(r.execs))
	copy(out, r.execs)
	return out
}

var (
	_ Recorder = (*SlogRecorder)(nil)
	_ Recorder = (*MemoryRecorder)(nil)
)
