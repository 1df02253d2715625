package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowline/pkg/schema"
)

func TestMemoryStoreJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job := &Job{
		ID:        "job-1",
		AgentID:   "agent-1",
		UserID:    "user-1",
		Input:     json.RawMessage(`{"message":"hi"}`),
		Status:    schema.JobStatusPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, schema.JobStatusPending, got.Status)

	running := schema.JobStatusRunning
	now := time.Now()
	require.NoError(t, s.UpdateJob(ctx, "job-1", JobUpdate{Status: &running, StartedAt: &now}))

	completed := schema.JobStatusCompleted
	tokens := 42
	cost := 0.0021
	require.NoError(t, s.UpdateJob(ctx, "job-1", JobUpdate{
		Status:     &completed,
		Output:     json.RawMessage(`{"text":"hello"}`),
		TokensUsed: &tokens,
		Cost:       &cost,
	}))

	got, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, schema.JobStatusCompleted, got.Status)
	assert.Equal(t, 42, got.TokensUsed)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Output))
	assert.NotNil(t, got.StartedAt)
}

func TestMemoryStoreGetMissingReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	job, err := s.GetJob(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, job)

	agent, err := s.GetAgent(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, agent)

	wf, err := s.GetWorkflow(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, wf)
}

func TestMemoryStoreCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateAgent(ctx, &Agent{ID: "a1", Name: "original", Status: schema.StatusActive}))

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "original", again.Name)
}

func TestMemoryStoreListJobsFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	failed := schema.JobStatusFailed
	require.NoError(t, s.CreateJob(ctx, &Job{ID: "j1", AgentID: "a1", UserID: "u1", Status: schema.JobStatusCompleted}))
	require.NoError(t, s.CreateJob(ctx, &Job{ID: "j2", AgentID: "a1", UserID: "u1", Status: failed}))
	require.NoError(t, s.CreateJob(ctx, &Job{ID: "j3", AgentID: "a2", UserID: "u2", Status: failed}))

	jobs, err := s.ListJobs(ctx, JobFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, JobFilter{Status: &failed})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListJobs(ctx, JobFilter{UserID: "u1", Status: &failed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "j2", jobs[0].ID)
}

func TestMemoryStoreScheduleFilterEnabled(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateSchedule(ctx, &Schedule{ID: "s1", ResourceType: schema.ResourceWorkflow, ResourceID: "w1", CronExpression: "* * * * *", Enabled: true}))
	require.NoError(t, s.CreateSchedule(ctx, &Schedule{ID: "s2", ResourceType: schema.ResourcePipeline, ResourceID: "p1", CronExpression: "0 * * * *", Enabled: false}))

	enabled := true
	list, err := s.ListSchedules(ctx, ScheduleFilter{Enabled: &enabled})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)
}

func TestMemoryStoreVectorCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.CreateCollection(ctx, &Collection{ID: "c1", Name: "docs", Status: schema.StatusActive}))
	require.NoError(t, s.AddVector(ctx, &VectorRecord{ID: "v1", CollectionID: "c1", Text: "hello", Embedding: []float64{0.1, 0.2}}))
	require.NoError(t, s.IncrementCollectionVectors(ctx, "c1", 1))

	c, err := s.GetCollection(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, c.VectorCount)

	vecs, err := s.ListVectors(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, "hello", vecs[0].Text)
}
