package store

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-memory Store implementation.
// Used in tests and as the default when no database path is configured.
// Entities are copied on read and write so callers never share references
// with the store's internal state.
type MemoryStore struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	agents      map[string]*Agent
	workflows   map[string]*Workflow
	pipelines   map[string]*Pipeline
	schedules   map[string]*Schedule
	webhooks    map[string]*Webhook
	collections map[string]*Collection
	vectors     map[string][]*VectorRecord // collection ID → records
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        make(map[string]*Job),
		agents:      make(map[string]*Agent),
		workflows:   make(map[string]*Workflow),
		pipelines:   make(map[string]*Pipeline),
		schedules:   make(map[string]*Schedule),
		webhooks:    make(map[string]*Webhook),
		collections: make(map[string]*Collection),
		vectors:     make(map[string][]*VectorRecord),
	}
}

// --- Jobs ---

func (m *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *MemoryStore) UpdateJob(_ context.Context, id string, update JobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	if update.Status != nil {
		j.Status = *update.Status
	}
	if update.Output != nil {
		j.Output = update.Output
	}
	if update.Error != nil {
		j.Error = *update.Error
	}
	if update.TokensUsed != nil {
		j.TokensUsed = *update.TokensUsed
	}
	if update.Cost != nil {
		j.Cost = *update.Cost
	}
	if update.StartedAt != nil {
		j.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		j.CompletedAt = update.CompletedAt
	}
	if update.DurationMs != nil {
		j.DurationMs = *update.DurationMs
	}
	return nil
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Job
	for _, j := range m.jobs {
		if filter.UserID != "" && j.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != "" && j.AgentID != filter.AgentID {
			continue
		}
		if filter.ExecutionID != "" && j.ExecutionID != filter.ExecutionID {
			continue
		}
		if filter.Status != nil && j.Status != *filter.Status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Agents ---

func (m *MemoryStore) CreateAgent(_ context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *agent
	m.agents[agent.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
	return nil
}

// --- Workflows ---

func (m *MemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	m.workflows[wf.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *wf
	return &cp, nil
}

func (m *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

// --- Pipelines ---

func (m *MemoryStore) CreatePipeline(_ context.Context, p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.pipelines[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPipeline(_ context.Context, id string) (*Pipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) DeletePipeline(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, id)
	return nil
}

// --- Schedules ---

func (m *MemoryStore) CreateSchedule(_ context.Context, s *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.schedules[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSchedule(_ context.Context, id string) (*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSchedule(_ context.Context, id string, update ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		s.Enabled = *update.Enabled
	}
	if update.NextRunAt != nil {
		s.NextRunAt = update.NextRunAt
	}
	if update.LastRunAt != nil {
		s.LastRunAt = update.LastRunAt
	}
	return nil
}

func (m *MemoryStore) ListSchedules(_ context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Schedule
	for _, s := range m.schedules {
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		if filter.UserID != "" && s.UserID != filter.UserID {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

// --- Webhooks ---

func (m *MemoryStore) CreateWebhook(_ context.Context, w *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.webhooks[w.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWebhook(_ context.Context, id string) (*Webhook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.webhooks[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) UpdateWebhook(_ context.Context, id string, update WebhookUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.webhooks[id]
	if !ok {
		return nil
	}
	if update.Secret != nil {
		w.Secret = *update.Secret
	}
	if update.Enabled != nil {
		w.Enabled = *update.Enabled
	}
	return nil
}

func (m *MemoryStore) DeleteWebhook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.webhooks, id)
	return nil
}

// --- Collections and vectors ---

func (m *MemoryStore) CreateCollection(_ context.Context, c *Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.collections[c.ID] = &cp
	return nil
}

func (m *MemoryStore) GetCollection(_ context.Context, id string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) IncrementCollectionVectors(_ context.Context, id string, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[id]; ok {
		c.VectorCount += delta
	}
	return nil
}

func (m *MemoryStore) AddVector(_ context.Context, v *VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.vectors[v.CollectionID] = append(m.vectors[v.CollectionID], &cp)
	return nil
}

func (m *MemoryStore) ListVectors(_ context.Context, collectionID string) ([]*VectorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.vectors[collectionID]
	result := make([]*VectorRecord, 0, len(records))
	for _, v := range records {
		cp := *v
		result = append(result, &cp)
	}
	return result, nil
}

// Migrate is a no-op for the in-memory store.
func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
