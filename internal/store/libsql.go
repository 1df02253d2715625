package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowline/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. the database connector).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// --- Jobs ---

func (s *LibSQLStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, execution_id, agent_id, user_id, input, status, output, error, tokens_used, cost, started_at, completed_at, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, nullStr(job.ExecutionID), job.AgentID, job.UserID, nullRaw(job.Input),
		string(job.Status), nullRaw(job.Output), nullStr(job.Error),
		job.TokensUsed, job.Cost, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.DurationMs, timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetJob(ctx context.Context, id string) (*Job, error) {
	j := &Job{}
	var (
		executionID, errMsg    sql.NullString
		input, output          sql.NullString
		startedAt, completedAt sql.NullTime
		status                 string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, agent_id, user_id, input, status, output, error, tokens_used, cost, started_at, completed_at, duration_ms, created_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &executionID, &j.AgentID, &j.UserID, &input, &status, &output, &errMsg,
		&j.TokensUsed, &j.Cost, &startedAt, &completedAt, &j.DurationMs, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.ExecutionID = executionID.String
	j.Status = schema.JobStatus(status)
	j.Input = rawOrNil(input)
	j.Output = rawOrNil(output)
	j.Error = errMsg.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

func (s *LibSQLStore) UpdateJob(ctx context.Context, id string, update JobUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(update.Output))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, *update.Error)
	}
	if update.TokensUsed != nil {
		sets = append(sets, "tokens_used = ?")
		args = append(args, *update.TokensUsed)
	}
	if update.Cost != nil {
		sets = append(sets, "cost = ?")
		args = append(args, *update.Cost)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if update.DurationMs != nil {
		sets = append(sets, "duration_ms = ?")
		args = append(args, *update.DurationMs)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "job", id)
}

func (s *LibSQLStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	query := `SELECT id, execution_id, agent_id, user_id, input, status, output, error, tokens_used, cost, started_at, completed_at, duration_ms, created_at FROM jobs`
	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j := &Job{}
		var (
			executionID, errMsg    sql.NullString
			input, output          sql.NullString
			startedAt, completedAt sql.NullTime
			status                 string
		)
		if err := rows.Scan(&j.ID, &executionID, &j.AgentID, &j.UserID, &input, &status, &output, &errMsg,
			&j.TokensUsed, &j.Cost, &startedAt, &completedAt, &j.DurationMs, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.ExecutionID = executionID.String
		j.Status = schema.JobStatus(status)
		j.Input = rawOrNil(input)
		j.Output = rawOrNil(output)
		j.Error = errMsg.String
		if startedAt.Valid {
			j.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			j.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// --- Agents ---

func (s *LibSQLStore) CreateAgent(ctx context.Context, agent *Agent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agents (id, user_id, name, type, status, model, system_prompt, temperature, collection_id, top_k, min_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, status=excluded.status,
		   model=excluded.model, system_prompt=excluded.system_prompt, temperature=excluded.temperature,
		   collection_id=excluded.collection_id, top_k=excluded.top_k, min_score=excluded.min_score`,
		agent.ID, agent.UserID, agent.Name, nullStr(string(agent.Type)), string(agent.Status),
		agent.Model, nullStr(agent.SystemPrompt), agent.Temperature,
		nullStr(agent.CollectionID), agent.TopK, agent.MinScore, timeOrNow(agent.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	a := &Agent{}
	var agentType, systemPrompt, collectionID sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, type, status, model, system_prompt, temperature, collection_id, top_k, min_score, created_at
		 FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.UserID, &a.Name, &agentType, &status, &a.Model, &systemPrompt,
		&a.Temperature, &collectionID, &a.TopK, &a.MinScore, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Type = schema.AgentType(agentType.String)
	a.Status = schema.ResourceStatus(status)
	a.SystemPrompt = systemPrompt.String
	a.CollectionID = collectionID.String
	return a, nil
}

func (s *LibSQLStore) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, user_id, name, status, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.ID, wf.UserID, wf.Name, string(wf.Status), string(def),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf := &Workflow{}
	var defJSON, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, definition, created_at, updated_at FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &wf.UserID, &wf.Name, &status, &defJSON, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	wf.Status = schema.ResourceStatus(status)
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

// --- Pipelines ---

func (s *LibSQLStore) CreatePipeline(ctx context.Context, p *Pipeline) error {
	def, err := json.Marshal(p.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pipelines (id, user_id, name, status, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, status=excluded.status,
		   definition=excluded.definition, updated_at=excluded.updated_at`,
		p.ID, p.UserID, p.Name, string(p.Status), string(def),
		timeOrNow(p.CreatedAt), timeOrNow(p.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	p := &Pipeline{}
	var defJSON, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, definition, created_at, updated_at FROM pipelines WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &status, &defJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = schema.ResourceStatus(status)
	if err := json.Unmarshal([]byte(defJSON), &p.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return p, nil
}

func (s *LibSQLStore) DeletePipeline(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	return err
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, user_id, resource_type, resource_id, cron_expression, timezone, enabled, next_run_at, last_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET cron_expression=excluded.cron_expression,
		   timezone=excluded.timezone, enabled=excluded.enabled`,
		sched.ID, sched.UserID, string(sched.ResourceType), sched.ResourceID,
		sched.CronExpression, nullStr(sched.Timezone), sched.Enabled,
		nullTime(sched.NextRunAt), nullTime(sched.LastRunAt), timeOrNow(sched.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sched := &Schedule{}
	var timezone sql.NullString
	var nextRun, lastRun sql.NullTime
	var resourceType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, resource_type, resource_id, cron_expression, timezone, enabled, next_run_at, last_run_at, created_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.UserID, &resourceType, &sched.ResourceID, &sched.CronExpression,
		&timezone, &sched.Enabled, &nextRun, &lastRun, &sched.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sched.ResourceType = schema.ResourceType(resourceType)
	sched.Timezone = timezone.String
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE schedules SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT id, user_id, resource_type, resource_id, cron_expression, timezone, enabled, next_run_at, last_run_at, created_at FROM schedules`
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sched := &Schedule{}
		var timezone sql.NullString
		var nextRun, lastRun sql.NullTime
		var resourceType string
		if err := rows.Scan(&sched.ID, &sched.UserID, &resourceType, &sched.ResourceID,
			&sched.CronExpression, &timezone, &sched.Enabled, &nextRun, &lastRun, &sched.CreatedAt); err != nil {
			return nil, err
		}
		sched.ResourceType = schema.ResourceType(resourceType)
		sched.Timezone = timezone.String
		if nextRun.Valid {
			sched.NextRunAt = &nextRun.Time
		}
		if lastRun.Valid {
			sched.LastRunAt = &lastRun.Time
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// --- Webhooks ---

func (s *LibSQLStore) CreateWebhook(ctx context.Context, w *Webhook) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (id, user_id, resource_type, resource_id, url, secret, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, string(w.ResourceType), w.ResourceID, nullStr(w.URL),
		w.Secret, w.Enabled, timeOrNow(w.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	w := &Webhook{}
	var url sql.NullString
	var resourceType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, resource_type, resource_id, url, secret, enabled, created_at
		 FROM webhooks WHERE id = ?`, id,
	).Scan(&w.ID, &w.UserID, &resourceType, &w.ResourceID, &url, &w.Secret, &w.Enabled, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.ResourceType = schema.ResourceType(resourceType)
	w.URL = url.String
	return w, nil
}

func (s *LibSQLStore) UpdateWebhook(ctx context.Context, id string, update WebhookUpdate) error {
	var sets []string
	var args []any
	if update.Secret != nil {
		sets = append(sets, "secret = ?")
		args = append(args, *update.Secret)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE webhooks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "webhook", id)
}

func (s *LibSQLStore) DeleteWebhook(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

// --- Collections and vectors ---

func (s *LibSQLStore) CreateCollection(ctx context.Context, c *Collection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (id, user_id, name, status, embedding_model, vector_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Name, string(c.Status), nullStr(c.EmbeddingModel),
		c.VectorCount, timeOrNow(c.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetCollection(ctx context.Context, id string) (*Collection, error) {
	c := &Collection{}
	var embeddingModel sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, status, embedding_model, vector_count, created_at
		 FROM collections WHERE id = ?`, id,
	).Scan(&c.ID, &c.UserID, &c.Name, &status, &embeddingModel, &c.VectorCount, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Status = schema.ResourceStatus(status)
	c.EmbeddingModel = embeddingModel.String
	return c, nil
}

func (s *LibSQLStore) IncrementCollectionVectors(ctx context.Context, id string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET vector_count = vector_count + ? WHERE id = ?`, delta, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "collection", id)
}

func (s *LibSQLStore) AddVector(ctx context.Context, v *VectorRecord) error {
	embedding, err := json.Marshal(v.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vectors (id, collection_id, text, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.CollectionID, v.Text, string(embedding), nullRaw(v.Metadata), timeOrNow(v.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) ListVectors(ctx context.Context, collectionID string) ([]*VectorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, collection_id, text, embedding, metadata, created_at FROM vectors WHERE collection_id = ?`,
		collectionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*VectorRecord
	for rows.Next() {
		v := &VectorRecord{}
		var embeddingJSON string
		var metadata sql.NullString
		if err := rows.Scan(&v.ID, &v.CollectionID, &v.Text, &embeddingJSON, &metadata, &v.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(embeddingJSON), &v.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
		v.Metadata = rawOrNil(metadata)
		records = append(records, v)
	}
	return records, rows.Err()
}

var _ Store = (*LibSQLStore)(nil)

// --- Helpers ---

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
