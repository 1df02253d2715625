package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowline/internal/store"
	"github.com/rendis/flowline/internal/streaming"
	"github.com/rendis/flowline/pkg/schema"
)

const resyncInterval = 60 * time.Second

// Runner executes a workflow or pipeline by id. Satisfied by the workflow
// and pipeline executors.
type Runner interface {
	Run(ctx context.Context, id string, input any, userID string) (*schema.RunResult, error)
}

// handle is one live cron entry. The parsed schedule stays around so fires
// can recompute the next run without reparsing.
type handle struct {
	cron     *cron.Cron
	sched    cron.Schedule
	spec     string
	timezone string
}

// Scheduler keeps one cron instance per enabled schedule and resyncs the
// live set against the store every minute. Fire errors are logged, never
// propagated.
type Scheduler struct {
	store     store.Store
	workflows Runner
	pipelines Runner
	hub       streaming.EventHub
	logger    *slog.Logger
	parser    cron.Parser

	mu      sync.Mutex
	handles map[string]*handle

	reload chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Standard five-field cron expressions only.
func New(s store.Store, workflows, pipelines Runner, hub streaming.EventHub, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     s,
		workflows: workflows,
		pipelines: pipelines,
		hub:       hub,
		logger:    logger,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		handles:   map[string]*handle{},
		reload:    make(chan struct{}, 1),
	}
}

// Start syncs immediately, then keeps the live set in step with the store
// until Stop is called or the context ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.sync(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(resyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sync(ctx)
			case <-s.reload:
				s.sync(ctx)
			}
		}
	}()
}

// Reload requests an immediate resync. Non-blocking; coalesces with a
// pending request.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// StopSchedule releases the live handle for one schedule. The store record
// is untouched.
func (s *Scheduler) StopSchedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(id)
}

// Stop tears down every handle and the resync loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.handles {
		s.release(id)
	}
}

// release stops one cron instance. Caller holds the lock.
func (s *Scheduler) release(id string) {
	h, ok := s.handles[id]
	if !ok {
		return
	}
	h.cron.Stop()
	delete(s.handles, id)
	s.logger.Info("schedule stopped", slog.String("schedule_id", id))
}

// sync reconciles live handles against the enabled schedules in the store.
// A schedule with an invalid cron expression or timezone is rejected and
// logged; the rest of the sync proceeds.
func (s *Scheduler) sync(ctx context.Context) {
	enabled := true
	schedules, err := s.store.ListSchedules(ctx, store.ScheduleFilter{Enabled: &enabled})
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule sync failed", slog.String("error", err.Error()))
		return
	}

	want := make(map[string]*store.Schedule, len(schedules))
	for _, sc := range schedules {
		want[sc.ID] = sc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, h := range s.handles {
		sc, keep := want[id]
		if !keep || sc.CronExpression != h.spec || sc.Timezone != h.timezone {
			s.release(id)
		}
	}

	for id, sc := range want {
		if _, live := s.handles[id]; live {
			continue
		}
		if err := s.register(ctx, sc); err != nil {
			s.logger.ErrorContext(ctx, "schedule rejected",
				slog.String("schedule_id", id),
				slog.String("cron", sc.CronExpression),
				slog.String("error", err.Error()))
		}
	}
}

// register validates and starts one cron handle. Caller holds the lock.
func (s *Scheduler) register(ctx context.Context, sc *store.Schedule) error {
	sched, err := s.parser.Parse(sc.CronExpression)
	if err != nil {
		return err
	}

	loc := time.UTC
	if sc.Timezone != "" {
		loc, err = time.LoadLocation(sc.Timezone)
		if err != nil {
			return err
		}
	}

	next := sched.Next(time.Now().In(loc))
	if err := s.store.UpdateSchedule(ctx, sc.ID, store.ScheduleUpdate{NextRunAt: &next}); err != nil {
		s.logger.ErrorContext(ctx, "persist next run failed",
			slog.String("schedule_id", sc.ID), slog.String("error", err.Error()))
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	id := sc.ID
	if _, err := c.AddFunc(sc.CronExpression, func() { s.fire(id) }); err != nil {
		return err
	}
	c.Start()

	s.handles[sc.ID] = &handle{cron: c, sched: sched, spec: sc.CronExpression, timezone: sc.Timezone}
	s.logger.InfoContext(ctx, "schedule registered",
		slog.String("schedule_id", sc.ID),
		slog.String("cron", sc.CronExpression),
		slog.Time("next_run", next))
	return nil
}

// fire runs one scheduled execution. The schedule is re-read so a disable
// between sync and fire is honored.
func (s *Scheduler) fire(id string) {
	ctx := context.Background()

	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		s.logger.ErrorContext(ctx, "schedule fire: load failed",
			slog.String("schedule_id", id), slog.String("error", err.Error()))
		return
	}
	if sc == nil || !sc.Enabled {
		return
	}

	now := time.Now().UTC()
	update := store.ScheduleUpdate{LastRunAt: &now}
	s.mu.Lock()
	if h, ok := s.handles[id]; ok {
		next := h.sched.Next(now)
		update.NextRunAt = &next
	}
	s.mu.Unlock()
	if err := s.store.UpdateSchedule(ctx, id, update); err != nil {
		s.logger.ErrorContext(ctx, "schedule fire: persist failed",
			slog.String("schedule_id", id), slog.String("error", err.Error()))
	}

	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		EventType:  schema.EventScheduleFired,
		ResourceID: sc.ResourceID,
		UserID:     sc.UserID,
	})
	s.logger.InfoContext(ctx, "schedule fired",
		slog.String("schedule_id", id),
		slog.String("resource_type", string(sc.ResourceType)),
		slog.String("resource_id", sc.ResourceID))

	result, err := s.dispatch(ctx, sc)
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled run failed",
			slog.String("schedule_id", id), slog.String("error", err.Error()))
	case !result.Success:
		s.logger.ErrorContext(ctx, "scheduled run failed",
			slog.String("schedule_id", id), slog.String("error", result.Error))
	}
}

func (s *Scheduler) dispatch(ctx context.Context, sc *store.Schedule) (*schema.RunResult, error) {
	switch sc.ResourceType {
	case schema.ResourceWorkflow:
		return s.workflows.Run(ctx, sc.ResourceID, nil, sc.UserID)
	case schema.ResourcePipeline:
		return s.pipelines.Run(ctx, sc.ResourceID, nil, sc.UserID)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown resource type %q", sc.ResourceType)
	}
}
