package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maheshrc27/gramflow/internal/metrics"
	"github.com/maheshrc27/gramflow/internal/models"
	"github.com/maheshrc27/gramflow/internal/repository"
)

var (
	ErrNoTrigger      = errors.New("scheduler: no trigger for job")
	ErrAlreadyRunning = errors.New("scheduler: already running")
)

// Service is the in-process trigger engine. Triggers live in the Store so
// they survive restarts; the in-memory heap only mirrors them while running.
type Service struct {
	cfg     Config
	store   Store
	run     Handler
	misfire MisfireHandler
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	h        triggerHeap
	running  bool
	stopping chan struct{}
	done     chan struct{}
	baseCtx  context.Context

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMisfireHandler(h MisfireHandler) Option {
	return func(s *Service) { s.misfire = h }
}

func New(store Store, run Handler, cfg Config, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:   cfg,
		store: store,
		run:   run,
		log:   slog.Default(),
		now:   time.Now,
		wake:  make(chan struct{}, 1),
		sem:   make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "scheduler")
	return s
}

// Schedule upserts the job's trigger. Calling it again for the same job
// replaces the fire time; it never adds a second trigger.
func (s *Service) Schedule(ctx context.Context, jobID int64, fireAt time.Time) (*models.ScheduledTrigger, error) {
	t := &models.ScheduledTrigger{
		ID:     models.TriggerID(jobID),
		JobID:  jobID,
		FireAt: fireAt.UTC().Truncate(time.Microsecond),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Upsert(ctx, t); err != nil {
		return nil, fmt.Errorf("persist trigger %s: %w", t.ID, err)
	}
	if s.running {
		s.h.replace(*t)
		s.notify()
	}

	s.log.Info("trigger scheduled", "trigger_id", t.ID, "job_id", jobID, "fire_at", t.FireAt)
	return t, nil
}

// Cancel removes the job's trigger. It reports whether one existed; a missing
// trigger is not an error.
func (s *Service) Cancel(ctx context.Context, jobID int64) (bool, error) {
	id := models.TriggerID(jobID)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete trigger %s: %w", id, err)
	}
	if s.running && s.h.remove(id) {
		s.notify()
	}

	if removed {
		s.log.Info("trigger cancelled", "trigger_id", id, "job_id", jobID)
	}
	return removed, nil
}

func (s *Service) Lookup(ctx context.Context, jobID int64) (*models.ScheduledTrigger, error) {
	t, err := s.store.Get(ctx, models.TriggerID(jobID))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoTrigger
	}
	return t, err
}

func (s *Service) Triggers(ctx context.Context) ([]*models.ScheduledTrigger, error) {
	return s.store.List(ctx)
}

// Start loads persisted triggers and begins dispatching. Triggers overdue by
// more than the grace window go to the misfire handler and are consumed;
// overdue triggers inside the window fire right away.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	triggers, err := s.store.List(ctx)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load triggers: %w", err)
	}

	now := s.now()
	s.h = s.h[:0]
	var missed []models.ScheduledTrigger
	for _, t := range triggers {
		if IsMisfire(t.FireAt, now, s.cfg.MisfireGrace) {
			missed = append(missed, *t)
			continue
		}
		heap.Push(&s.h, *t)
	}

	s.running = true
	s.stopping = make(chan struct{})
	s.done = make(chan struct{})
	s.baseCtx = context.WithoutCancel(ctx)
	stopping, done := s.stopping, s.done
	s.mu.Unlock()

	for _, t := range missed {
		s.handleMisfire(t, now)
	}

	s.log.Info("scheduler started", "pending", len(triggers)-len(missed), "missed", len(missed),
		"max_concurrent", s.cfg.MaxConcurrent, "misfire_grace", s.cfg.MisfireGrace)

	go s.loop(stopping, done)
	return nil
}

// Stop halts dispatch and waits for in-flight executions until ctx expires.
// Persisted triggers are left untouched, including those that were popped but
// never got a worker slot.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopping)
	done := s.done
	s.mu.Unlock()

	<-done

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with executions in flight")
		return ctx.Err()
	}
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) loop(stopping <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		now := s.now()

		s.mu.Lock()
		var due []models.ScheduledTrigger
		for s.h.Len() > 0 && !s.h[0].FireAt.After(now) {
			due = append(due, heap.Pop(&s.h).(models.ScheduledTrigger))
		}
		wait := maxSleepCap
		if s.h.Len() > 0 {
			wait = min(max(s.h[0].FireAt.Sub(now), 0), maxSleepCap)
		}
		s.mu.Unlock()

		for _, t := range due {
			s.dispatch(t, now, stopping)
		}

		timer := time.NewTimer(wait)
		select {
		case <-stopping:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *Service) dispatch(t models.ScheduledTrigger, now time.Time, stopping <-chan struct{}) {
	s.wg.Add(1)

	if IsMisfire(t.FireAt, now, s.cfg.MisfireGrace) {
		go func() {
			defer s.wg.Done()
			if s.current(t) {
				s.handleMisfire(t, now)
			}
		}()
		return
	}

	go func() {
		defer s.wg.Done()

		select {
		case <-stopping:
			return
		case s.sem <- struct{}{}:
		}
		defer func() { <-s.sem }()

		select {
		case <-stopping:
			return
		default:
		}
		if !s.current(t) {
			return
		}
		metrics.TriggersFired.Inc()
		s.execute(t)
	}()
}

// current reports whether t is still the persisted trigger for its job. A
// trigger waiting for a worker slot may have been rescheduled or cancelled in
// the meantime; the replacement, if any, is already back in the heap.
func (s *Service) current(t models.ScheduledTrigger) bool {
	ctx, cancel := context.WithTimeout(s.execCtx(), 10*time.Second)
	defer cancel()

	stored, err := s.store.Get(ctx, t.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.log.Info("trigger cancelled before it got a worker", "trigger_id", t.ID, "job_id", t.JobID)
		return false
	case err != nil:
		// The job row CAS still prevents a double publish.
		s.log.Warn("could not re-check trigger, running it", "trigger_id", t.ID, "error", err)
		return true
	case !stored.FireAt.Equal(t.FireAt):
		s.log.Info("trigger rescheduled before it got a worker", "trigger_id", t.ID, "job_id", t.JobID,
			"fire_at", t.FireAt, "rescheduled_to", stored.FireAt)
		return false
	}
	return true
}

func (s *Service) execute(t models.ScheduledTrigger) {
	log := s.log.With("trigger_id", t.ID, "job_id", t.JobID, "execution_id", uuid.NewString())

	ctx, cancel := context.WithTimeout(s.execCtx(), s.cfg.ExecTimeout)
	defer cancel()

	metrics.ExecutionsInFlight.Inc()
	defer metrics.ExecutionsInFlight.Dec()

	start := time.Now()
	log.Info("trigger fired", "fire_at", t.FireAt, "lateness", start.Sub(t.FireAt))

	if err := s.safeRun(ctx, t.JobID); err != nil {
		log.Error("trigger execution failed", "error", err)
	}
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	s.consume(t, log)
}

func (s *Service) handleMisfire(t models.ScheduledTrigger, now time.Time) {
	lateness := now.Sub(t.FireAt)
	log := s.log.With("trigger_id", t.ID, "job_id", t.JobID)
	metrics.TriggersMisfired.Inc()
	log.Warn("trigger missed its grace window", "fire_at", t.FireAt, "lateness", lateness)

	if s.misfire != nil {
		ctx, cancel := context.WithTimeout(s.execCtx(), s.cfg.ExecTimeout)
		err := func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("misfire handler panic: %v", r)
				}
			}()
			return s.misfire(ctx, t.JobID, lateness)
		}()
		cancel()
		if err != nil {
			log.Error("misfire handler failed", "error", err)
		}
	}

	s.consume(t, log)
}

// consume deletes the trigger only if it still points at the fire time that
// ran, so a reschedule made during execution survives.
func (s *Service) consume(t models.ScheduledTrigger, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(s.execCtx(), 10*time.Second)
	defer cancel()

	ok, err := s.store.Consume(ctx, t.ID, t.FireAt)
	if err != nil {
		log.Error("failed to consume trigger", "error", err)
		return
	}
	if !ok {
		log.Debug("trigger changed during execution, keeping it")
	}
}

func (s *Service) execCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) safeRun(ctx context.Context, jobID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.run(ctx, jobID)
}
