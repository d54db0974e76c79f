// Package scheduler is the delayed-job facility behind every battle timeout.
// Jobs are one-shot timers dispatched to a small worker pool; delivery is
// at-least-once and never before the requested delay. There is no durable
// job store: a timeout that outlives the process is recovered by the
// idempotency checks in the handlers, not by the scheduler.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// JobKind names the phase a timeout belongs to.
type JobKind string

const (
	JobAcceptanceTimeout JobKind = "ACCEPTANCE_TIMEOUT"
	JobSelectionTimeout  JobKind = "SELECTION_TIMEOUT"
	JobQuestionTimeout   JobKind = "QUESTION_TIMEOUT"
)

// Job is the payload delivered to a timeout handler. TargetID is the entity
// the timeout guards (match participant, round participant or round
// question); ContextID carries the owning round participant for question
// timeouts and is zero otherwise.
type Job struct {
	ID        uuid.UUID
	Kind      JobKind
	TargetID  uuid.UUID
	ContextID uuid.UUID
}

// Handler resolves a fired job. Handlers never fail on expected races; an
// error here is an infrastructure failure and is logged and dropped.
type Handler func(ctx context.Context, job Job) error

// Scheduler is the port the orchestration components schedule timeouts
// through. Cancel is optional in the design; idempotent handlers make a
// late-firing job a silent no-op.
type Scheduler interface {
	Schedule(delay time.Duration, job Job) uuid.UUID
	Cancel(jobID uuid.UUID)
}

// TimerScheduler implements Scheduler on one-shot clock timers and a worker
// pool.
type TimerScheduler struct {
	clock      clockwork.Clock
	numWorkers int
	workCh     chan Job

	handlers   map[JobKind]Handler
	handlersMu sync.RWMutex

	timers   map[uuid.UUID]clockwork.Timer
	timersMu sync.Mutex

	done chan struct{}
}

func NewTimerScheduler(clock clockwork.Clock, numWorkers int) *TimerScheduler {
	return &TimerScheduler{
		clock:      clock,
		numWorkers: numWorkers,
		workCh:     make(chan Job, numWorkers*2),
		handlers:   make(map[JobKind]Handler),
		timers:     make(map[uuid.UUID]clockwork.Timer),
		done:       make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job kind. Must be called before Run.
func (s *TimerScheduler) RegisterHandler(kind JobKind, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[kind] = h
}

// Schedule arms a one-shot timer for the job and returns the job ID.
func (s *TimerScheduler) Schedule(delay time.Duration, job Job) uuid.UUID {
	job.ID = uuid.New()

	timer := s.clock.NewTimer(delay)
	s.timersMu.Lock()
	s.timers[job.ID] = timer
	s.timersMu.Unlock()

	go func() {
		select {
		case <-timer.Chan():
			s.removeTimer(job.ID)
			select {
			case s.workCh <- job:
			case <-s.done:
				log.Debug().Str("job_id", job.ID.String()).Msg("scheduler stopped, dropping fired job")
			}
		case <-s.done:
			stopAndDrainTimer(timer)
			s.removeTimer(job.ID)
		}
	}()

	log.Debug().
		Str("job_id", job.ID.String()).
		Str("kind", string(job.Kind)).
		Str("target_id", job.TargetID.String()).
		Dur("delay", delay).
		Msg("scheduled timeout job")
	return job.ID
}

// Cancel disarms a pending job. Cancelling an already fired or unknown job
// is a no-op.
func (s *TimerScheduler) Cancel(jobID uuid.UUID) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	if timer, ok := s.timers[jobID]; ok {
		stopAndDrainTimer(timer)
		delete(s.timers, jobID)
		log.Debug().Str("job_id", jobID.String()).Msg("cancelled timeout job")
	}
}

// Run blocks until ctx is cancelled, dispatching fired jobs to workers.
func (s *TimerScheduler) Run(ctx context.Context) error {
	log.Info().Int("workers", s.numWorkers).Msg("timeout scheduler started")

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, i)
	}

	<-ctx.Done()
	close(s.done)

	s.timersMu.Lock()
	for id, timer := range s.timers {
		stopAndDrainTimer(timer)
		delete(s.timers, id)
	}
	s.timersMu.Unlock()

	wg.Wait()
	log.Info().Msg("timeout scheduler stopped")
	return nil
}

func (s *TimerScheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.workCh:
			s.handlersMu.RLock()
			h, ok := s.handlers[job.Kind]
			s.handlersMu.RUnlock()
			if !ok {
				log.Warn().
					Str("kind", string(job.Kind)).
					Str("job_id", job.ID.String()).
					Msg("no handler for job kind, dropping")
				continue
			}

			if err := h(ctx, job); err != nil {
				log.Error().
					Err(err).
					Str("kind", string(job.Kind)).
					Str("job_id", job.ID.String()).
					Str("target_id", job.TargetID.String()).
					Int("worker_id", workerID).
					Msg("timeout handler failed")
			}
		}
	}
}

func (s *TimerScheduler) removeTimer(jobID uuid.UUID) {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	delete(s.timers, jobID)
}

// stopAndDrainTimer stops a timer and drains its channel so the firing
// goroutine cannot leak, per the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
